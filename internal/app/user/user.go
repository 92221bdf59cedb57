/*
Package user contains the user profile model, the experience/level progression rules,
and the repository contract used to look profiles up and persist progress.
*/
package user

import (
	"math"
	"time"
)

// ExperiencePerLevel is the experience needed to gain one level.
const ExperiencePerLevel = 100.0

// User is the durable profile of a signed-in person.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Level      int       `json:"level"`
	Experience float64   `json:"experience"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Progress is the level/experience pair mutated by session accrual.
type Progress struct {
	Level      int
	Experience float64
}

// Progress returns the user's current progress.
func (u User) Progress() Progress {
	return Progress{Level: u.Level, Experience: u.Experience}
}

// Curve converts time spent in a room into experience.
// The gain for a session is PerHour * hours / LevelBase^level, so every level
// needs LevelBase times longer than the previous one.
type Curve struct {
	PerHour   float64
	LevelBase float64
}

// Gain returns the experience earned for a session of length d at level.
func (c Curve) Gain(d time.Duration, level int) float64 {
	if d <= 0 || c.PerHour <= 0 {
		return 0
	}

	base := c.LevelBase
	if base < 1 {
		base = 1
	}

	return c.PerHour * d.Hours() / math.Pow(base, float64(level))
}

// Accrue adds gain to p and rolls experience over into levels.
func Accrue(p Progress, gain float64) Progress {
	if gain <= 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return p
	}

	p.Experience += gain
	for p.Experience >= ExperiencePerLevel {
		p.Level++
		p.Experience -= ExperiencePerLevel
	}

	return p
}
