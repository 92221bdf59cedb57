/*
Package room holds the durable room model: the roster of everyone ever admitted,
the block list, and the rules that keep exactly one Host on a non-empty roster.
*/
package room

import (
	"slices"
	"time"
)

// Role is a roster member's authority within a room.
type Role string

const (
	RoleHost   Role = "Host"
	RoleMember Role = "Member"
)

// Membership is one roster entry.
type Membership struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is the durable room document.
type Room struct {
	ID             string
	Title          string
	Description    string
	Thumbnail      string
	IsPrivate      bool
	PasswordDigest string
	CreatedBy      string
	Roster         []Membership
	BlockList      []string
	Version        int64
	CreatedAt      time.Time
}

// Summary is the listing view of a room.
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
	Knitters    int    `json:"knitters"`
}

// Member returns the roster entry of userID.
func (r *Room) Member(userID string) (Membership, bool) {
	for _, m := range r.Roster {
		if m.UserID == userID {
			return m, true
		}
	}
	return Membership{}, false
}

// IsHost reports whether userID holds the Host role on the roster.
func (r *Room) IsHost(userID string) bool {
	m, ok := r.Member(userID)
	return ok && m.Role == RoleHost
}

// Host returns the roster entry holding the Host role.
func (r *Room) Host() (Membership, bool) {
	for _, m := range r.Roster {
		if m.Role == RoleHost {
			return m, true
		}
	}
	return Membership{}, false
}

// IsBlocked reports whether userID is on the block list.
func (r *Room) IsBlocked(userID string) bool {
	return slices.Contains(r.BlockList, userID)
}

// NextHost picks the successor when leaving departs: the remaining member with the
// earliest JoinedAt, ties going to the earlier roster position.
func (r *Room) NextHost(leaving string) (Membership, bool) {
	var (
		next  Membership
		found bool
	)

	for _, m := range r.Roster {
		if m.UserID == leaving {
			continue
		}
		if !found || m.JoinedAt.Before(next.JoinedAt) {
			next = m
			found = true
		}
	}

	return next, found
}

// Summary returns the listing view of r.
func (r *Room) Summary() Summary {
	return Summary{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		Thumbnail:   r.Thumbnail,
		IsPrivate:   r.IsPrivate,
		Knitters:    len(r.Roster),
	}
}

// Clone returns a deep copy of r.
func (r *Room) Clone() *Room {
	c := *r
	c.Roster = slices.Clone(r.Roster)
	c.BlockList = slices.Clone(r.BlockList)
	return &c
}

// removeMember drops userID from the roster and reports whether it was present.
func (r *Room) removeMember(userID string) bool {
	before := len(r.Roster)
	r.Roster = slices.DeleteFunc(r.Roster, func(m Membership) bool {
		return m.UserID == userID
	})
	return len(r.Roster) != before
}

// setRole changes the role of userID and reports whether it was present.
func (r *Room) setRole(userID string, role Role) bool {
	for i := range r.Roster {
		if r.Roster[i].UserID == userID {
			r.Roster[i].Role = role
			return true
		}
	}
	return false
}
