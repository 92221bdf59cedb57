/*
Package presence tracks who is live in each room right now.

Entries are keyed by (room, user): a reconnecting user replaces their own entry,
and the store is the authority for broadcast targets and room capacity.
*/
package presence

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"
)

// ErrRoomFull is returned by Add when the room is at capacity.
var ErrRoomFull = errors.New("room is full")

// Entry is one live member of a room.
type Entry struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar,omitempty"`
	Level        int       `json:"level"`
	JoinedAt     time.Time `json:"joinedAt"`
	IsHost       bool      `json:"isHost"`
}

// Store is the presence contract. Every method is atomic per room.
type Store interface {
	// Add inserts e unless the room already holds capacity other users. An existing
	// entry for the same user is replaced and returned.
	Add(ctx context.Context, roomID string, e Entry, capacity int) (*Entry, error)

	// Remove deletes the entry owned by connectionID. It returns nil when the
	// connection holds no entry, for example after being replaced.
	Remove(ctx context.Context, roomID, connectionID string) (*Entry, error)

	// RemoveUser deletes the entry of userID regardless of connection.
	RemoveUser(ctx context.Context, roomID, userID string) (*Entry, error)

	// Members returns the room's entries ordered by join time.
	Members(ctx context.Context, roomID string) ([]Entry, error)

	Count(ctx context.Context, roomID string) (int, error)

	Lookup(ctx context.Context, roomID, userID string) (Entry, bool, error)

	// SetHost updates the host flag of userID's entry, if present.
	SetHost(ctx context.Context, roomID, userID string, isHost bool) error

	// Clear drops the room's presence and returns what it held.
	Clear(ctx context.Context, roomID string) ([]Entry, error)
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
}

// admit applies the capacity and replacement rule shared by every Store.
func admit(existing map[string]Entry, e Entry, capacity int) (*Entry, error) {
	if prev, ok := existing[e.UserID]; ok {
		return &prev, nil
	}
	if capacity > 0 && len(existing) >= capacity {
		return nil, ErrRoomFull
	}
	return nil, nil
}
