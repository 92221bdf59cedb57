package room

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no room exists for an id.
	ErrNotFound = errors.New("room not found")

	// ErrConflict is returned when the room changed since the version the caller read.
	ErrConflict = errors.New("room version conflict")

	// ErrBlocked is returned when a blocked user would be added to the roster.
	ErrBlocked = errors.New("user is blocked from room")

	// ErrNotMember is returned when the addressed user is not on the roster.
	ErrNotMember = errors.New("user is not a room member")
)

// Repository is the durable room store. Every mutation is conditioned on the
// version the caller read and bumps it on success; a stale version yields ErrConflict.
type Repository interface {
	// Create stores a new room whose roster holds its creator as Host.
	Create(ctx context.Context, r *Room) (*Room, error)

	// Get returns the room with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Room, error)

	// List returns summaries of all rooms, newest first.
	List(ctx context.Context) ([]Summary, error)

	// AddMember appends m to the roster. Blocked users get ErrBlocked; users already
	// on the roster leave it unchanged.
	AddMember(ctx context.Context, roomID string, m Membership, expectedVersion int64) (*Room, error)

	// RemoveMember drops a non-host member from the roster.
	RemoveMember(ctx context.Context, roomID, userID string, expectedVersion int64) (*Room, error)

	// ReassignHost removes currentHost from the roster and promotes successor.
	// It fails with ErrConflict unless currentHost is the Host on record; an empty
	// currentHost means "the roster has no Host" and is used to repair that state.
	ReassignHost(ctx context.Context, roomID, currentHost, successor string, expectedVersion int64) (*Room, error)

	// Kick moves target from the roster to the block list. ErrNotMember if absent.
	Kick(ctx context.Context, roomID, target string, expectedVersion int64) (*Room, error)

	// Delete removes the room.
	Delete(ctx context.Context, roomID string, expectedVersion int64) error
}
