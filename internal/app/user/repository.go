package user

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no user exists for an id.
var ErrNotFound = errors.New("user not found")

// Repository is the durable store of user profiles.
type Repository interface {
	// Get returns the user with id, or ErrNotFound.
	Get(ctx context.Context, id string) (User, error)

	// Create stores a new user. An empty ID is assigned by the store.
	Create(ctx context.Context, u User) (User, error)

	// UpdateProfile replaces the display name and avatar key.
	UpdateProfile(ctx context.Context, id, name, avatar string) (User, error)

	// ApplyProgress reads the user's progress, applies fn and stores the result
	// as one serialized read-modify-write.
	ApplyProgress(ctx context.Context, id string, fn func(Progress) Progress) (User, error)
}
