package room

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository for development and tests.
// It enforces the same version and roster rules as the PostgreSQL store.
type MemoryRepository struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rooms: make(map[string]*Room)}
}

func (m *MemoryRepository) Create(ctx context.Context, r *Room) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := r.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.Version = 1

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rooms[stored.ID]; exists {
		return nil, fmt.Errorf("create room %s: already exists", stored.ID)
	}
	m.rooms[stored.ID] = stored
	return stored.Clone(), nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryRepository) List(ctx context.Context) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	slices.SortFunc(rooms, func(a, b *Room) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	return out, nil
}

// mutate runs fn against the stored room when expectedVersion matches.
func (m *MemoryRepository) mutate(ctx context.Context, roomID string, expectedVersion int64, fn func(r *Room) error) (*Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Version != expectedVersion {
		return nil, ErrConflict
	}

	next := stored.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++
	m.rooms[roomID] = next
	return next.Clone(), nil
}

func (m *MemoryRepository) AddMember(ctx context.Context, roomID string, mb Membership, expectedVersion int64) (*Room, error) {
	return m.mutate(ctx, roomID, expectedVersion, func(r *Room) error {
		if r.IsBlocked(mb.UserID) {
			return ErrBlocked
		}
		if _, ok := r.Member(mb.UserID); ok {
			return nil
		}
		if mb.Role == RoleHost {
			if _, hasHost := r.Host(); hasHost {
				mb.Role = RoleMember
			}
		}
		r.Roster = append(r.Roster, mb)
		return nil
	})
}

func (m *MemoryRepository) RemoveMember(ctx context.Context, roomID, userID string, expectedVersion int64) (*Room, error) {
	return m.mutate(ctx, roomID, expectedVersion, func(r *Room) error {
		if r.IsHost(userID) {
			return ErrConflict
		}
		if !r.removeMember(userID) {
			return ErrNotMember
		}
		return nil
	})
}

func (m *MemoryRepository) ReassignHost(ctx context.Context, roomID, currentHost, successor string, expectedVersion int64) (*Room, error) {
	return m.mutate(ctx, roomID, expectedVersion, func(r *Room) error {
		host, hasHost := r.Host()
		switch {
		case currentHost == "" && hasHost:
			return ErrConflict
		case currentHost != "" && (!hasHost || host.UserID != currentHost):
			return ErrConflict
		}

		if currentHost != "" {
			r.removeMember(currentHost)
		}
		if !r.setRole(successor, RoleHost) {
			return ErrNotMember
		}
		return nil
	})
}

func (m *MemoryRepository) Kick(ctx context.Context, roomID, target string, expectedVersion int64) (*Room, error) {
	return m.mutate(ctx, roomID, expectedVersion, func(r *Room) error {
		if r.IsHost(target) {
			return ErrConflict
		}
		if !r.removeMember(target) {
			return ErrNotMember
		}
		if !r.IsBlocked(target) {
			r.BlockList = append(r.BlockList, target)
		}
		return nil
	})
}

func (m *MemoryRepository) Delete(ctx context.Context, roomID string, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConflict
	}
	delete(m.rooms, roomID)
	return nil
}
