package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository for development and tests.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]User
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]User)}
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryRepository) Create(ctx context.Context, u User) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryRepository) UpdateProfile(ctx context.Context, id, name, avatar string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	u.Name = name
	u.Avatar = avatar
	m.users[id] = u
	return u, nil
}

func (m *MemoryRepository) ApplyProgress(ctx context.Context, id string, fn func(Progress) Progress) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	p := fn(u.Progress())
	u.Level, u.Experience = p.Level, p.Experience
	m.users[id] = u
	return u, nil
}
