package presence

import (
	"context"
	"sync"
)

// MemoryStore keeps presence in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]Entry)}
}

func (s *MemoryStore) Add(ctx context.Context, roomID string, e Entry, capacity int) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room := s.rooms[roomID]
	if room == nil {
		room = make(map[string]Entry)
		s.rooms[roomID] = room
	}

	replaced, err := admit(room, e, capacity)
	if err != nil {
		return nil, err
	}
	room[e.UserID] = e
	return replaced, nil
}

func (s *MemoryStore) Remove(ctx context.Context, roomID, connectionID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for uid, e := range s.rooms[roomID] {
		if e.ConnectionID == connectionID {
			s.drop(roomID, uid)
			return &e, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) RemoveUser(ctx context.Context, roomID, userID string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[roomID][userID]
	if !ok {
		return nil, nil
	}
	s.drop(roomID, userID)
	return &e, nil
}

func (s *MemoryStore) drop(roomID, userID string) {
	delete(s.rooms[roomID], userID)
	if len(s.rooms[roomID]) == 0 {
		delete(s.rooms, roomID)
	}
}

func (s *MemoryStore) Members(ctx context.Context, roomID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries := make([]Entry, 0, len(s.rooms[roomID]))
	for _, e := range s.rooms[roomID] {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sortEntries(entries)
	return entries, nil
}

func (s *MemoryStore) Count(ctx context.Context, roomID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[roomID]), nil
}

func (s *MemoryStore) Lookup(ctx context.Context, roomID, userID string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rooms[roomID][userID]
	return e, ok, nil
}

func (s *MemoryStore) SetHost(ctx context.Context, roomID, userID string, isHost bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.rooms[roomID][userID]; ok {
		e.IsHost = isHost
		s.rooms[roomID][userID] = e
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, roomID string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries := make([]Entry, 0, len(s.rooms[roomID]))
	for _, e := range s.rooms[roomID] {
		entries = append(entries, e)
	}
	delete(s.rooms, roomID)
	s.mu.Unlock()

	sortEntries(entries)
	return entries, nil
}
