package chat

import (
	"context"
	"time"

	"knitroom/internal/app/presence"
	"knitroom/internal/app/room"
	"knitroom/internal/app/user"
)

// The timed* wrappers give every store call its own deadline.

var (
	_ room.Repository = timedRooms{}
	_ user.Repository = timedUsers{}
	_ presence.Store  = timedPresence{}
)

type timedRooms struct {
	room.Repository
	timeout time.Duration
}

func (t timedRooms) Get(ctx context.Context, id string) (*room.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.Get(ctx, id)
}

func (t timedRooms) AddMember(ctx context.Context, roomID string, m room.Membership, v int64) (*room.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.AddMember(ctx, roomID, m, v)
}

func (t timedRooms) RemoveMember(ctx context.Context, roomID, userID string, v int64) (*room.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.RemoveMember(ctx, roomID, userID, v)
}

func (t timedRooms) ReassignHost(ctx context.Context, roomID, current, successor string, v int64) (*room.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.ReassignHost(ctx, roomID, current, successor, v)
}

func (t timedRooms) Kick(ctx context.Context, roomID, target string, v int64) (*room.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.Kick(ctx, roomID, target, v)
}

func (t timedRooms) Delete(ctx context.Context, roomID string, v int64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.Delete(ctx, roomID, v)
}

type timedUsers struct {
	user.Repository
	timeout time.Duration
}

func (t timedUsers) Get(ctx context.Context, id string) (user.User, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.Get(ctx, id)
}

func (t timedUsers) ApplyProgress(ctx context.Context, id string, fn func(user.Progress) user.Progress) (user.User, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Repository.ApplyProgress(ctx, id, fn)
}

type timedPresence struct {
	presence.Store
	timeout time.Duration
}

func (t timedPresence) Add(ctx context.Context, roomID string, e presence.Entry, capacity int) (*presence.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Add(ctx, roomID, e, capacity)
}

func (t timedPresence) Remove(ctx context.Context, roomID, connectionID string) (*presence.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Remove(ctx, roomID, connectionID)
}

func (t timedPresence) RemoveUser(ctx context.Context, roomID, userID string) (*presence.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.RemoveUser(ctx, roomID, userID)
}

func (t timedPresence) Members(ctx context.Context, roomID string) ([]presence.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Members(ctx, roomID)
}

func (t timedPresence) Count(ctx context.Context, roomID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Count(ctx, roomID)
}

func (t timedPresence) Lookup(ctx context.Context, roomID, userID string) (presence.Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Lookup(ctx, roomID, userID)
}

func (t timedPresence) SetHost(ctx context.Context, roomID, userID string, isHost bool) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.SetHost(ctx, roomID, userID, isHost)
}

func (t timedPresence) Clear(ctx context.Context, roomID string) ([]presence.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Store.Clear(ctx, roomID)
}
