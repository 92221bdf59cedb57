package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "knitroom:presence:"

	// maxTxAttempts bounds optimistic WATCH/MULTI retries under contention.
	maxTxAttempts = 16
)

// ErrContention is returned when a transaction kept losing the WATCH race.
var ErrContention = errors.New("presence: too much contention")

// RedisStore keeps presence in one Redis hash per room, field = user id, so every
// coordinator instance sees the same live set.
type RedisStore struct {
	rdb redis.UniversalClient
}

func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func roomKey(roomID string) string {
	return keyPrefix + roomID
}

func decodeRoom(raw map[string]string) (map[string]Entry, error) {
	out := make(map[string]Entry, len(raw))
	for uid, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("decode presence entry %s: %w", uid, err)
		}
		out[uid] = e
	}
	return out, nil
}

// update runs fn on the room's current entries inside WATCH/MULTI and retries when
// another writer touched the hash first.
func (s *RedisStore) update(ctx context.Context, roomID string, fn func(tx *redis.Tx, room map[string]Entry) error) error {
	key := roomKey(roomID)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		room, err := decodeRoom(raw)
		if err != nil {
			return err
		}
		return fn(tx, room)
	}

	for range maxTxAttempts {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func (s *RedisStore) Add(ctx context.Context, roomID string, e Entry, capacity int) (*Entry, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	var replaced *Entry
	err = s.update(ctx, roomID, func(tx *redis.Tx, room map[string]Entry) error {
		prev, err := admit(room, e, capacity)
		if err != nil {
			return err
		}
		replaced = prev

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, roomKey(roomID), e.UserID, val)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *RedisStore) Remove(ctx context.Context, roomID, connectionID string) (*Entry, error) {
	var removed *Entry
	err := s.update(ctx, roomID, func(tx *redis.Tx, room map[string]Entry) error {
		removed = nil
		for _, e := range room {
			if e.ConnectionID == connectionID {
				removed = &e
				break
			}
		}
		if removed == nil {
			return nil
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, roomKey(roomID), removed.UserID)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *RedisStore) RemoveUser(ctx context.Context, roomID, userID string) (*Entry, error) {
	var removed *Entry
	err := s.update(ctx, roomID, func(tx *redis.Tx, room map[string]Entry) error {
		removed = nil
		e, ok := room[userID]
		if !ok {
			return nil
		}
		removed = &e

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, roomKey(roomID), userID)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *RedisStore) Members(ctx context.Context, roomID string) ([]Entry, error) {
	raw, err := s.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	room, err := decodeRoom(raw)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(room))
	for _, e := range room {
		entries = append(entries, e)
	}
	sortEntries(entries)
	return entries, nil
}

func (s *RedisStore) Count(ctx context.Context, roomID string) (int, error) {
	n, err := s.rdb.HLen(ctx, roomKey(roomID)).Result()
	return int(n), err
}

func (s *RedisStore) Lookup(ctx context.Context, roomID, userID string) (Entry, bool, error) {
	v, err := s.rdb.HGet(ctx, roomKey(roomID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var e Entry
	if err := json.Unmarshal([]byte(v), &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode presence entry %s: %w", userID, err)
	}
	return e, true, nil
}

func (s *RedisStore) SetHost(ctx context.Context, roomID, userID string, isHost bool) error {
	return s.update(ctx, roomID, func(tx *redis.Tx, room map[string]Entry) error {
		e, ok := room[userID]
		if !ok {
			return nil
		}
		e.IsHost = isHost
		val, err := json.Marshal(e)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, roomKey(roomID), userID, val)
			return nil
		})
		return err
	})
}

func (s *RedisStore) Clear(ctx context.Context, roomID string) ([]Entry, error) {
	var cleared []Entry
	err := s.update(ctx, roomID, func(tx *redis.Tx, room map[string]Entry) error {
		cleared = cleared[:0]
		for _, e := range room {
			cleared = append(cleared, e)
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, roomKey(roomID))
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	sortEntries(cleared)
	return cleared, nil
}
