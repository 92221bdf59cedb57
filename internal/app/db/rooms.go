package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knitroom/internal/app/room"
)

// RoomStore is the PostgreSQL room.Repository.
type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

const selectRoom = `
SELECT id, title, description, thumbnail, is_private, password_digest, created_by, version, created_at
FROM rooms WHERE id = $1`

func (s *RoomStore) Create(ctx context.Context, r *room.Room) (*room.Room, error) {
	var out *room.Room

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
INSERT INTO rooms (title, description, thumbnail, is_private, password_digest, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
			r.Title, r.Description, r.Thumbnail, r.IsPrivate, r.PasswordDigest, r.CreatedBy,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}

		for _, m := range r.Roster {
			if _, err := tx.Exec(ctx,
				`INSERT INTO room_members (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
				id, m.UserID, string(m.Role), m.JoinedAt,
			); err != nil {
				return fmt.Errorf("insert room member: %w", err)
			}
		}

		out, err = loadRoom(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RoomStore) Get(ctx context.Context, id string) (*room.Room, error) {
	var out *room.Room

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		out, err = loadRoom(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RoomStore) List(ctx context.Context) ([]room.Summary, error) {
	rows, err := s.pool.Query(ctx, `
SELECT r.id, r.title, r.description, r.thumbnail, r.is_private,
       (SELECT count(*) FROM room_members m WHERE m.room_id = r.id)
FROM rooms r
ORDER BY r.created_at DESC, r.id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (room.Summary, error) {
		var sum room.Summary
		err := row.Scan(&sum.ID, &sum.Title, &sum.Description, &sum.Thumbnail, &sum.IsPrivate, &sum.Knitters)
		return sum, err
	})
}

// mutate bumps the room version if it still equals expectedVersion, then lets fn
// apply its statements inside the same transaction. The conditional UPDATE holds
// the row lock, so concurrent mutations of one room are serialized.
func (s *RoomStore) mutate(ctx context.Context, roomID string, expectedVersion int64, fn func(tx pgx.Tx, r *room.Room) error) (*room.Room, error) {
	var out *room.Room

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE rooms SET version = version + 1 WHERE id = $1 AND version = $2`,
			roomID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("bump room version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missingOrStale(ctx, tx, roomID)
		}

		r, err := loadRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if err := fn(tx, r); err != nil {
			return err
		}

		out, err = loadRoom(ctx, tx, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RoomStore) AddMember(ctx context.Context, roomID string, m room.Membership, expectedVersion int64) (*room.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, func(tx pgx.Tx, r *room.Room) error {
		if r.IsBlocked(m.UserID) {
			return room.ErrBlocked
		}
		if _, ok := r.Member(m.UserID); ok {
			return nil
		}

		role := m.Role
		if _, hasHost := r.Host(); hasHost || role == "" {
			role = room.RoleMember
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO room_members (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			roomID, m.UserID, string(role), m.JoinedAt,
		)
		if IsUniqueViolation(err) {
			return room.ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert room member: %w", err)
		}
		return nil
	})
}

func (s *RoomStore) RemoveMember(ctx context.Context, roomID, userID string, expectedVersion int64) (*room.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, func(tx pgx.Tx, r *room.Room) error {
		if r.IsHost(userID) {
			return room.ErrConflict
		}
		return deleteMember(ctx, tx, roomID, userID)
	})
}

func (s *RoomStore) ReassignHost(ctx context.Context, roomID, currentHost, successor string, expectedVersion int64) (*room.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, func(tx pgx.Tx, r *room.Room) error {
		host, hasHost := r.Host()
		switch {
		case currentHost == "" && hasHost:
			return room.ErrConflict
		case currentHost != "" && (!hasHost || host.UserID != currentHost):
			return room.ErrConflict
		}

		if currentHost != "" {
			if err := deleteMember(ctx, tx, roomID, currentHost); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx,
			`UPDATE room_members SET role = 'Host' WHERE room_id = $1 AND user_id = $2`,
			roomID, successor,
		)
		if err != nil {
			return fmt.Errorf("promote host: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return room.ErrNotMember
		}
		return nil
	})
}

func (s *RoomStore) Kick(ctx context.Context, roomID, target string, expectedVersion int64) (*room.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, func(tx pgx.Tx, r *room.Room) error {
		if r.IsHost(target) {
			return room.ErrConflict
		}
		if err := deleteMember(ctx, tx, roomID, target); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO room_blocks (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			roomID, target,
		)
		if err != nil {
			return fmt.Errorf("insert room block: %w", err)
		}
		return nil
	})
}

func (s *RoomStore) Delete(ctx context.Context, roomID string, expectedVersion int64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1 AND version = $2`, roomID, expectedVersion)
		if err != nil {
			return fmt.Errorf("delete room: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return missingOrStale(ctx, tx, roomID)
		}
		return nil
	})
}

func deleteMember(ctx context.Context, tx pgx.Tx, roomID, userID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete room member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return room.ErrNotMember
	}
	return nil
}

// missingOrStale tells a deleted room apart from a version mismatch.
func missingOrStale(ctx context.Context, tx pgx.Tx, roomID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists); err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if !exists {
		return room.ErrNotFound
	}
	return room.ErrConflict
}

func loadRoom(ctx context.Context, tx pgx.Tx, id string) (*room.Room, error) {
	r := &room.Room{}
	err := tx.QueryRow(ctx, selectRoom, id).Scan(
		&r.ID, &r.Title, &r.Description, &r.Thumbnail, &r.IsPrivate,
		&r.PasswordDigest, &r.CreatedBy, &r.Version, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, room.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id, role, joined_at FROM room_members WHERE room_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("select room members: %w", err)
	}
	r.Roster, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (room.Membership, error) {
		var (
			m    room.Membership
			role string
		)
		err := row.Scan(&m.UserID, &role, &m.JoinedAt)
		m.Role = room.Role(role)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan room members: %w", err)
	}

	rows, err = tx.Query(ctx, `SELECT user_id FROM room_blocks WHERE room_id = $1 ORDER BY blocked_at`, id)
	if err != nil {
		return nil, fmt.Errorf("select room blocks: %w", err)
	}
	r.BlockList, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan room blocks: %w", err)
	}

	return r, nil
}
