package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"knitroom/internal/app/user"
)

// UserStore is the PostgreSQL user.Repository.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userColumns = `id, COALESCE(email, ''), name, avatar, provider, level, experience, created_at`

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Avatar, &u.Provider, &u.Level, &u.Experience, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return user.User{}, user.ErrNotFound
	}
	return u, err
}

func (s *UserStore) Get(ctx context.Context, id string) (user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return user.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, err
}

func (s *UserStore) Create(ctx context.Context, u user.User) (user.User, error) {
	var email *string
	if u.Email != "" {
		email = &u.Email
	}

	created, err := scanUser(s.pool.QueryRow(ctx, `
INSERT INTO users (id, email, name, avatar, provider)
VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), $2, $3, $4, $5)
RETURNING `+userColumns,
		u.ID, email, u.Name, u.Avatar, u.Provider,
	))
	if err != nil {
		return user.User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *UserStore) UpdateProfile(ctx context.Context, id, name, avatar string) (user.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
UPDATE users SET name = $2, avatar = $3 WHERE id = $1
RETURNING `+userColumns,
		id, name, avatar,
	))
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return user.User{}, fmt.Errorf("update user profile: %w", err)
	}
	return u, err
}

func (s *UserStore) ApplyProgress(ctx context.Context, id string, fn func(user.Progress) user.Progress) (user.User, error) {
	var out user.User

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		next := fn(current.Progress())

		out, err = scanUser(tx.QueryRow(ctx, `
UPDATE users SET level = $2, experience = $3 WHERE id = $1
RETURNING `+userColumns,
			id, next.Level, next.Experience,
		))
		return err
	})
	if err != nil {
		return user.User{}, err
	}
	return out, nil
}
