package user

import (
	"context"
	"fmt"
	"strings"
)

// ParseSeeds reads "id:name" entries. The name defaults to the id.
func ParseSeeds(entries []string) ([]User, error) {
	users := make([]User, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		id, name, _ := strings.Cut(strings.TrimSpace(entry), ":")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if id == "" {
			return nil, fmt.Errorf("seed user %q: empty id", entry)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("seed user %q: duplicate id", id)
		}
		seen[id] = struct{}{}

		if name == "" {
			name = id
		}
		users = append(users, User{ID: id, Name: name, Provider: "seed"})
	}
	return users, nil
}

// Seed creates every user of entries in repo.
func Seed(ctx context.Context, repo Repository, entries []string) ([]User, error) {
	users, err := ParseSeeds(entries)
	if err != nil {
		return nil, err
	}

	created := make([]User, 0, len(users))
	for _, u := range users {
		c, err := repo.Create(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.ID, err)
		}
		created = append(created, c)
	}
	return created, nil
}
