package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is the minimal profile slice the core needs: a stable id, the
// token version that revokes previously issued refresh tokens, and the
// global-mode flag.
type User struct {
	ID           string
	DisplayName  string
	TokenVersion int
	GlobalMode   bool
	CreatedAt    time.Time
}

// Users reads and writes user rows.
type Users struct {
	db *sql.DB
}

// NewUsers creates a Users store backed by the given database handle.
func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

// Get loads a user by id. Returns ErrNotFound if the user does not exist.
func (s *Users) Get(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, display_name, token_version, global_mode, created_at
		FROM users
		WHERE id = $1`

	var u User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.DisplayName, &u.TokenVersion, &u.GlobalMode, &u.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get user: %w", err)
	}
	return &u, nil
}

// Create inserts a user row. Used by tests and tooling; account creation
// proper lives in the external REST surface.
func (s *Users) Create(ctx context.Context, id, displayName string) error {
	const query = `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)`

	if _, err := s.db.ExecContext(ctx, query, id, displayName); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}
	return nil
}
