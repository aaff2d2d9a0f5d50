// Package store provides PostgreSQL-backed persistence for relationship
// state: users, directed views (swipes), canonical matches, and messages.
//
// The storage layer owns two contracts the rest of the system leans on:
//
//   - views has a (viewer_id, target_id) primary key, so a repeated action
//     on the same pair fails with a duplicate error instead of silently
//     succeeding;
//   - matches has a UNIQUE (user1_id, user2_id) constraint with
//     user1_id < user2_id, so concurrent match formation across any number
//     of server processes produces exactly one row. These constraints, not
//     in-process locks, are the race-closing mechanism.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

var (
	// ErrDuplicateView is returned when a (viewer, target) pair already has
	// a recorded view. Callers surface this as a normal not-ok result, not
	// a fault.
	ErrDuplicateView = errors.New("store: view already exists for pair")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
)

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}
	return db, nil
}

// Migrate applies all pending schema migrations from sourceURL (e.g.
// "file://db/migrations") against the database at dsn. A database that is
// already up to date is not an error.
func Migrate(sourceURL, dsn string) error {
	m, err := migrate.New(sourceURL, dsn)
	if err != nil {
		return fmt.Errorf("store: init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// CanonicalPair returns the two user ids in canonical order (id1 < id2
// under lexicographic comparison), the order match rows are keyed by.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
