package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Views records directed swipes. A view is written once per
// (viewer, target) pair; the primary key rejects repeats.
type Views struct {
	db *sql.DB
}

// NewViews creates a Views store backed by the given database handle.
func NewViews(db *sql.DB) *Views {
	return &Views{db: db}
}

// Create inserts the directed view viewer -> target. If the pair already
// has a view, it returns ErrDuplicateView; the caller distinguishes this
// from other failures.
func (s *Views) Create(ctx context.Context, viewerID, targetID string, liked bool) error {
	const query = `
		INSERT INTO views (viewer_id, target_id, liked)
		VALUES ($1, $2, $3)`

	_, err := s.db.ExecContext(ctx, query, viewerID, targetID, liked)
	if isUniqueViolation(err) {
		return ErrDuplicateView
	}
	if err != nil {
		return fmt.Errorf("store: create view: %w", err)
	}
	return nil
}

// LikedExists reports whether View(viewer -> target, liked=true) exists.
// Match formation uses it to check for the reciprocal like.
func (s *Views) LikedExists(ctx context.Context, viewerID, targetID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM views
			WHERE viewer_id = $1 AND target_id = $2 AND liked
		)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, viewerID, targetID).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: reciprocal like lookup: %w", err)
	}
	return exists, nil
}
