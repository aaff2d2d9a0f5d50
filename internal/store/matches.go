package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Match is the canonical undirected relation between two users. UserID1 is
// always the lexicographically smaller id. Read1/Read2 track, per side,
// whether that user has read the conversation; Active is false after an
// unmatch.
type Match struct {
	ID        string
	UserID1   string
	UserID2   string
	Read1     bool
	Read2     bool
	Active    bool
	CreatedAt time.Time
}

// Other returns the other party of the match relative to userID, or ""
// when userID is not a participant.
func (m *Match) Other(userID string) string {
	switch userID {
	case m.UserID1:
		return m.UserID2
	case m.UserID2:
		return m.UserID1
	}
	return ""
}

// IsParticipant reports whether userID is one of the two sides.
func (m *Match) IsParticipant(userID string) bool {
	return userID == m.UserID1 || userID == m.UserID2
}

// Matches manages canonical match rows.
type Matches struct {
	db *sql.DB
}

// NewMatches creates a Matches store backed by the given database handle.
func NewMatches(db *sql.DB) *Matches {
	return &Matches{db: db}
}

const matchColumns = `id, user1_id, user2_id, read1, read2, active, created_at`

func scanMatch(row *sql.Row) (*Match, error) {
	var m Match
	err := row.Scan(&m.ID, &m.UserID1, &m.UserID2, &m.Read1, &m.Read2, &m.Active, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts the canonical match row for the unordered pair (a, b).
// It returns the row and whether this call created it. When two like
// writes race past the reciprocal check, both reach this insert; the
// unique constraint lets exactly one through and the loser gets the
// existing row with created=false.
func (s *Matches) Create(ctx context.Context, a, b string) (*Match, bool, error) {
	u1, u2 := CanonicalPair(a, b)

	const query = `
		INSERT INTO matches (id, user1_id, user2_id)
		VALUES ($1, $2, $3)
		RETURNING ` + matchColumns

	m, err := scanMatch(s.db.QueryRowContext(ctx, query, uuid.New().String(), u1, u2))
	if err == nil {
		return m, true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("store: create match: %w", err)
	}

	existing, err := s.Get(ctx, a, b)
	if err != nil {
		return nil, false, fmt.Errorf("store: load existing match: %w", err)
	}
	return existing, false, nil
}

// Get loads the match row for the unordered pair (a, b). Returns
// ErrNotFound when no row exists.
func (s *Matches) Get(ctx context.Context, a, b string) (*Match, error) {
	u1, u2 := CanonicalPair(a, b)

	const query = `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE user1_id = $1 AND user2_id = $2`

	m, err := scanMatch(s.db.QueryRowContext(ctx, query, u1, u2))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("store: get match: %w", err)
	}
	return m, err
}

// MarkUnread clears userID's read flag on the match row: the unread marker
// the Delivery Router persists when it cannot (or should not) deliver a
// message live.
func (s *Matches) MarkUnread(ctx context.Context, matchID, userID string) error {
	return s.setRead(ctx, matchID, userID, false)
}

// MarkRead sets userID's read flag on the match row. Called synchronously
// when the user fetches the newest conversation page.
func (s *Matches) MarkRead(ctx context.Context, matchID, userID string) error {
	return s.setRead(ctx, matchID, userID, true)
}

func (s *Matches) setRead(ctx context.Context, matchID, userID string, read bool) error {
	const query = `
		UPDATE matches
		SET read1 = CASE WHEN user1_id = $2 THEN $3 ELSE read1 END,
		    read2 = CASE WHEN user2_id = $2 THEN $3 ELSE read2 END
		WHERE id = $1 AND (user1_id = $2 OR user2_id = $2)`

	res, err := s.db.ExecContext(ctx, query, matchID, userID, read)
	if err != nil {
		return fmt.Errorf("store: set read flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate marks the match for the unordered pair (a, b) as removed.
// Returns ErrNotFound when there is no active match between them.
func (s *Matches) Deactivate(ctx context.Context, a, b string) error {
	u1, u2 := CanonicalPair(a, b)

	const query = `
		UPDATE matches
		SET active = FALSE
		WHERE user1_id = $1 AND user2_id = $2 AND active`

	res, err := s.db.ExecContext(ctx, query, u1, u2)
	if err != nil {
		return fmt.Errorf("store: deactivate match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
