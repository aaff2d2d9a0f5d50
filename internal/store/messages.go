package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Message is a directed chat message. CreatedAt orders the conversation
// and doubles as the opaque pagination cursor.
type Message struct {
	ID          int64
	SenderID    string
	RecipientID string
	Text        string
	CreatedAt   time.Time
}

// Messages persists and pages chat messages.
type Messages struct {
	db *sql.DB
}

// NewMessages creates a Messages store backed by the given database handle.
func NewMessages(db *sql.DB) *Messages {
	return &Messages{db: db}
}

// Create inserts a message and returns it with its assigned id and
// server-side timestamp.
func (s *Messages) Create(ctx context.Context, senderID, recipientID, text string) (*Message, error) {
	const query = `
		INSERT INTO messages (sender_id, recipient_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	m := Message{SenderID: senderID, RecipientID: recipientID, Text: text}
	err := s.db.QueryRowContext(ctx, query, senderID, recipientID, text).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create message: %w", err)
	}
	return &m, nil
}

// Conversation returns up to limit messages between the two users, newest
// first. A nil before cursor fetches the newest page; otherwise only
// messages created strictly before the cursor are returned.
func (s *Messages) Conversation(ctx context.Context, userA, userB string, before *time.Time, limit int) ([]Message, error) {
	const query = `
		SELECT id, sender_id, recipient_id, text, created_at
		FROM messages
		WHERE ((sender_id = $1 AND recipient_id = $2)
		    OR (sender_id = $2 AND recipient_id = $1))
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4`

	var cursor sql.NullTime
	if before != nil {
		cursor = sql.NullTime{Time: *before, Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, query, userA, userB, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("store: conversation query: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: conversation scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: conversation rows: %w", err)
	}
	return msgs, nil
}
