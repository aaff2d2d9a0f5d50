// Package chat implements messaging between matched users: sending,
// conversation paging, read tracking, and unmatching. Messaging is gated
// on an active match; the realtime and push fan-out of each event is
// delegated to the delivery router after the write is persisted.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emberly/match-app/internal/store"
)

// ErrNoMatch is returned when the two users have no active match. Sending
// and reading both require one.
var ErrNoMatch = errors.New("chat: no active match between users")

// Conversation page bounds.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// MatchStore is the match-row access the service needs. Implemented by
// *store.Matches.
type MatchStore interface {
	Get(ctx context.Context, a, b string) (*store.Match, error)
	MarkRead(ctx context.Context, matchID, userID string) error
	Deactivate(ctx context.Context, a, b string) error
}

// MessageStore persists and pages messages. Implemented by
// *store.Messages.
type MessageStore interface {
	Create(ctx context.Context, senderID, recipientID, text string) (*store.Message, error)
	Conversation(ctx context.Context, userA, userB string, before *time.Time, limit int) ([]store.Message, error)
}

// Router fans chat events out to recipients. Implemented by
// *delivery.Router.
type Router interface {
	DeliverMessage(ctx context.Context, match *store.Match, msg *store.Message)
	DeliverUnmatch(ctx context.Context, actorID, otherID string)
}

// Service coordinates chat operations.
type Service struct {
	matches  MatchStore
	messages MessageStore
	router   Router
}

// NewService creates a Service with the given collaborators.
func NewService(matches MatchStore, messages MessageStore, router Router) *Service {
	return &Service{matches: matches, messages: messages, router: router}
}

// activeMatch loads the match for the pair and rejects missing or
// deactivated rows with ErrNoMatch.
func (s *Service) activeMatch(ctx context.Context, a, b string) (*store.Match, error) {
	match, err := s.matches.Get(ctx, a, b)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoMatch
	}
	if err != nil {
		return nil, fmt.Errorf("chat: load match: %w", err)
	}
	if !match.Active {
		return nil, ErrNoMatch
	}
	return match, nil
}

// SendMessage validates and persists a message from senderID to
// recipientID, then routes it. The message is durable once this returns;
// delivery beyond the write is best effort.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, text string) (*store.Message, error) {
	if err := ValidateMessage(text); err != nil {
		return nil, err
	}

	match, err := s.activeMatch(ctx, senderID, recipientID)
	if err != nil {
		return nil, err
	}

	msg, err := s.messages.Create(ctx, senderID, recipientID, text)
	if err != nil {
		return nil, fmt.Errorf("chat: persist message: %w", err)
	}

	s.router.DeliverMessage(ctx, match, msg)
	return msg, nil
}

// Conversation returns a page of messages between userID and otherID,
// newest first. Fetching the newest page (nil cursor) marks the
// conversation read for userID before returning, so a client that renders
// the page has already acknowledged it.
func (s *Service) Conversation(ctx context.Context, userID, otherID string, before *time.Time, limit int) ([]store.Message, error) {
	match, err := s.activeMatch(ctx, userID, otherID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if before == nil {
		if err := s.matches.MarkRead(ctx, match.ID, userID); err != nil {
			return nil, fmt.Errorf("chat: mark read: %w", err)
		}
	}

	msgs, err := s.messages.Conversation(ctx, userID, otherID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: load conversation: %w", err)
	}
	return msgs, nil
}

// Unmatch deactivates the match between actorID and otherID and tells the
// other party over their live connection if they have one. Repeating an
// unmatch returns ErrNoMatch.
func (s *Service) Unmatch(ctx context.Context, actorID, otherID string) error {
	err := s.matches.Deactivate(ctx, actorID, otherID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoMatch
	}
	if err != nil {
		return fmt.Errorf("chat: deactivate match: %w", err)
	}

	s.router.DeliverUnmatch(ctx, actorID, otherID)
	return nil
}
