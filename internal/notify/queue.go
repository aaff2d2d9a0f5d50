// Package notify shapes and enqueues push-notification jobs. The jobs are
// consumed by the notifier worker and handed to the external delivery
// collaborator; this package owns the job envelope and the text preview
// bound, nothing about actual device delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Job kinds.
const (
	KindMessage = "message"
	KindMatch   = "match"
)

// MaxPreviewRunes bounds the text preview attached to message jobs.
const MaxPreviewRunes = 96

// Job is the payload handed to the external push-delivery collaborator.
type Job struct {
	IDToSendTo string `json:"idToSendTo"`
	OtherID    string `json:"otherId"`
	Kind       string `json:"type"`
	Text       string `json:"text,omitempty"`
}

// Publisher is the transport the queue publishes encoded jobs on.
// Implemented by *messaging.Client.
type Publisher interface {
	PublishPushJob(data []byte) error
}

// Queue enqueues push jobs.
type Queue struct {
	pub Publisher
}

// NewQueue creates a Queue publishing on pub.
func NewQueue(pub Publisher) *Queue {
	return &Queue{pub: pub}
}

// EnqueueMessage enqueues a message notification for recipientID with a
// length-bounded preview of the text.
func (q *Queue) EnqueueMessage(ctx context.Context, recipientID, senderID, text string) error {
	return q.enqueue(ctx, Job{
		IDToSendTo: recipientID,
		OtherID:    senderID,
		Kind:       KindMessage,
		Text:       Preview(text),
	})
}

// EnqueueMatch enqueues a new-match notification for userID.
func (q *Queue) EnqueueMatch(ctx context.Context, userID, otherID string) error {
	return q.enqueue(ctx, Job{
		IDToSendTo: userID,
		OtherID:    otherID,
		Kind:       KindMatch,
	})
}

func (q *Queue) enqueue(_ context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("notify: marshal job: %w", err)
	}
	if err := q.pub.PublishPushJob(data); err != nil {
		return fmt.Errorf("notify: enqueue job: %w", err)
	}
	return nil
}

// Preview truncates text to MaxPreviewRunes, rune-safe, appending an
// ellipsis when anything was cut.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxPreviewRunes {
		return text
	}
	return string(runes[:MaxPreviewRunes]) + "…"
}
