// Package delivery routes server events to their recipients: over the live
// WebSocket when one exists, and through the unread marker plus push
// notification queue when it does not. Routing runs after the triggering
// write has been persisted, so every failure here is logged and absorbed
// rather than propagated back to the sender.
package delivery

import (
	"context"
	"log"

	"github.com/emberly/match-app/internal/metrics"
	"github.com/emberly/match-app/internal/protocol"
	"github.com/emberly/match-app/internal/store"
)

// Registry is the live-connection lookup the router delivers through.
// Implemented by *ws.Registry. Send reports false when the user has no
// connection or the write failed; Focus reports the peer whose
// conversation the user has open and whether the user is connected at all.
type Registry interface {
	Send(userID string, data []byte) bool
	Focus(userID string) (string, bool)
}

// Marker persists the per-side unread flag. Implemented by *store.Matches.
type Marker interface {
	MarkUnread(ctx context.Context, matchID, userID string) error
}

// Notifier enqueues push notification jobs. Implemented by *notify.Queue.
type Notifier interface {
	EnqueueMessage(ctx context.Context, recipientID, senderID, text string) error
	EnqueueMatch(ctx context.Context, userID, otherID string) error
}

// Router fans server events out to live connections and the push queue.
type Router struct {
	registry Registry
	marker   Marker
	notifier Notifier
}

// NewRouter creates a Router with the given collaborators.
func NewRouter(registry Registry, marker Marker, notifier Notifier) *Router {
	return &Router{registry: registry, marker: marker, notifier: notifier}
}

// DeliverMessage routes a freshly persisted chat message to its recipient.
// A live connection gets the message frame immediately. Unless the
// recipient is connected with the sender's conversation open, the match
// row is flagged unread and a push job with a bounded text preview is
// enqueued; an open conversation means the recipient is reading the
// message right now and a notification would be noise.
func (r *Router) DeliverMessage(ctx context.Context, match *store.Match, msg *store.Message) {
	frame, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		Message: protocol.Message{
			SenderID:    msg.SenderID,
			RecipientID: msg.RecipientID,
			Text:        msg.Text,
			CreatedAt:   msg.CreatedAt,
		},
	})
	if err != nil {
		log.Printf("[delivery] build new-message frame: %v", err)
		return
	}

	focused, connected := r.registry.Focus(msg.RecipientID)
	if connected {
		if r.registry.Send(msg.RecipientID, frame) {
			metrics.Deliveries.WithLabelValues("live").Inc()
		}
	}

	if connected && focused == msg.SenderID {
		return
	}

	metrics.Deliveries.WithLabelValues("deferred").Inc()
	if err := r.marker.MarkUnread(ctx, match.ID, msg.RecipientID); err != nil {
		log.Printf("[delivery] mark unread match=%s user=%s: %v", match.ID, msg.RecipientID, err)
	}
	if err := r.notifier.EnqueueMessage(ctx, msg.RecipientID, msg.SenderID, msg.Text); err != nil {
		log.Printf("[delivery] enqueue message push user=%s: %v", msg.RecipientID, err)
		return
	}
	metrics.PushJobs.Inc()
}

// DeliverMatch announces a new match to both parties. Connected parties
// get the frame over their socket; the rest get a push job.
func (r *Router) DeliverMatch(ctx context.Context, match *store.Match) {
	frame, err := protocol.NewServerMessage(protocol.TypeNewMatch, protocol.NewMatchMsg{
		UserID1: match.UserID1,
		UserID2: match.UserID2,
	})
	if err != nil {
		log.Printf("[delivery] build new-match frame: %v", err)
		return
	}

	for _, userID := range []string{match.UserID1, match.UserID2} {
		if r.registry.Send(userID, frame) {
			metrics.Deliveries.WithLabelValues("live").Inc()
			continue
		}
		metrics.Deliveries.WithLabelValues("deferred").Inc()
		if err := r.notifier.EnqueueMatch(ctx, userID, match.Other(userID)); err != nil {
			log.Printf("[delivery] enqueue match push user=%s: %v", userID, err)
			continue
		}
		metrics.PushJobs.Inc()
	}
}

// DeliverUnmatch tells otherID that actorID removed the match. Live only:
// an unmatch must not generate a notification, and a disconnected client
// discovers the removal when it next syncs.
func (r *Router) DeliverUnmatch(ctx context.Context, actorID, otherID string) {
	frame, err := protocol.NewServerMessage(protocol.TypeUnmatch, protocol.UnmatchMsg{
		UserID: actorID,
	})
	if err != nil {
		log.Printf("[delivery] build unmatch frame: %v", err)
		return
	}
	if r.registry.Send(otherID, frame) {
		metrics.Deliveries.WithLabelValues("live").Inc()
	}
}

// DeliverLike sends the anonymous "someone liked you" signal to targetID.
// Live only and fire-and-forget; the signal carries no identity and is
// worthless once stale.
func (r *Router) DeliverLike(ctx context.Context, targetID string) {
	frame, err := protocol.NewServerMessage(protocol.TypeNewLike, protocol.NewLikeMsg{})
	if err != nil {
		log.Printf("[delivery] build new-like frame: %v", err)
		return
	}
	if r.registry.Send(targetID, frame) {
		metrics.Deliveries.WithLabelValues("live").Inc()
	}
}
