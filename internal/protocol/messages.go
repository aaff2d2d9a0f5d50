// Package protocol defines the WebSocket message types exchanged between the
// mobile client and the server. All messages are serialized as JSON with a
// "type" discriminator; the set of kinds is small and closed, so each
// discriminator maps to exactly one concrete struct.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client -> Server message types.
const (
	// TypeMessageOpen signals that the client is now viewing the
	// conversation with a given peer. It drives focused-peer tracking,
	// which suppresses redundant push notifications.
	TypeMessageOpen = "message-open"
)

// Server -> Client message types.
const (
	TypeNewMessage = "new-message"
	TypeNewMatch   = "new-match"
	TypeUnmatch    = "unmatch"
	TypeNewLike    = "new-like"
)

// ErrUnknownType is returned by ParseClientMessage for message types the
// server does not recognize. Callers ignore such messages rather than
// treating them as protocol errors.
var ErrUnknownType = errors.New("protocol: unknown client message type")

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest of the payload can be decoded later into the
// appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// MessageOpenMsg sets (or, with an empty UserID, clears) the focused peer
// for the sending connection.
type MessageOpenMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// NewMessageMsg carries a freshly persisted chat message to its recipient.
type NewMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// Message is the wire shape of a persisted chat message.
type Message struct {
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewMatchMsg announces a newly formed match. Identifiers are in canonical
// pair order (UserID1 < UserID2), the same order as the stored row.
type NewMatchMsg struct {
	Type    string `json:"type"`
	UserID1 string `json:"userId1"`
	UserID2 string `json:"userId2"`
}

// UnmatchMsg tells a client that the other party removed the match.
type UnmatchMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// NewLikeMsg is the lightweight "someone liked you" signal. It carries no
// identity on purpose; the client refreshes its like counter out of band.
type NewLikeMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error.
// Unrecognized types return ErrUnknownType so the caller can drop them.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	switch env.Type {
	case TypeMessageOpen:
		var m MessageOpenMsg
		if err := json.Unmarshal(env.Raw, &m); err != nil {
			return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
		}
		return env.Type, m, nil
	default:
		return env.Type, nil, ErrUnknownType
	}
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key so callers
// never ship a struct whose discriminator disagrees with its kind.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
