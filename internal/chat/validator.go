package chat

import (
	"fmt"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max message size
	MaxTextChars    = 2000 // max character count
)

// ValidationError marks a rejection the API maps to a 400 rather than a
// server failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ValidateMessage checks that a chat message meets content requirements.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return &ValidationError{Reason: "message text is empty"}
	}
	if len(text) > MaxMessageBytes {
		return &ValidationError{Reason: fmt.Sprintf("message exceeds %d byte limit", MaxMessageBytes)}
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return &ValidationError{Reason: fmt.Sprintf("message exceeds %d character limit", MaxTextChars)}
	}
	if !utf8.ValidString(text) {
		return &ValidationError{Reason: "message contains invalid UTF-8"}
	}
	return nil
}
