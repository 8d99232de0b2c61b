package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateConversation is returned by Store.CreateConversation when a
	// conversation for the pair+scope already exists. AppendMessage's upsert
	// absorbs this race, so callers of the Service never see it.
	ErrDuplicateConversation = errors.New("chat: conversation already exists")

	// ErrInvalidMessage is returned by Store.AppendMessage when the message
	// text is empty or the sender is not a participant.
	ErrInvalidMessage = errors.New("chat: invalid message")

	// ErrUnknownUser is returned by IdentityResolver implementations when the
	// user id cannot be resolved (e.g. deleted account).
	ErrUnknownUser = errors.New("chat: unknown user")
)

// ValidationError marks a caller mistake: missing identifiers, empty text,
// sender outside the pair. It is surfaced to the direct caller and never
// silently dropped at the Service layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chat: invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError or
// ErrInvalidMessage.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrInvalidMessage)
}
