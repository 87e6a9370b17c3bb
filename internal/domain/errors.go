package domain

import "errors"

var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidParticipants  = errors.New("invalid participants")
	ErrTooManyParticipants  = errors.New("too many participants")
	ErrEmptyContent         = errors.New("message content is empty")
	ErrMessageTooLarge      = errors.New("message too large")
	ErrInvalidContent       = errors.New("message content is not valid text")
	ErrNotParticipant       = errors.New("user not participant")
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConcurrencyConflict is internal: the transaction manager retries on it
	// and it is never reported to callers as its own class.
	ErrConcurrencyConflict = errors.New("concurrent modification")
)

// IsValidation reports whether err is a caller input error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidParticipants) ||
		errors.Is(err, ErrTooManyParticipants) ||
		errors.Is(err, ErrEmptyContent) ||
		errors.Is(err, ErrMessageTooLarge) ||
		errors.Is(err, ErrInvalidContent)
}
