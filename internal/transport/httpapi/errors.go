package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/clinicdesk/messaging/internal/auth"
	"github.com/clinicdesk/messaging/internal/domain"
)

type apiError struct {
	Status  int
	Code    string
	Message string
}

// MapError translates service errors into the HTTP taxonomy. Internal
// details never reach the caller.
func MapError(err error) apiError {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return apiError{http.StatusUnauthorized, "unauthorized", "authentication required"}
	case errors.Is(err, domain.ErrInvalidParticipants):
		return apiError{http.StatusBadRequest, "invalid_participants", "participantIds must name at least one user"}
	case errors.Is(err, domain.ErrTooManyParticipants):
		return apiError{http.StatusBadRequest, "too_many_participants", "too many participants"}
	case errors.Is(err, domain.ErrEmptyContent):
		return apiError{http.StatusBadRequest, "empty_content", "message content is empty"}
	case errors.Is(err, domain.ErrMessageTooLarge):
		return apiError{http.StatusBadRequest, "message_too_large", "message content is too large"}
	case errors.Is(err, domain.ErrInvalidContent):
		return apiError{http.StatusBadRequest, "invalid_content", "message content must be valid text without NUL characters"}
	case errors.Is(err, domain.ErrInvalidInput):
		return apiError{http.StatusBadRequest, "invalid_argument", "invalid request"}
	case errors.Is(err, domain.ErrNotParticipant):
		return apiError{http.StatusForbidden, "forbidden", "access denied"}
	case errors.Is(err, domain.ErrConversationNotFound):
		return apiError{http.StatusNotFound, "not_found", "conversation not found"}
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return apiError{http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return apiError{http.StatusServiceUnavailable, "timeout", "request timed out"}
	default:
		return apiError{http.StatusInternalServerError, "internal_error", "an unexpected error occurred"}
	}
}
