package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/clinicdesk/messaging/internal/application"
	"github.com/clinicdesk/messaging/internal/auth"
	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"

	maxBodyBytes = 64 << 10
)

// Messaging is the part of the application service the REST binding calls.
type Messaging interface {
	CreateConversation(ctx context.Context, cmd application.CreateConversationCommand) (*application.ConversationDetails, error)
	SendMessage(ctx context.Context, cmd application.SendMessageCommand) (*domain.Message, error)
	GetMessages(ctx context.Context, callerID, conversationID string) ([]*domain.Message, error)
	ListConversations(ctx context.Context, callerID string) ([]*application.ConversationDetails, error)
	GetConversation(ctx context.Context, callerID, conversationID string) (*application.ConversationDetails, error)
}

type Handler struct {
	svc Messaging
}

func NewHandler(svc Messaging) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := h.svc.ListConversations(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]conversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationDTO(c))
	}
	WriteData(w, http.StatusOK, out)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !decode(w, r, &req) {
		return
	}

	conv, err := h.svc.CreateConversation(r.Context(), application.CreateConversationCommand{
		CallerID:       auth.UserID(r.Context()),
		ParticipantIDs: req.ParticipantIDs,
		Message:        req.Message,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteData(w, http.StatusCreated, toConversationDTO(conv))
}

func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.GetConversation(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteData(w, http.StatusOK, toConversationDTO(conv))
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.GetMessages(r.Context(), auth.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	WriteData(w, http.StatusOK, out)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	msg, err := h.svc.SendMessage(r.Context(), application.SendMessageCommand{
		ConversationID: chi.URLParam(r, "id"),
		CallerID:       auth.UserID(r.Context()),
		Content:        req.Content,
		IdempotencyKey: r.Header.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	WriteData(w, http.StatusCreated, toMessageDTO(msg))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := MapError(err)
	log := observability.GetLogger(r.Context())
	if e.Status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		log.Info("request rejected", zap.String("path", r.URL.Path), zap.String("code", e.Code))
	}
	WriteError(w, e.Status, e.Code, e.Message)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json")
		return false
	}
	return true
}
