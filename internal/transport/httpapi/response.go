package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/clinicdesk/messaging/internal/observability"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		observability.GetLogger(context.Background()).Error("failed to encode response", zap.Error(err))
	}
}

func WriteData(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, envelope{Success: true, Data: data})
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, envelope{Success: false, Error: code, Message: message})
}
