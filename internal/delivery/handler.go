package delivery

import (
	"context"
	"net/http"
	"time"

	"github.com/clinicdesk/messaging/internal/auth"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades authenticated requests to push-only WebSocket sessions.
type Handler struct {
	registry *Registry
	upgrader websocket.Upgrader
}

// NewHandler accepts connections from allowedOrigins; an empty list allows
// any origin.
func NewHandler(registry *Registry, allowedOrigins []string) *Handler {
	h := &Handler{registry: registry}
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, o := range allowedOrigins {
			if o == origin {
				return true
			}
		}
		return false
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	sessionID := uuid.NewString()
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		deviceID = sessionID
	}

	log := observability.GetLogger(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("upgrade error", zap.Error(err))
		return
	}

	session := NewSession(sessionID, userID, deviceID, conn)
	h.registry.Add(session)
	session.Start()

	log.Info("connected", zap.String("user_id", userID), zap.String("device_id", deviceID))
	observability.ActiveConnections.Inc()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.readLoop(session)
}

// readLoop drains client frames so control messages are processed. Clients
// have nothing to say on this channel.
func (h *Handler) readLoop(s *Session) {
	log := observability.GetLogger(context.Background())
	defer func() {
		h.registry.Remove(s)
		s.Close()
		log.Info("disconnected", zap.String("user_id", s.UserID), zap.String("device_id", s.DeviceID))
		observability.ActiveConnections.Dec()
	}()

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn("read loop error", zap.String("user_id", s.UserID), zap.Error(err))
			}
			return
		}
	}
}
