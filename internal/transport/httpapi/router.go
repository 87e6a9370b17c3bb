package httpapi

import (
	"net/http"
	"time"

	"github.com/clinicdesk/messaging/internal/auth"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	ServiceName       string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RequestTimeout    time.Duration
}

// NewRouter mounts the REST API under /api/v1. ws may be nil when realtime
// delivery is disabled.
func NewRouter(h *Handler, authn auth.Authenticator, ws http.Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(observability.MetricsMiddleware(cfg.ServiceName))
	r.Use(Recovery())
	if cfg.RateLimitRequests > 0 {
		r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	r.Get("/health/live", observability.HealthLiveHandler)

	if ws != nil {
		r.With(AuthenticateWebSocket(authn)).Get("/ws", ws.ServeHTTP)
	}

	r.Group(func(p chi.Router) {
		p.Use(Authenticate(authn))

		p.Route("/api/v1", func(api chi.Router) {
			if cfg.RequestTimeout > 0 {
				api.Use(Timeout(cfg.RequestTimeout))
			}

			api.Get("/conversations", h.ListConversations)
			api.Post("/conversations", h.CreateConversation)
			api.Get("/conversations/{id}", h.GetConversation)
			api.Get("/conversations/{id}/messages", h.GetMessages)
			api.Post("/conversations/{id}/messages", h.SendMessage)
		})
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}
