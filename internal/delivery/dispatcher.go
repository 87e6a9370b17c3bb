package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"go.uber.org/zap"
)

// Dispatcher pushes messaging events to the open sessions of everyone the
// event concerns. Users without a session simply miss the push; the REST
// API remains the source of truth.
type Dispatcher struct {
	registry *Registry
}

func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

func (d *Dispatcher) Handle(ctx context.Context, env *events.Envelope) error {
	switch env.EventType {
	case events.TypeConversationCreated, events.TypeMessageSent, events.TypeMessagesRead:
	default:
		return nil
	}

	audience, err := env.Audience()
	if err != nil {
		return fmt.Errorf("dispatcher: resolve audience: %w", err)
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("dispatcher: encode frame: %w", err)
	}

	delivered := 0
	seen := make(map[string]struct{}, len(audience))
	for _, userID := range audience {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		for _, s := range d.registry.GetUserSessions(userID) {
			if s.TrySend(frame) {
				delivered++
			}
		}
	}

	observability.GetLogger(ctx).Debug("event pushed",
		zap.String("event_type", env.EventType),
		zap.String("conversation_id", env.ConversationID),
		zap.Int("sessions", delivered),
	)
	return nil
}
