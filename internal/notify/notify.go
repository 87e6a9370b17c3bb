package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"go.uber.org/zap"
)

// Notification tells recipients that a message is waiting. It never carries
// the message body; clinical content stays in the message store.
type Notification struct {
	ConversationID string
	MessageID      string
	SenderID       string
	RecipientIDs   []string
	SentAt         time.Time
}

// Sender is one outbound channel such as email, SMS or the audit log.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// AuditSender records every notification in the structured log.
type AuditSender struct {
	Log *zap.Logger
}

func (AuditSender) Name() string { return "audit" }

func (s AuditSender) Send(_ context.Context, n Notification) error {
	s.Log.Info("message notification",
		zap.String("conversation_id", n.ConversationID),
		zap.String("message_id", n.MessageID),
		zap.String("sender_id", n.SenderID),
		zap.Strings("recipient_ids", n.RecipientIDs),
		zap.Time("sent_at", n.SentAt),
	)
	return nil
}

// Dispatcher turns MESSAGE_SENT events into notifications for every sender.
// Senders run concurrently, each under its own timeout. Their failures are
// logged and counted and never returned.
type Dispatcher struct {
	Senders []Sender
	Timeout time.Duration
}

func (d *Dispatcher) Handle(ctx context.Context, env *events.Envelope) error {
	if env.EventType != events.TypeMessageSent {
		return nil
	}

	var p events.MessageSent
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	if len(p.RecipientIDs) == 0 {
		return nil
	}

	d.Notify(ctx, Notification{
		ConversationID: env.ConversationID,
		MessageID:      p.MessageID,
		SenderID:       p.SenderID,
		RecipientIDs:   p.RecipientIDs,
		SentAt:         p.SentAt,
	})
	return nil
}

// Notify hands n to every sender and waits for all of them.
func (d *Dispatcher) Notify(ctx context.Context, n Notification) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var wg sync.WaitGroup
	for _, s := range d.Senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			d.send(ctx, s, n, timeout)
		}(s)
	}
	wg.Wait()
}

func (d *Dispatcher) send(ctx context.Context, s Sender, n Notification, timeout time.Duration) {
	log := observability.GetLogger(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			observability.NotificationsTotal.WithLabelValues(s.Name(), "panic").Inc()
			log.Error("notification sender panicked", zap.String("sender", s.Name()), zap.Any("error", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.Send(ctx, n); err != nil {
		observability.NotificationsTotal.WithLabelValues(s.Name(), "error").Inc()
		log.Warn("notification failed",
			zap.String("sender", s.Name()),
			zap.String("message_id", n.MessageID),
			zap.Error(err),
		)
		return
	}
	observability.NotificationsTotal.WithLabelValues(s.Name(), "ok").Inc()
}
