package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/clinicdesk/messaging/internal/repository"
	"github.com/clinicdesk/messaging/internal/tx"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Config struct {
	// ConcealMembership reports "not a participant" as "not found" so callers
	// cannot probe which conversations exist.
	ConcealMembership bool

	IdempotencyTTL time.Duration

	// Clock defaults to time.Now.
	Clock func() time.Time
}

type Service struct {
	repo repository.Repository
	tx   tx.Transactor
	log  *zap.Logger
	cfg  Config
}

func New(repo repository.Repository, transactor tx.Transactor, log *zap.Logger, cfg Config) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Service{repo: repo, tx: transactor, log: log, cfg: cfg}
}

// ConversationDetails is a conversation with its participants resolved
// through the directory, in ParticipantIDs order.
type ConversationDetails struct {
	Conversation *domain.Conversation
	Participants []domain.UserSummary

	// MyUnread is the number of messages the caller has not fetched yet.
	MyUnread int64
}

func (s *Service) now() time.Time {
	return s.cfg.Clock().UTC()
}

// accessError applies the membership concealment policy.
func (s *Service) accessError(err error) error {
	if s.cfg.ConcealMembership && errors.Is(err, domain.ErrNotParticipant) {
		return domain.ErrConversationNotFound
	}
	return err
}

func (s *Service) emit(ctx context.Context, q *sql.Tx, eventType, convID string, payload interface{}, at time.Time) error {
	data, err := events.Encode(eventType, convID, payload, at)
	if err != nil {
		return err
	}
	if err := s.repo.InsertOutbox(ctx, q, events.AggregateConversation, convID, eventType, data); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

// invalidate drops the cached aggregate after a committed write. A failure
// only delays freshness until the TTL expires.
func (s *Service) invalidate(ctx context.Context, convID string) {
	if err := s.repo.InvalidateConversation(ctx, convID); err != nil {
		s.log.Warn("cache invalidation failed",
			zap.String("conversation_id", convID),
			zap.Error(err),
		)
	}
}

func (s *Service) details(ctx context.Context, conv *domain.Conversation, callerID string) *ConversationDetails {
	users := s.lookupUsers(ctx, conv.ParticipantIDs())
	return s.assemble(conv, callerID, users)
}

func (s *Service) assemble(conv *domain.Conversation, callerID string, users map[string]domain.UserSummary) *ConversationDetails {
	ids := conv.ParticipantIDs()
	participants := make([]domain.UserSummary, 0, len(ids))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			u = domain.UserSummary{ID: id}
		}
		participants = append(participants, u)
	}
	return &ConversationDetails{
		Conversation: conv,
		Participants: participants,
		MyUnread:     conv.UnreadFor(callerID),
	}
}

// lookupUsers never fails the request: unresolved users degrade to ID-only
// summaries.
func (s *Service) lookupUsers(ctx context.Context, ids []string) map[string]domain.UserSummary {
	users, err := s.repo.LookupUsers(ctx, ids)
	if err != nil {
		s.log.Warn("participant lookup failed", zap.Error(err))
		return map[string]domain.UserSummary{}
	}
	return users
}

func startSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, "messaging."+op)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
