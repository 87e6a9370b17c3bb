package application

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CreateConversationCommand struct {
	CallerID       string
	ParticipantIDs []string
	Message        string
}

// CreateConversation stores a conversation together with its first message.
// The caller is always a participant and has read the first message.
func (s *Service) CreateConversation(
	ctx context.Context,
	cmd CreateConversationCommand,
) (_ *ConversationDetails, err error) {

	ctx, span := startSpan(ctx, "CreateConversation")
	defer func() { endSpan(span, err) }()

	ids, err := domain.NormalizeParticipants(cmd.CallerID, cmd.ParticipantIDs)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateContent(cmd.Message); err != nil {
		return nil, err
	}

	now := s.now()
	callerID := ids[0]

	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Participants: make(map[string]domain.Participant, len(ids)),
		LastSeq:      1,
		UnreadCount:  int64(len(ids) - 1),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, id := range ids {
		conv.Participants[id] = domain.Participant{UserID: id, JoinedAt: now}
	}
	conv.Participants[callerID] = domain.Participant{UserID: callerID, JoinedAt: now, LastReadSeq: 1}

	first, err := domain.NewMessage(uuid.NewString(), conv.ID, callerID, 1, cmd.Message, now)
	if err != nil {
		return nil, err
	}
	summary := first.Summary()
	conv.LastMessage = &summary

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.repo.CreateConversation(ctx, tx, conv, first); err != nil {
			return fmt.Errorf("failed to save conversation: %w", err)
		}

		if err := s.emit(ctx, tx, events.TypeConversationCreated, conv.ID, events.ConversationCreated{
			ConversationID: conv.ID,
			CreatedBy:      callerID,
			ParticipantIDs: conv.ParticipantIDs(),
			CreatedAt:      now,
		}, now); err != nil {
			return err
		}

		return s.emit(ctx, tx, events.TypeMessageSent, conv.ID, messageSentEvent(conv, first), now)
	})
	if err != nil {
		return nil, err
	}

	observability.ConversationsCreatedTotal.Inc()
	observability.MessagesSentTotal.Inc()
	s.log.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", callerID),
		zap.Int("participants", len(ids)),
	)

	return s.details(ctx, conv, callerID), nil
}

func messageSentEvent(conv *domain.Conversation, msg *domain.Message) events.MessageSent {
	recipients := make([]string, 0, len(conv.Participants))
	for _, id := range conv.ParticipantIDs() {
		if id != msg.SenderID {
			recipients = append(recipients, id)
		}
	}
	return events.MessageSent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Seq:            msg.Seq,
		Content:        msg.Content,
		SentAt:         msg.CreatedAt,
		RecipientIDs:   recipients,
	}
}
