package application

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"go.uber.org/zap"
)

type SendMessageCommand struct {
	ConversationID string
	CallerID       string
	Content        string

	// IdempotencyKey is optional. A repeated key returns the first result
	// without storing another message.
	IdempotencyKey string
}

// SendMessage appends a message and updates the conversation summary and
// unread counter in the same transaction. Membership is checked under the
// conversation row lock, immediately before the append.
func (s *Service) SendMessage(
	ctx context.Context,
	cmd SendMessageCommand,
) (_ *domain.Message, err error) {

	ctx, span := startSpan(ctx, "SendMessage")
	defer func() { endSpan(span, err) }()

	if cmd.CallerID == "" || cmd.ConversationID == "" {
		return nil, domain.ErrInvalidInput
	}
	if err := domain.ValidateContent(cmd.Content); err != nil {
		return nil, err
	}

	var (
		result   *domain.Message
		replayed bool
	)

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, replayed = nil, false

		if cmd.IdempotencyKey != "" {
			msg, err := s.claimIdempotency(ctx, tx, cmd)
			if err != nil {
				return err
			}
			if msg != nil {
				result, replayed = msg, true
				return nil
			}
		}

		conv, err := s.repo.GetConversationLocked(ctx, tx, cmd.ConversationID)
		if err != nil {
			return err
		}
		if err := conv.CanSend(cmd.CallerID); err != nil {
			return err
		}

		msg, err := s.repo.AppendMessage(ctx, tx, conv.ID, cmd.CallerID, cmd.Content, s.now())
		if err != nil {
			return err
		}

		if err := s.repo.TouchOnNewMessage(ctx, tx, conv.ID, msg.Summary(), conv.RecipientCount(cmd.CallerID)); err != nil {
			return fmt.Errorf("failed to update conversation summary: %w", err)
		}
		if err := s.repo.UpdateLastReadSequence(ctx, tx, conv.ID, cmd.CallerID, msg.Seq); err != nil {
			return fmt.Errorf("failed to advance sender read position: %w", err)
		}

		if err := s.emit(ctx, tx, events.TypeMessageSent, conv.ID, messageSentEvent(conv, msg), msg.CreatedAt); err != nil {
			return err
		}

		if cmd.IdempotencyKey != "" {
			payload, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("failed to marshal message for idempotency: %w", err)
			}
			if err := s.repo.UpdateIdempotencyResponse(ctx, tx, cmd.IdempotencyKey, cmd.CallerID, conv.ID, payload); err != nil {
				return fmt.Errorf("failed to update idempotency response: %w", err)
			}
		}

		result = msg
		return nil
	})
	if err != nil {
		return nil, s.accessError(err)
	}

	if replayed {
		s.log.Info("SendMessage replayed",
			zap.String("conversation_id", cmd.ConversationID),
			zap.String("message_id", result.ID),
		)
		return result, nil
	}

	s.invalidate(ctx, cmd.ConversationID)
	observability.MessagesSentTotal.Inc()
	s.log.Info("message sent",
		zap.String("conversation_id", cmd.ConversationID),
		zap.String("user_id", cmd.CallerID),
		zap.Int64("seq", result.Seq),
	)

	return result, nil
}

// claimIdempotency returns the stored message when the key was already used,
// or nil when this call owns the key.
func (s *Service) claimIdempotency(ctx context.Context, tx *sql.Tx, cmd SendMessageCommand) (*domain.Message, error) {
	owned, err := s.repo.TryInsertIdempotency(
		ctx, tx,
		cmd.IdempotencyKey,
		cmd.CallerID,
		cmd.ConversationID,
		s.now().Add(s.cfg.IdempotencyTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if owned {
		return nil, nil
	}

	payload, err := s.repo.GetIdempotencyForUpdate(
		ctx, tx,
		cmd.IdempotencyKey,
		cmd.CallerID,
		cmd.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch idempotency response: %w", err)
	}
	if payload == nil {
		// Claimed by a request that has not committed yet.
		return nil, domain.ErrConcurrencyConflict
	}

	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached message: %w", err)
	}
	return &msg, nil
}
