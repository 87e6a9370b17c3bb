package application

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"go.uber.org/zap"
)

// GetMessages returns the conversation history in order and marks all of it
// read by the caller. Fetching is the only way to mark messages read, and it
// resets the shared unread counter.
func (s *Service) GetMessages(
	ctx context.Context,
	callerID string,
	conversationID string,
) (_ []*domain.Message, err error) {

	ctx, span := startSpan(ctx, "GetMessages")
	defer func() { endSpan(span, err) }()

	if callerID == "" || conversationID == "" {
		return nil, domain.ErrInvalidInput
	}

	var (
		messages []*domain.Message
		marked   int64
		repaired bool
	)

	err = s.retryRead(ctx, "GetMessages", func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
			messages, marked, repaired = nil, 0, false

			conv, err := s.repo.GetConversationLocked(ctx, tx, conversationID)
			if err != nil {
				return err
			}
			if err := conv.CanSend(callerID); err != nil {
				return err
			}

			now := s.now()

			marked, err = s.repo.MarkReadForUser(ctx, tx, conv.ID, callerID, now)
			if err != nil {
				return fmt.Errorf("failed to mark messages read: %w", err)
			}
			if err := s.repo.ResetUnread(ctx, tx, conv.ID); err != nil {
				return fmt.Errorf("failed to reset unread count: %w", err)
			}

			messages, err = s.repo.ListByConversation(ctx, tx, conv.ID)
			if err != nil {
				return fmt.Errorf("failed to list messages: %w", err)
			}

			var newest *domain.Message
			if n := len(messages); n > 0 {
				newest = messages[n-1]
			}
			if conv.SummaryIsStale(newest) {
				if err := s.repo.RepairSummary(ctx, tx, conv.ID, newest); err != nil {
					return fmt.Errorf("failed to repair conversation summary: %w", err)
				}
				repaired = true
			}

			upTo := int64(0)
			if newest != nil {
				upTo = newest.Seq
			}
			if err := s.repo.UpdateLastReadSequence(ctx, tx, conv.ID, callerID, upTo); err != nil {
				return fmt.Errorf("failed to advance read position: %w", err)
			}

			if marked == 0 {
				return nil
			}
			return s.emit(ctx, tx, events.TypeMessagesRead, conv.ID, events.MessagesRead{
				ConversationID: conv.ID,
				ReaderID:       callerID,
				UpToSeq:        upTo,
				Marked:         marked,
				ReadAt:         now,
				ParticipantIDs: conv.ParticipantIDs(),
			}, now)
		})
	})
	if err != nil {
		return nil, s.accessError(err)
	}

	s.invalidate(ctx, conversationID)

	if marked > 0 {
		observability.MessagesMarkedReadTotal.Add(float64(marked))
	}
	if repaired {
		observability.SummaryRepairsTotal.Inc()
		s.log.Warn("stale conversation summary repaired",
			zap.String("conversation_id", conversationID),
		)
	}

	return messages, nil
}
