package application

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicdesk/messaging/internal/observability"
	"go.uber.org/zap"
)

// ReconcileConversation recomputes the conversation summary from the message
// store and reports whether it had drifted.
func (s *Service) ReconcileConversation(ctx context.Context, conversationID string) (_ bool, err error) {
	ctx, span := startSpan(ctx, "ReconcileConversation")
	defer func() { endSpan(span, err) }()

	var repaired bool
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		repaired = false

		conv, err := s.repo.GetConversationLocked(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		latest, err := s.repo.LatestMessage(ctx, tx, conv.ID)
		if err != nil {
			return fmt.Errorf("failed to load latest message: %w", err)
		}
		if !conv.SummaryIsStale(latest) {
			return nil
		}
		if err := s.repo.RepairSummary(ctx, tx, conv.ID, latest); err != nil {
			return fmt.Errorf("failed to repair conversation summary: %w", err)
		}
		repaired = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if repaired {
		s.invalidate(ctx, conversationID)
		observability.SummaryRepairsTotal.Inc()
		s.log.Info("conversation summary reconciled", zap.String("conversation_id", conversationID))
	}
	return repaired, nil
}

// ReconcileAll walks every conversation. It stops at the first error and
// returns how many summaries were repaired up to that point.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.repo.ListConversationIDs(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		ok, err := s.ReconcileConversation(ctx, id)
		if err != nil {
			return repaired, fmt.Errorf("reconcile %s: %w", id, err)
		}
		if ok {
			repaired++
		}
	}
	return repaired, nil
}
