package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/clinicdesk/messaging/internal/repository"
)

func (r *Repository) InsertOutbox(
	ctx context.Context,
	tx *sql.Tx,
	aggregateType, aggregateID, eventType string,
	payload []byte,
) error {
	q := r.getter(tx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, aggregateType, aggregateID, eventType, payload, time.Now().UTC())
	return err
}

// ClaimOutbox locks up to limit unprocessed events. Concurrent workers skip
// rows another worker already holds.
func (r *Repository) ClaimOutbox(
	ctx context.Context,
	tx *sql.Tx,
	limit int,
) ([]repository.OutboxEvent, error) {
	q := r.getter(tx)
	rows, err := q.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at, retry_count
		FROM outbox_events
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1`+r.Dialect.SkipLocked(),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []repository.OutboxEvent
	for rows.Next() {
		var e repository.OutboxEvent
		if err := rows.Scan(
			&e.ID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.CreatedAt,
			&e.RetryCount,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkOutboxProcessed(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := r.getter(tx).ExecContext(ctx, `
		UPDATE outbox_events SET processed_at = $2 WHERE id = $1
	`, id, time.Now().UTC())
	return err
}

func (r *Repository) MarkOutboxFailed(ctx context.Context, tx *sql.Tx, id int64, reason string) error {
	_, err := r.getter(tx).ExecContext(ctx, `
		UPDATE outbox_events SET retry_count = retry_count + 1, error = $2 WHERE id = $1
	`, id, reason)
	return err
}

// MoveOutboxToDLQ copies e into the dead letter table and removes it from
// the outbox.
func (r *Repository) MoveOutboxToDLQ(
	ctx context.Context,
	tx *sql.Tx,
	e repository.OutboxEvent,
	reason string,
) error {
	q := r.getter(tx)
	now := time.Now().UTC()

	if _, err := q.ExecContext(ctx, `
		INSERT INTO outbox_dlq (id, aggregate_type, aggregate_id, event_type, payload, created_at, failed_at, error, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.AggregateType, e.AggregateID, e.EventType, e.Payload, e.CreatedAt.UTC(), now, reason, e.RetryCount); err != nil {
		return err
	}

	_, err := q.ExecContext(ctx, `
		DELETE FROM outbox_events WHERE id = $1
	`, e.ID)
	return err
}
