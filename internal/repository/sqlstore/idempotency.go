package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// TryInsertIdempotency reports whether this call claimed the key. Expired
// claims are dropped first so a key can be reused after its window.
func (r *Repository) TryInsertIdempotency(
	ctx context.Context,
	tx *sql.Tx,
	key, userID, conversationID string,
	expiresAt time.Time,
) (bool, error) {
	q := r.getter(tx)

	if _, err := q.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key = $1 AND user_id = $2 AND conversation_id = $3 AND expires_at < $4
	`, key, userID, conversationID, time.Now().UTC()); err != nil {
		return false, err
	}

	// ON CONFLICT DO NOTHING means a duplicate returns 0 RowsAffected.
	result, err := q.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, user_id, conversation_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key, user_id, conversation_id) DO NOTHING
	`, key, userID, conversationID, expiresAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetIdempotencyForUpdate returns the stored response, or nil when the key
// is claimed but has no response yet.
func (r *Repository) GetIdempotencyForUpdate(
	ctx context.Context,
	tx *sql.Tx,
	key, userID, conversationID string,
) ([]byte, error) {
	q := r.getter(tx)
	var payload []byte
	err := q.QueryRowContext(ctx, `
		SELECT payload
		FROM idempotency_keys
		WHERE key = $1 AND user_id = $2 AND conversation_id = $3`+r.Dialect.ForUpdate(),
		key, userID, conversationID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return payload, nil
}

func (r *Repository) UpdateIdempotencyResponse(
	ctx context.Context,
	tx *sql.Tx,
	key, userID, conversationID string,
	payload []byte,
) error {
	q := r.getter(tx)
	_, err := q.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET payload = $4
		WHERE key = $1 AND user_id = $2 AND conversation_id = $3
	`, key, userID, conversationID, payload)
	return err
}
