package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/google/uuid"
)

// AppendMessage allocates the next sequence number and stores the message.
// The membership check and the allocation are a single statement, so a sender
// removed concurrently can never append.
func (r *Repository) AppendMessage(
	ctx context.Context,
	tx *sql.Tx,
	convID, senderID, content string,
	now time.Time,
) (*domain.Message, error) {
	if err := domain.ValidateContent(content); err != nil {
		return nil, err
	}

	var msg *domain.Message
	err := r.inTx(ctx, tx, func(tx *sql.Tx) error {
		q := r.getter(tx)

		res, err := q.ExecContext(ctx, `
			UPDATE conversations
			SET last_seq = last_seq + 1
			WHERE id = $1
			  AND EXISTS (
				SELECT 1 FROM conversation_participants
				WHERE conversation_id = $1 AND user_id = $2
			  )
		`, convID, senderID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return r.appendRejection(ctx, q, convID)
		}

		var seq int64
		var prev sql.NullTime
		if err := q.QueryRowContext(ctx, `
			SELECT last_seq, last_message_at
			FROM conversations
			WHERE id = $1
		`, convID).Scan(&seq, &prev); err != nil {
			return err
		}

		var prevAt *time.Time
		if prev.Valid {
			prevAt = &prev.Time
		}

		msg, err = domain.NewMessage(
			uuid.NewString(),
			convID,
			senderID,
			seq,
			content,
			domain.NextTimestamp(now, prevAt),
		)
		if err != nil {
			return err
		}

		return r.insertMessage(ctx, q, msg)
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *Repository) appendRejection(ctx context.Context, q queryable, convID string) error {
	var exists int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = $1`, convID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrConversationNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrNotParticipant
}

// insertMessage writes msg and its initial read markers.
func (r *Repository) insertMessage(ctx context.Context, q queryable, msg *domain.Message) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, seq, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Seq,
		msg.Content,
		msg.CreatedAt.UTC(),
	); err != nil {
		return err
	}

	for _, rm := range msg.ReadBy {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO message_reads (message_id, conversation_id, user_id, read_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id) DO NOTHING
		`, msg.ID, msg.ConversationID, rm.UserID, rm.ReadAt.UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) ListByConversation(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
) ([]*domain.Message, error) {
	q := r.getter(tx)

	rows, err := q.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, seq, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*domain.Message{}
	byID := make(map[string]*domain.Message)
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Seq,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		msg.ReadBy = []domain.ReadMarker{}
		messages = append(messages, &msg)
		byID[msg.ID] = &msg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return messages, nil
	}

	reads, err := q.QueryContext(ctx, `
		SELECT message_id, user_id, read_at
		FROM message_reads
		WHERE conversation_id = $1
		ORDER BY read_at ASC, user_id ASC
	`, convID)
	if err != nil {
		return nil, err
	}
	defer reads.Close()

	for reads.Next() {
		var msgID string
		var rm domain.ReadMarker
		if err := reads.Scan(&msgID, &rm.UserID, &rm.ReadAt); err != nil {
			return nil, err
		}
		if msg, ok := byID[msgID]; ok {
			msg.ReadBy = append(msg.ReadBy, rm)
		}
	}

	return messages, reads.Err()
}

// LatestMessage returns the highest-sequence message, or nil when the
// conversation has none. Read markers are not loaded.
func (r *Repository) LatestMessage(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
) (*domain.Message, error) {
	q := r.getter(tx)

	var msg domain.Message
	err := q.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, seq, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, convID).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Seq,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &msg, nil
}

// MarkReadForUser is set-based: one statement covers every message, and
// markers that already exist are left untouched.
func (r *Repository) MarkReadForUser(
	ctx context.Context,
	tx *sql.Tx,
	convID, userID string,
	at time.Time,
) (int64, error) {
	q := r.getter(tx)
	res, err := q.ExecContext(ctx, `
		INSERT INTO message_reads (message_id, conversation_id, user_id, read_at)
		SELECT m.id, m.conversation_id, CAST($2 AS TEXT), `+r.Dialect.TimeParam("$3")+`
		FROM messages m
		WHERE m.conversation_id = $1
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, convID, userID, at.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
