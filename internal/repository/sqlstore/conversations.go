package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/clinicdesk/messaging/internal/domain"
)

const conversationColumns = `
	c.id, c.last_seq,
	c.last_message_id, c.last_message_sender_id, c.last_message_content,
	c.last_message_seq, c.last_message_at,
	c.unread_count, c.created_at, c.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var (
		conv                     domain.Conversation
		msgID, senderID, content sql.NullString
		msgSeq                   sql.NullInt64
		msgAt                    sql.NullTime
	)
	if err := row.Scan(
		&conv.ID,
		&conv.LastSeq,
		&msgID,
		&senderID,
		&content,
		&msgSeq,
		&msgAt,
		&conv.UnreadCount,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if msgID.Valid {
		conv.LastMessage = &domain.MessageSummary{
			MessageID: msgID.String,
			SenderID:  senderID.String,
			Content:   content.String,
			Seq:       msgSeq.Int64,
			Timestamp: msgAt.Time,
		}
	}
	conv.Participants = make(map[string]domain.Participant)
	return &conv, nil
}

func (r *Repository) CreateConversation(
	ctx context.Context,
	tx *sql.Tx,
	conv *domain.Conversation,
	first *domain.Message,
) error {
	return r.inTx(ctx, tx, func(tx *sql.Tx) error {
		q := r.getter(tx)

		var msgID, senderID, content interface{}
		var msgSeq, msgAt interface{}
		if conv.LastMessage != nil {
			msgID = conv.LastMessage.MessageID
			senderID = conv.LastMessage.SenderID
			content = conv.LastMessage.Content
			msgSeq = conv.LastMessage.Seq
			msgAt = conv.LastMessage.Timestamp.UTC()
		}

		if _, err := q.ExecContext(ctx, `
			INSERT INTO conversations (
				id, last_seq,
				last_message_id, last_message_sender_id, last_message_content,
				last_message_seq, last_message_at,
				unread_count, created_at, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`,
			conv.ID, conv.LastSeq,
			msgID, senderID, content,
			msgSeq, msgAt,
			conv.UnreadCount, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC(),
		); err != nil {
			return err
		}

		for _, id := range conv.ParticipantIDs() {
			p := conv.Participants[id]
			if _, err := q.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at, last_read_seq)
				VALUES ($1, $2, $3, $4)
			`, conv.ID, p.UserID, p.JoinedAt.UTC(), p.LastReadSeq); err != nil {
				return err
			}
		}

		if first != nil {
			return r.insertMessage(ctx, q, first)
		}
		return nil
	})
}

func (r *Repository) GetConversationLocked(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
) (*domain.Conversation, error) {
	return r.fetchConversation(ctx, tx, convID, true)
}

func (r *Repository) GetConversation(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
) (*domain.Conversation, error) {
	// Inside a transaction the row must be current, never cached.
	if tx != nil || r.Cache == nil {
		return r.fetchConversation(ctx, tx, convID, false)
	}

	if conv, err := r.Cache.GetConversation(ctx, convID); err == nil && conv != nil {
		return conv, nil
	}

	// The version is read before the row so a commit landing in between
	// turns the fill into a no-op.
	version, verErr := r.Cache.ConversationVersion(ctx, convID)

	conv, err := r.fetchConversation(ctx, nil, convID, false)
	if err != nil {
		return nil, err
	}

	if verErr == nil {
		_, _ = r.Cache.SetConversation(ctx, conv, version)
	}

	return conv, nil
}

func (r *Repository) fetchConversation(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
	forUpdate bool,
) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations c
		WHERE c.id = $1`
	if forUpdate {
		query += r.Dialect.ForUpdate()
	}

	q := r.getter(tx)

	conv, err := scanConversation(q.QueryRowContext(ctx, query, convID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_id, joined_at, last_read_seq
		FROM conversation_participants
		WHERE conversation_id = $1
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.UserID, &p.JoinedAt, &p.LastReadSeq); err != nil {
			return nil, err
		}
		conv.Participants[p.UserID] = p
	}

	return conv, rows.Err()
}

func (r *Repository) ListForParticipant(
	ctx context.Context,
	userID string,
) ([]*domain.Conversation, error) {
	q := r.getter(nil)

	rows, err := q.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_participants cp ON c.id = cp.conversation_id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC, c.id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []*domain.Conversation{}
	byID := make(map[string]*domain.Conversation)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conv)
		byID[conv.ID] = conv
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(conversations) == 0 {
		return conversations, nil
	}

	prow, err := q.QueryContext(ctx, `
		SELECT conversation_id, user_id, joined_at, last_read_seq
		FROM conversation_participants
		WHERE conversation_id IN (
			SELECT conversation_id FROM conversation_participants WHERE user_id = $1
		)
	`, userID)
	if err != nil {
		return nil, err
	}
	defer prow.Close()

	for prow.Next() {
		var convID string
		var p domain.Participant
		if err := prow.Scan(&convID, &p.UserID, &p.JoinedAt, &p.LastReadSeq); err != nil {
			return nil, err
		}
		if conv, ok := byID[convID]; ok {
			conv.Participants[p.UserID] = p
		}
	}

	return conversations, prow.Err()
}

func (r *Repository) ListConversationIDs(ctx context.Context) ([]string, error) {
	rows, err := r.getter(nil).QueryContext(ctx, `SELECT id FROM conversations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TouchOnNewMessage never reads the counter back; concurrent senders each
// add their own delta.
func (r *Repository) TouchOnNewMessage(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
	summary domain.MessageSummary,
	delta int,
) error {
	q := r.getter(tx)
	res, err := q.ExecContext(ctx, `
		UPDATE conversations
		SET last_message_id = $2,
		    last_message_sender_id = $3,
		    last_message_content = $4,
		    last_message_seq = $5,
		    last_message_at = $6,
		    unread_count = unread_count + $7,
		    updated_at = $6
		WHERE id = $1
	`, convID, summary.MessageID, summary.SenderID, summary.Content, summary.Seq, summary.Timestamp.UTC(), delta)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *Repository) ResetUnread(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
) error {
	q := r.getter(tx)
	res, err := q.ExecContext(ctx, `
		UPDATE conversations
		SET unread_count = 0
		WHERE id = $1
	`, convID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *Repository) UpdateLastReadSequence(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
	userID string,
	seq int64,
) error {
	q := r.getter(tx)
	_, err := q.ExecContext(ctx, `
		UPDATE conversation_participants
		SET last_read_seq = $3
		WHERE conversation_id = $1
		  AND user_id = $2
		  AND last_read_seq < $3
	`, convID, userID, seq)
	return err
}

func (r *Repository) RepairSummary(
	ctx context.Context,
	tx *sql.Tx,
	convID string,
	latest *domain.Message,
) error {
	q := r.getter(tx)

	var (
		res sql.Result
		err error
	)
	if latest == nil {
		res, err = q.ExecContext(ctx, `
			UPDATE conversations
			SET last_seq = 0,
			    last_message_id = NULL,
			    last_message_sender_id = NULL,
			    last_message_content = NULL,
			    last_message_seq = NULL,
			    last_message_at = NULL
			WHERE id = $1
		`, convID)
	} else {
		res, err = q.ExecContext(ctx, `
			UPDATE conversations
			SET last_seq = $2,
			    last_message_id = $3,
			    last_message_sender_id = $4,
			    last_message_content = $5,
			    last_message_seq = $2,
			    last_message_at = $6
			WHERE id = $1
		`, convID, latest.Seq, latest.ID, latest.SenderID, latest.Content, latest.CreatedAt.UTC())
	}
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *Repository) InvalidateConversation(
	ctx context.Context,
	convID string,
) error {
	if r.Cache != nil {
		return r.Cache.DeleteConversation(ctx, convID)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConversationNotFound
	}
	return nil
}
