package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/clinicdesk/messaging/internal/domain"
)

// ConversationStore owns conversations, their participant sets and the
// denormalized summary (last message, unread counter).
type ConversationStore interface {
	// CreateConversation persists conv, its participants and its first message
	// as one unit. With a nil tx the store opens its own transaction.
	CreateConversation(ctx context.Context, tx *sql.Tx, conv *domain.Conversation, first *domain.Message) error

	// GetConversation (ReadOnly/Cached) - Best Effort consistency
	GetConversation(ctx context.Context, tx *sql.Tx, convID string) (*domain.Conversation, error)

	// GetConversationLocked (Write/Strict) - SELECT ... FOR UPDATE
	GetConversationLocked(ctx context.Context, tx *sql.Tx, convID string) (*domain.Conversation, error)

	// ListForParticipant returns userID's conversations, newest activity first.
	ListForParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error)
	ListConversationIDs(ctx context.Context) ([]string, error)

	// TouchOnNewMessage stores summary and atomically adds delta to the unread counter.
	TouchOnNewMessage(ctx context.Context, tx *sql.Tx, convID string, summary domain.MessageSummary, delta int) error
	ResetUnread(ctx context.Context, tx *sql.Tx, convID string) error
	UpdateLastReadSequence(ctx context.Context, tx *sql.Tx, convID, userID string, seq int64) error

	// RepairSummary rewrites the summary from latest (nil clears it).
	RepairSummary(ctx context.Context, tx *sql.Tx, convID string, latest *domain.Message) error

	// InvalidateConversation (Cache)
	InvalidateConversation(ctx context.Context, convID string) error
}

// MessageStore is the append-only, per-conversation message history.
type MessageStore interface {
	// AppendMessage allocates the next sequence and stores the message with the
	// sender's read marker. It fails with domain.ErrNotParticipant when senderID
	// is not a member at write time.
	AppendMessage(ctx context.Context, tx *sql.Tx, convID, senderID, content string, now time.Time) (*domain.Message, error)
	ListByConversation(ctx context.Context, tx *sql.Tx, convID string) ([]*domain.Message, error)
	LatestMessage(ctx context.Context, tx *sql.Tx, convID string) (*domain.Message, error)

	// MarkReadForUser adds a read marker for every message userID has not read
	// yet and returns how many were added.
	MarkReadForUser(ctx context.Context, tx *sql.Tx, convID, userID string, at time.Time) (int64, error)
}

type IdempotencyStore interface {
	TryInsertIdempotency(ctx context.Context, tx *sql.Tx, key, userID, conversationID string, expiresAt time.Time) (bool, error)
	GetIdempotencyForUpdate(ctx context.Context, tx *sql.Tx, key, userID, conversationID string) ([]byte, error)
	UpdateIdempotencyResponse(ctx context.Context, tx *sql.Tx, key, userID, conversationID string, payload []byte) error
}

type OutboxEvent struct {
	ID            int64
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	RetryCount    int
}

type OutboxStore interface {
	InsertOutbox(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID, eventType string, payload []byte) error
	ClaimOutbox(ctx context.Context, tx *sql.Tx, limit int) ([]OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, tx *sql.Tx, id int64) error
	MarkOutboxFailed(ctx context.Context, tx *sql.Tx, id int64, reason string) error
	MoveOutboxToDLQ(ctx context.Context, tx *sql.Tx, e OutboxEvent, reason string) error
}

// Directory resolves participant details from the identity provider's user mirror.
type Directory interface {
	LookupUsers(ctx context.Context, ids []string) (map[string]domain.UserSummary, error)
}

type Repository interface {
	ConversationStore
	MessageStore
	IdempotencyStore
	OutboxStore
	Directory
}
