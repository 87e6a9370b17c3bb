package application

import (
	"context"
	"database/sql"
	"time"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/repository"
	"github.com/stretchr/testify/mock"
)

// MockRepo is a mock for the Repository interface
type MockRepo struct {
	mock.Mock
}

var _ repository.Repository = (*MockRepo)(nil)

func (m *MockRepo) CreateConversation(ctx context.Context, tx *sql.Tx, conv *domain.Conversation, first *domain.Message) error {
	return m.Called(ctx, tx, conv, first).Error(0)
}
func (m *MockRepo) GetConversation(ctx context.Context, tx *sql.Tx, convID string) (*domain.Conversation, error) {
	args := m.Called(ctx, tx, convID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}
func (m *MockRepo) GetConversationLocked(ctx context.Context, tx *sql.Tx, convID string) (*domain.Conversation, error) {
	args := m.Called(ctx, tx, convID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}
func (m *MockRepo) ListForParticipant(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}
func (m *MockRepo) ListConversationIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRepo) TouchOnNewMessage(ctx context.Context, tx *sql.Tx, convID string, summary domain.MessageSummary, delta int) error {
	return m.Called(ctx, tx, convID, summary, delta).Error(0)
}
func (m *MockRepo) ResetUnread(ctx context.Context, tx *sql.Tx, convID string) error {
	return m.Called(ctx, tx, convID).Error(0)
}
func (m *MockRepo) UpdateLastReadSequence(ctx context.Context, tx *sql.Tx, convID, userID string, seq int64) error {
	return m.Called(ctx, tx, convID, userID, seq).Error(0)
}
func (m *MockRepo) RepairSummary(ctx context.Context, tx *sql.Tx, convID string, latest *domain.Message) error {
	return m.Called(ctx, tx, convID, latest).Error(0)
}
func (m *MockRepo) InvalidateConversation(ctx context.Context, convID string) error {
	return m.Called(ctx, convID).Error(0)
}
func (m *MockRepo) AppendMessage(ctx context.Context, tx *sql.Tx, convID, senderID, content string, now time.Time) (*domain.Message, error) {
	args := m.Called(ctx, tx, convID, senderID, content, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}
func (m *MockRepo) ListByConversation(ctx context.Context, tx *sql.Tx, convID string) ([]*domain.Message, error) {
	args := m.Called(ctx, tx, convID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}
func (m *MockRepo) LatestMessage(ctx context.Context, tx *sql.Tx, convID string) (*domain.Message, error) {
	args := m.Called(ctx, tx, convID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}
func (m *MockRepo) MarkReadForUser(ctx context.Context, tx *sql.Tx, convID, userID string, at time.Time) (int64, error) {
	args := m.Called(ctx, tx, convID, userID, at)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockRepo) TryInsertIdempotency(ctx context.Context, tx *sql.Tx, key, userID, conversationID string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, tx, key, userID, conversationID, expiresAt)
	return args.Bool(0), args.Error(1)
}
func (m *MockRepo) GetIdempotencyForUpdate(ctx context.Context, tx *sql.Tx, key, userID, conversationID string) ([]byte, error) {
	args := m.Called(ctx, tx, key, userID, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockRepo) UpdateIdempotencyResponse(ctx context.Context, tx *sql.Tx, key, userID, conversationID string, payload []byte) error {
	return m.Called(ctx, tx, key, userID, conversationID, payload).Error(0)
}
func (m *MockRepo) InsertOutbox(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID, eventType string, payload []byte) error {
	return m.Called(ctx, tx, aggregateType, aggregateID, eventType, payload).Error(0)
}
func (m *MockRepo) ClaimOutbox(ctx context.Context, tx *sql.Tx, limit int) ([]repository.OutboxEvent, error) {
	args := m.Called(ctx, tx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.OutboxEvent), args.Error(1)
}
func (m *MockRepo) MarkOutboxProcessed(ctx context.Context, tx *sql.Tx, id int64) error {
	return m.Called(ctx, tx, id).Error(0)
}
func (m *MockRepo) MarkOutboxFailed(ctx context.Context, tx *sql.Tx, id int64, reason string) error {
	return m.Called(ctx, tx, id, reason).Error(0)
}
func (m *MockRepo) MoveOutboxToDLQ(ctx context.Context, tx *sql.Tx, e repository.OutboxEvent, reason string) error {
	return m.Called(ctx, tx, e, reason).Error(0)
}
func (m *MockRepo) LookupUsers(ctx context.Context, ids []string) (map[string]domain.UserSummary, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]domain.UserSummary), args.Error(1)
}

// MockTransactor is a mock for the Transactor interface
type MockTransactor struct{}

func (m *MockTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	return fn(ctx, nil)
}
