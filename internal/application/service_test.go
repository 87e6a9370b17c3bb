package application

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newTestService(repo *MockRepo, cfg Config) *Service {
	cfg.Clock = func() time.Time { return fixedNow }
	return New(repo, &MockTransactor{}, zap.NewNop(), cfg)
}

func testConversation(members ...string) *domain.Conversation {
	conv := &domain.Conversation{
		ID:           "conv-1",
		Participants: make(map[string]domain.Participant),
		LastSeq:      1,
		LastMessage:  &domain.MessageSummary{MessageID: "msg-1", SenderID: members[0], Content: "hi", Seq: 1},
	}
	for _, m := range members {
		conv.Participants[m] = domain.Participant{UserID: m}
	}
	return conv
}

func TestSendMessage(t *testing.T) {
	t.Run("Participant can send", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})
		conv := testConversation("alice", "bob", "carol")
		msg := &domain.Message{ID: "msg-2", ConversationID: conv.ID, SenderID: "alice", Seq: 2, Content: "how are you", CreatedAt: fixedNow}

		repo.On("GetConversationLocked", mock.Anything, mock.Anything, conv.ID).Return(conv, nil).Once()
		repo.On("AppendMessage", mock.Anything, mock.Anything, conv.ID, "alice", "how are you", fixedNow).Return(msg, nil).Once()
		repo.On("TouchOnNewMessage", mock.Anything, mock.Anything, conv.ID, msg.Summary(), 2).Return(nil).Once()
		repo.On("UpdateLastReadSequence", mock.Anything, mock.Anything, conv.ID, "alice", int64(2)).Return(nil).Once()
		repo.On("InsertOutbox", mock.Anything, mock.Anything, "conversation", conv.ID, "MESSAGE_SENT", mock.Anything).Return(nil).Once()
		repo.On("InvalidateConversation", mock.Anything, conv.ID).Return(nil).Once()

		got, err := svc.SendMessage(context.Background(), SendMessageCommand{
			ConversationID: conv.ID,
			CallerID:       "alice",
			Content:        "how are you",
		})
		require.NoError(t, err)
		assert.Equal(t, msg, got)
		repo.AssertExpectations(t)
	})

	t.Run("Non participant is rejected before any write", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})
		conv := testConversation("alice", "bob")

		repo.On("GetConversationLocked", mock.Anything, mock.Anything, conv.ID).Return(conv, nil).Once()

		_, err := svc.SendMessage(context.Background(), SendMessageCommand{
			ConversationID: conv.ID,
			CallerID:       "mallory",
			Content:        "hello",
		})
		assert.ErrorIs(t, err, domain.ErrNotParticipant)
		repo.AssertNotCalled(t, "AppendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})

	t.Run("Membership concealed as not found", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{ConcealMembership: true})
		conv := testConversation("alice", "bob")

		repo.On("GetConversationLocked", mock.Anything, mock.Anything, conv.ID).Return(conv, nil).Once()

		_, err := svc.SendMessage(context.Background(), SendMessageCommand{
			ConversationID: conv.ID,
			CallerID:       "mallory",
			Content:        "hello",
		})
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("Unknown conversation", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})

		repo.On("GetConversationLocked", mock.Anything, mock.Anything, "missing").Return(nil, domain.ErrConversationNotFound).Once()

		_, err := svc.SendMessage(context.Background(), SendMessageCommand{
			ConversationID: "missing",
			CallerID:       "alice",
			Content:        "hello",
		})
		assert.ErrorIs(t, err, domain.ErrConversationNotFound)
	})

	t.Run("Empty content never reaches the store", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})

		_, err := svc.SendMessage(context.Background(), SendMessageCommand{
			ConversationID: "conv-1",
			CallerID:       "alice",
			Content:        " \n ",
		})
		assert.ErrorIs(t, err, domain.ErrEmptyContent)
		assert.True(t, domain.IsValidation(err))
		repo.AssertExpectations(t)
	})

	t.Run("Replayed idempotency key returns the stored message", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})
		stored := &domain.Message{ID: "msg-2", ConversationID: "conv-1", SenderID: "alice", Seq: 2, Content: "hello", CreatedAt: fixedNow}
		payload, err := json.Marshal(stored)
		require.NoError(t, err)

		repo.On("TryInsertIdempotency", mock.Anything, mock.Anything, "key-1", "alice", "conv-1", fixedNow.Add(24*time.Hour)).Return(false, nil).Once()
		repo.On("GetIdempotencyForUpdate", mock.Anything, mock.Anything, "key-1", "alice", "conv-1").Return(payload, nil).Once()

		got, err := svc.SendMessage(context.Background(), SendMessageCommand{
			ConversationID: "conv-1",
			CallerID:       "alice",
			Content:        "hello",
			IdempotencyKey: "key-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "msg-2", got.ID)
		assert.Equal(t, int64(2), got.Seq)
		repo.AssertNotCalled(t, "GetConversationLocked", mock.Anything, mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})
}

func TestGetMessages(t *testing.T) {
	t.Run("Marks read, resets unread and repairs a stale summary", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})
		conv := testConversation("alice", "bob")
		m1 := &domain.Message{ID: "msg-1", ConversationID: conv.ID, SenderID: "alice", Seq: 1, Content: "hi"}
		m2 := &domain.Message{ID: "msg-2", ConversationID: conv.ID, SenderID: "alice", Seq: 2, Content: "there"}
		msgs := []*domain.Message{m1, m2}

		repo.On("GetConversationLocked", mock.Anything, mock.Anything, conv.ID).Return(conv, nil).Once()
		repo.On("MarkReadForUser", mock.Anything, mock.Anything, conv.ID, "bob", fixedNow).Return(int64(2), nil).Once()
		repo.On("ResetUnread", mock.Anything, mock.Anything, conv.ID).Return(nil).Once()
		repo.On("ListByConversation", mock.Anything, mock.Anything, conv.ID).Return(msgs, nil).Once()
		repo.On("RepairSummary", mock.Anything, mock.Anything, conv.ID, m2).Return(nil).Once()
		repo.On("UpdateLastReadSequence", mock.Anything, mock.Anything, conv.ID, "bob", int64(2)).Return(nil).Once()
		repo.On("InsertOutbox", mock.Anything, mock.Anything, "conversation", conv.ID, "MESSAGES_READ", mock.Anything).Return(nil).Once()
		repo.On("InvalidateConversation", mock.Anything, conv.ID).Return(nil).Once()

		got, err := svc.GetMessages(context.Background(), "bob", conv.ID)
		require.NoError(t, err)
		assert.Equal(t, msgs, got)
		repo.AssertExpectations(t)
	})

	t.Run("Nothing new to mark emits no event", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})
		conv := testConversation("alice", "bob")
		m1 := &domain.Message{ID: "msg-1", ConversationID: conv.ID, SenderID: "alice", Seq: 1, Content: "hi"}

		repo.On("GetConversationLocked", mock.Anything, mock.Anything, conv.ID).Return(conv, nil).Once()
		repo.On("MarkReadForUser", mock.Anything, mock.Anything, conv.ID, "bob", fixedNow).Return(int64(0), nil).Once()
		repo.On("ResetUnread", mock.Anything, mock.Anything, conv.ID).Return(nil).Once()
		repo.On("ListByConversation", mock.Anything, mock.Anything, conv.ID).Return([]*domain.Message{m1}, nil).Once()
		repo.On("UpdateLastReadSequence", mock.Anything, mock.Anything, conv.ID, "bob", int64(1)).Return(nil).Once()
		repo.On("InvalidateConversation", mock.Anything, conv.ID).Return(nil).Once()

		_, err := svc.GetMessages(context.Background(), "bob", conv.ID)
		require.NoError(t, err)
		repo.AssertNotCalled(t, "InsertOutbox", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertNotCalled(t, "RepairSummary", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		repo.AssertExpectations(t)
	})

	t.Run("Non participant receives no data", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})
		conv := testConversation("alice", "bob")

		repo.On("GetConversationLocked", mock.Anything, mock.Anything, conv.ID).Return(conv, nil).Once()

		got, err := svc.GetMessages(context.Background(), "mallory", conv.ID)
		assert.ErrorIs(t, err, domain.ErrNotParticipant)
		assert.Nil(t, got)
		repo.AssertNotCalled(t, "MarkReadForUser", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestListConversations_RetriesTransientReadOnce(t *testing.T) {
	repo := new(MockRepo)
	svc := newTestService(repo, Config{})
	conv := testConversation("alice", "bob")
	conv.Participants["alice"] = domain.Participant{UserID: "alice", LastReadSeq: 1}

	repo.On("ListForParticipant", mock.Anything, "alice").Return(nil, driver.ErrBadConn).Once()
	repo.On("ListForParticipant", mock.Anything, "alice").Return([]*domain.Conversation{conv}, nil).Once()
	repo.On("LookupUsers", mock.Anything, []string{"alice", "bob"}).Return(map[string]domain.UserSummary{
		"alice": {ID: "alice", DisplayName: "Dr. Alice"},
	}, nil).Once()

	got, err := svc.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Dr. Alice", got[0].Participants[0].DisplayName)
	assert.Equal(t, domain.UserSummary{ID: "bob"}, got[0].Participants[1])
	assert.Equal(t, int64(0), got[0].MyUnread)
	repo.AssertExpectations(t)
}

func TestListConversations_DomainErrorsAreNotRetried(t *testing.T) {
	repo := new(MockRepo)
	svc := newTestService(repo, Config{})

	repo.On("ListForParticipant", mock.Anything, "alice").Return(nil, domain.ErrInvalidInput).Once()

	_, err := svc.ListConversations(context.Background(), "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	repo.AssertNumberOfCalls(t, "ListForParticipant", 1)
}

func TestCreateConversation(t *testing.T) {
	t.Run("Caller is added and first message stored", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})

		repo.On("CreateConversation", mock.Anything, mock.Anything,
			mock.MatchedBy(func(c *domain.Conversation) bool {
				return len(c.Participants) == 2 && c.UnreadCount == 1 && c.LastSeq == 1 &&
					c.LastMessage != nil && c.LastMessage.Content == "hi" &&
					c.Participants["alice"].LastReadSeq == 1
			}),
			mock.MatchedBy(func(m *domain.Message) bool {
				return m.SenderID == "alice" && m.Seq == 1 && m.IsReadBy("alice")
			}),
		).Return(nil).Once()
		repo.On("InsertOutbox", mock.Anything, mock.Anything, "conversation", mock.Anything, "CONVERSATION_CREATED", mock.Anything).Return(nil).Once()
		repo.On("InsertOutbox", mock.Anything, mock.Anything, "conversation", mock.Anything, "MESSAGE_SENT", mock.Anything).Return(nil).Once()
		repo.On("LookupUsers", mock.Anything, []string{"alice", "bob"}).Return(map[string]domain.UserSummary{}, nil).Once()

		got, err := svc.CreateConversation(context.Background(), CreateConversationCommand{
			CallerID:       "alice",
			ParticipantIDs: []string{"bob"},
			Message:        "hi",
		})
		require.NoError(t, err)
		assert.Len(t, got.Participants, 2)
		assert.Equal(t, int64(1), got.Conversation.UnreadCount)
		assert.Equal(t, int64(0), got.MyUnread)
		repo.AssertExpectations(t)
	})

	t.Run("Invalid input is rejected without writes", func(t *testing.T) {
		repo := new(MockRepo)
		svc := newTestService(repo, Config{})

		_, err := svc.CreateConversation(context.Background(), CreateConversationCommand{CallerID: "alice", Message: "hi"})
		assert.ErrorIs(t, err, domain.ErrInvalidParticipants)

		_, err = svc.CreateConversation(context.Background(), CreateConversationCommand{CallerID: "alice", ParticipantIDs: []string{"bob"}})
		assert.ErrorIs(t, err, domain.ErrEmptyContent)
		repo.AssertExpectations(t)
	})
}

func TestReconcileAll(t *testing.T) {
	repo := new(MockRepo)
	svc := newTestService(repo, Config{})

	stale := testConversation("alice", "bob")
	stale.ID = "c-stale"
	fresh := testConversation("alice", "bob")
	fresh.ID = "c-fresh"
	latest := &domain.Message{ID: "msg-9", ConversationID: "c-stale", Seq: 2}

	repo.On("ListConversationIDs", mock.Anything).Return([]string{"c-fresh", "c-stale"}, nil).Once()
	repo.On("GetConversationLocked", mock.Anything, mock.Anything, "c-fresh").Return(fresh, nil).Once()
	repo.On("LatestMessage", mock.Anything, mock.Anything, "c-fresh").Return(&domain.Message{ID: "msg-1", Seq: 1}, nil).Once()
	repo.On("GetConversationLocked", mock.Anything, mock.Anything, "c-stale").Return(stale, nil).Once()
	repo.On("LatestMessage", mock.Anything, mock.Anything, "c-stale").Return(latest, nil).Once()
	repo.On("RepairSummary", mock.Anything, mock.Anything, "c-stale", latest).Return(nil).Once()
	repo.On("InvalidateConversation", mock.Anything, "c-stale").Return(nil).Once()

	n, err := svc.ReconcileAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	repo.AssertExpectations(t)
}
