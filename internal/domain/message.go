package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const MaxMessageSize = 5000

type ReadMarker struct {
	UserID string
	ReadAt time.Time
}

// Message Invariants:
// 1. Ordering: Seq is strictly increasing and gapless per ConversationID;
//    CreatedAt never decreases along Seq.
// 2. Immutability: only ReadBy grows, one marker per user, never removed.
// 3. The sender has read its own message from the start.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Seq            int64
	Content        string
	ReadBy         []ReadMarker
	CreatedAt      time.Time
}

func NewMessage(
	id string,
	conversationID string,
	senderID string,
	seq int64,
	content string,
	now time.Time,
) (*Message, error) {

	if id == "" || conversationID == "" || senderID == "" || seq <= 0 {
		return nil, ErrInvalidInput
	}

	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Seq:            seq,
		Content:        content,
		ReadBy:         []ReadMarker{{UserID: senderID, ReadAt: now}},
		CreatedAt:      now,
	}, nil
}

func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	// Postgres TEXT rejects NUL.
	if !utf8.ValidString(content) || strings.IndexByte(content, 0) >= 0 {
		return ErrInvalidContent
	}
	return nil
}

func (m *Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Seq:       m.Seq,
		Timestamp: m.CreatedAt,
	}
}

// NextTimestamp clamps now so that a new message is never older than the
// previous one in the same conversation.
func NextTimestamp(now time.Time, previous *time.Time) time.Time {
	now = now.UTC()
	if previous != nil && now.Before(*previous) {
		return previous.UTC()
	}
	return now
}
