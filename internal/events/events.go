package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const SchemaVersion = 1

const (
	TypeConversationCreated = "CONVERSATION_CREATED"
	TypeMessageSent         = "MESSAGE_SENT"
	TypeMessagesRead        = "MESSAGES_READ"

	AggregateConversation = "conversation"
)

// Envelope is the wire format of every event published from the outbox.
type Envelope struct {
	EventType      string          `json:"event_type"`
	SchemaVersion  int             `json:"schema_version"`
	OccurredAt     time.Time       `json:"occurred_at"`
	ConversationID string          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
}

type ConversationCreated struct {
	ConversationID string    `json:"conversation_id"`
	CreatedBy      string    `json:"created_by"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessageSent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Seq            int64     `json:"seq"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	RecipientIDs   []string  `json:"recipient_ids"`
}

type MessagesRead struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	UpToSeq        int64     `json:"up_to_seq"`
	Marked         int64     `json:"marked"`
	ReadAt         time.Time `json:"read_at"`
	ParticipantIDs []string  `json:"participant_ids"`
}

// Encode wraps payload in an envelope.
func Encode(eventType, conversationID string, payload interface{}, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return json.Marshal(Envelope{
		EventType:      eventType,
		SchemaVersion:  SchemaVersion,
		OccurredAt:     at.UTC(),
		ConversationID: conversationID,
		Payload:        raw,
	})
}

func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return nil, fmt.Errorf("decode envelope: missing event_type")
	}
	return &env, nil
}

// Audience returns the users an event concerns.
func (e *Envelope) Audience() ([]string, error) {
	switch e.EventType {
	case TypeConversationCreated:
		var p ConversationCreated
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p.ParticipantIDs, nil
	case TypeMessageSent:
		var p MessageSent
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return append([]string{p.SenderID}, p.RecipientIDs...), nil
	case TypeMessagesRead:
		var p MessagesRead
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, err
		}
		return p.ParticipantIDs, nil
	default:
		return nil, nil
	}
}

// Handler consumes decoded events.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

type HandlerFunc func(ctx context.Context, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Fanout delivers each event to every handler and returns the first error.
type Fanout []Handler

func (f Fanout) Handle(ctx context.Context, env *Envelope) error {
	var first error
	for _, h := range f {
		if err := h.Handle(ctx, env); err != nil && first == nil {
			first = err
		}
	}
	return first
}
