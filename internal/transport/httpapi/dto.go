package httpapi

import (
	"time"

	"github.com/clinicdesk/messaging/internal/application"
	"github.com/clinicdesk/messaging/internal/domain"
)

type createConversationRequest struct {
	ParticipantIDs []string `json:"participantIds"`
	Message        string   `json:"message"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type lastMessageDTO struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

type conversationDTO struct {
	ID           string               `json:"id"`
	Participants []domain.UserSummary `json:"participants"`
	LastMessage  *lastMessageDTO      `json:"lastMessage"`
	UnreadCount  int64                `json:"unreadCount"`
	MyUnread     int64                `json:"myUnread"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

type readMarkerDTO struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

type messageDTO struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Seq            int64           `json:"seq"`
	Content        string          `json:"content"`
	ReadBy         []readMarkerDTO `json:"readBy"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toConversationDTO(d *application.ConversationDetails) conversationDTO {
	c := d.Conversation
	out := conversationDTO{
		ID:           c.ID,
		Participants: d.Participants,
		UnreadCount:  c.UnreadCount,
		MyUnread:     d.MyUnread,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
	if lm := c.LastMessage; lm != nil {
		out.LastMessage = &lastMessageDTO{
			ID:        lm.MessageID,
			Content:   lm.Content,
			SenderID:  lm.SenderID,
			Timestamp: lm.Timestamp,
		}
	}
	return out
}

func toMessageDTO(m *domain.Message) messageDTO {
	reads := make([]readMarkerDTO, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		reads = append(reads, readMarkerDTO{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return messageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Seq:            m.Seq,
		Content:        m.Content,
		ReadBy:         reads,
		CreatedAt:      m.CreatedAt,
	}
}
