package domain

import (
	"sort"
	"strings"
	"time"
)

const MaxParticipants = 256

type Participant struct {
	UserID      string
	JoinedAt    time.Time
	LastReadSeq int64
}

// MessageSummary is the denormalized snapshot of the newest message kept on
// the conversation row. The Message Store stays authoritative.
type MessageSummary struct {
	MessageID string
	SenderID  string
	Content   string
	Seq       int64
	Timestamp time.Time
}

// Conversation Invariants:
// 1. Membership: Participants is keyed by user ID; the creator is always a member.
// 2. LastSeq equals the Seq of the newest message; LastMessage mirrors that message.
// 3. UnreadCount >= 0. It is shared by all participants and reset by any fetch.
type Conversation struct {
	ID           string
	Participants map[string]Participant
	LastMessage  *MessageSummary
	UnreadCount  int64
	LastSeq      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Conversation) IsParticipant(userID string) bool {
	_, ok := c.Participants[userID]
	return ok
}

func (c *Conversation) CanSend(userID string) error {
	if !c.IsParticipant(userID) {
		return ErrNotParticipant
	}
	return nil
}

// RecipientCount is the number of participants other than senderID.
func (c *Conversation) RecipientCount(senderID string) int {
	n := len(c.Participants)
	if c.IsParticipant(senderID) {
		n--
	}
	return n
}

// ParticipantIDs returns the member IDs in a stable order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for id := range c.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UnreadFor is the number of messages userID has not fetched yet, derived
// from the per-participant read watermark.
func (c *Conversation) UnreadFor(userID string) int64 {
	p, ok := c.Participants[userID]
	if !ok {
		return 0
	}
	if n := c.LastSeq - p.LastReadSeq; n > 0 {
		return n
	}
	return 0
}

// SummaryIsStale reports whether the cached LastMessage disagrees with the
// newest message actually stored.
func (c *Conversation) SummaryIsStale(newest *Message) bool {
	if newest == nil {
		return c.LastMessage != nil || c.LastSeq != 0
	}
	if c.LastMessage == nil {
		return true
	}
	return c.LastMessage.MessageID != newest.ID || c.LastSeq != newest.Seq
}

// NormalizeParticipants trims and de-duplicates the requested member list
// and adds the caller. The request must name at least one participant.
func NormalizeParticipants(callerID string, requested []string) ([]string, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, ErrInvalidInput
	}
	if len(requested) == 0 {
		return nil, ErrInvalidParticipants
	}

	seen := map[string]struct{}{callerID: {}}
	out := []string{callerID}
	for _, id := range requested {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, ErrInvalidParticipants
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	if len(out) > MaxParticipants {
		return nil, ErrTooManyParticipants
	}
	return out, nil
}
