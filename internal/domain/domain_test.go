package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNormalizeParticipants(t *testing.T) {
	tests := []struct {
		name      string
		caller    string
		requested []string
		want      []string
		wantErr   error
	}{
		{
			name:      "Caller added first",
			caller:    "a",
			requested: []string{"b"},
			want:      []string{"a", "b"},
		},
		{
			name:      "Caller already listed",
			caller:    "a",
			requested: []string{"b", "a"},
			want:      []string{"a", "b"},
		},
		{
			name:      "Duplicates and whitespace collapsed",
			caller:    "a",
			requested: []string{" b ", "b", "c"},
			want:      []string{"a", "b", "c"},
		},
		{
			name:      "Self conversation allowed",
			caller:    "a",
			requested: []string{"a"},
			want:      []string{"a"},
		},
		{
			name:      "Empty request",
			caller:    "a",
			requested: nil,
			wantErr:   ErrInvalidParticipants,
		},
		{
			name:      "Blank id",
			caller:    "a",
			requested: []string{"b", "  "},
			wantErr:   ErrInvalidParticipants,
		},
		{
			name:      "Missing caller",
			caller:    "",
			requested: []string{"b"},
			wantErr:   ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeParticipants(tt.caller, tt.requested)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NormalizeParticipants() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeParticipants() unexpected error: %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("NormalizeParticipants() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeParticipants_Limit(t *testing.T) {
	ids := make([]string, MaxParticipants)
	for i := range ids {
		ids[i] = strings.Repeat("u", i+1)
	}
	if _, err := NormalizeParticipants("caller", ids); !errors.Is(err, ErrTooManyParticipants) {
		t.Errorf("expected ErrTooManyParticipants, got %v", err)
	}
}

func TestNewMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	msg, err := NewMessage("m1", "c1", "alice", 1, "hi", now)
	if err != nil {
		t.Fatalf("NewMessage() error = %v", err)
	}
	if !msg.IsReadBy("alice") {
		t.Error("sender should have read its own message")
	}
	if msg.IsReadBy("bob") {
		t.Error("recipient should not have read the message yet")
	}

	if _, err := NewMessage("m1", "c1", "alice", 1, "   ", now); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	if _, err := NewMessage("m1", "c1", "alice", 1, strings.Repeat("x", MaxMessageSize+1), now); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if _, err := NewMessage("m1", "c1", "alice", 0, "hi", now); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for zero sequence, got %v", err)
	}
}

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"plain text", "BP 120/80, follow up Tuesday", nil},
		{"unicode", "Dosis: 5 mg ✓", nil},
		{"blank", " \t\n", ErrEmptyContent},
		{"nul byte", "before\x00after", ErrInvalidContent},
		{"invalid utf8", "bad \xff\xfe bytes", ErrInvalidContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContent(tt.content)
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateContent(%q) = %v, want %v", tt.content, err, tt.want)
			}
			if tt.want != nil && !IsValidation(err) {
				t.Errorf("expected %v to be a validation error", err)
			}
		})
	}
}

func TestNextTimestamp(t *testing.T) {
	prev := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if got := NextTimestamp(prev.Add(-time.Second), &prev); !got.Equal(prev) {
		t.Errorf("clock behind previous message: got %v, want %v", got, prev)
	}
	later := prev.Add(time.Second)
	if got := NextTimestamp(later, &prev); !got.Equal(later) {
		t.Errorf("got %v, want %v", got, later)
	}
	if got := NextTimestamp(later, nil); !got.Equal(later) {
		t.Errorf("first message: got %v, want %v", got, later)
	}
}

func TestConversation_Membership(t *testing.T) {
	conv := &Conversation{
		ID: "c1",
		Participants: map[string]Participant{
			"alice": {UserID: "alice", LastReadSeq: 3},
			"bob":   {UserID: "bob", LastReadSeq: 1},
		},
		LastSeq: 3,
	}

	if err := conv.CanSend("mallory"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("expected ErrNotParticipant, got %v", err)
	}
	if got := conv.RecipientCount("alice"); got != 1 {
		t.Errorf("RecipientCount() = %d, want 1", got)
	}
	if got := conv.UnreadFor("bob"); got != 2 {
		t.Errorf("UnreadFor(bob) = %d, want 2", got)
	}
	if got := conv.UnreadFor("alice"); got != 0 {
		t.Errorf("UnreadFor(alice) = %d, want 0", got)
	}
	if got := conv.ParticipantIDs(); strings.Join(got, ",") != "alice,bob" {
		t.Errorf("ParticipantIDs() = %v", got)
	}
}

func TestConversation_SummaryIsStale(t *testing.T) {
	newest := &Message{ID: "m2", Seq: 2}

	conv := &Conversation{LastSeq: 2, LastMessage: &MessageSummary{MessageID: "m2", Seq: 2}}
	if conv.SummaryIsStale(newest) {
		t.Error("matching summary reported stale")
	}

	conv.LastMessage = &MessageSummary{MessageID: "m1", Seq: 1}
	conv.LastSeq = 2
	if !conv.SummaryIsStale(newest) {
		t.Error("summary pointing at an older message should be stale")
	}

	empty := &Conversation{}
	if empty.SummaryIsStale(nil) {
		t.Error("empty conversation without messages is not stale")
	}
}
