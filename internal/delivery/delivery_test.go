package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinicdesk/messaging/internal/auth"
	"github.com/clinicdesk/messaging/internal/events"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SessionReplacement(t *testing.T) {
	r := NewRegistry()

	s1 := NewSession("s1", "user1", "device1", nil)
	r.Add(s1)

	sessions := r.GetUserSessions("user1")
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)

	s2 := NewSession("s2", "user1", "device1", nil)
	r.Add(s2)

	select {
	case <-s1.Done():
	default:
		t.Error("replaced session should be closed")
	}

	sessions = r.GetUserSessions("user1")
	require.Len(t, sessions, 1)
	assert.Equal(t, "s2", sessions[0].ID)

	// Late cleanup of the replaced session keeps its successor.
	r.Remove(s1)
	assert.Len(t, r.GetUserSessions("user1"), 1)

	r.Remove(s2)
	assert.Empty(t, r.GetUserSessions("user1"))
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a := NewSession("a", "u1", "d1", nil)
	b := NewSession("b", "u2", "d1", nil)
	r.Add(a)
	r.Add(b)

	r.CloseAll()
	for _, s := range []*Session{a, b} {
		select {
		case <-s.Done():
		default:
			t.Errorf("session %s still open", s.ID)
		}
	}
	assert.False(t, a.TrySend([]byte("late")))
}

func TestSession_BackpressureClosesSession(t *testing.T) {
	s := NewSession("s", "u", "d", nil)
	for i := 0; i < SendQueueSize; i++ {
		require.True(t, s.TrySend([]byte("x")))
	}
	assert.False(t, s.TrySend([]byte("overflow")))
	select {
	case <-s.Done():
	default:
		t.Error("overflowing session should be closed")
	}
}

func envelope(t *testing.T, eventType string, payload interface{}) *events.Envelope {
	t.Helper()
	data, err := events.Encode(eventType, "c1", payload, time.Now())
	require.NoError(t, err)
	env, err := events.Decode(data)
	require.NoError(t, err)
	return env
}

func TestDispatcher_RoutesToAudience(t *testing.T) {
	r := NewRegistry()
	sender := NewSession("s-a", "alice", "phone", nil)
	recipient := NewSession("s-b", "bob", "laptop", nil)
	outsider := NewSession("s-m", "mallory", "laptop", nil)
	for _, s := range []*Session{sender, recipient, outsider} {
		r.Add(s)
	}

	d := NewDispatcher(r)
	err := d.Handle(context.Background(), envelope(t, events.TypeMessageSent, events.MessageSent{
		MessageID:    "m1",
		SenderID:     "alice",
		RecipientIDs: []string{"bob"},
	}))
	require.NoError(t, err)

	assert.Len(t, sender.SendQueue, 1)
	assert.Len(t, recipient.SendQueue, 1)
	assert.Len(t, outsider.SendQueue, 0)

	var frame events.Envelope
	require.NoError(t, json.Unmarshal(<-recipient.SendQueue, &frame))
	assert.Equal(t, events.TypeMessageSent, frame.EventType)
	assert.Equal(t, "c1", frame.ConversationID)
}

func TestDispatcher_IgnoresUnknownEvents(t *testing.T) {
	r := NewRegistry()
	s := NewSession("s", "alice", "d", nil)
	r.Add(s)

	env := &events.Envelope{EventType: "SOMETHING_ELSE", ConversationID: "c1"}
	require.NoError(t, NewDispatcher(r).Handle(context.Background(), env))
	assert.Len(t, s.SendQueue, 0)
}

func TestHandler_PushesEventsOverWebSocket(t *testing.T) {
	r := NewRegistry()
	h := NewHandler(r, nil)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if uid := req.Header.Get(auth.HeaderUserID); uid != "" {
			req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: uid}))
		}
		h.ServeHTTP(w, req)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?device_id=tablet"

	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	header := http.Header{}
	header.Set(auth.HeaderUserID, "bob")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return len(r.GetUserSessions("bob")) == 1 }, time.Second, 5*time.Millisecond)

	err = NewDispatcher(r).Handle(context.Background(), envelope(t, events.TypeMessagesRead, events.MessagesRead{
		ConversationID: "c1",
		ReaderID:       "alice",
		ParticipantIDs: []string{"alice", "bob"},
	}))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var frame events.Envelope
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, events.TypeMessagesRead, frame.EventType)

	conn.Close()
	assert.Eventually(t, func() bool { return len(r.GetUserSessions("bob")) == 0 }, 2*time.Second, 10*time.Millisecond)
}
