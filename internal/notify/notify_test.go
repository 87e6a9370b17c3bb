package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSender struct {
	name string
	err  error
	mu   sync.Mutex
	got  []Notification
	fn   func(ctx context.Context)
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, n Notification) error {
	if f.fn != nil {
		f.fn(ctx)
	}
	f.mu.Lock()
	f.got = append(f.got, n)
	f.mu.Unlock()
	return f.err
}

func messageSent(t *testing.T, recipients ...string) *events.Envelope {
	t.Helper()
	data, err := events.Encode(events.TypeMessageSent, "c1", events.MessageSent{
		MessageID:      "m1",
		ConversationID: "c1",
		SenderID:       "dr-lee",
		Content:        "lab results attached",
		RecipientIDs:   recipients,
	}, time.Now())
	require.NoError(t, err)
	env, err := events.Decode(data)
	require.NoError(t, err)
	return env
}

func TestDispatcher_FansOutToEverySender(t *testing.T) {
	a := &fakeSender{name: "email-test"}
	b := &fakeSender{name: "sms-test"}
	d := &Dispatcher{Senders: []Sender{a, b}}

	require.NoError(t, d.Handle(context.Background(), messageSent(t, "nurse-kim", "front-desk")))

	for _, s := range []*fakeSender{a, b} {
		require.Len(t, s.got, 1)
		assert.Equal(t, "m1", s.got[0].MessageID)
		assert.Equal(t, []string{"nurse-kim", "front-desk"}, s.got[0].RecipientIDs)
	}
}

func TestDispatcher_FailuresAreIsolated(t *testing.T) {
	failing := &fakeSender{name: "failing-test", err: errors.New("smtp refused")}
	panicking := &fakeSender{name: "panicking-test", fn: func(context.Context) { panic("nil pointer") }}
	slow := &fakeSender{name: "slow-test", fn: func(ctx context.Context) { <-ctx.Done() }}
	ok := &fakeSender{name: "ok-test"}

	d := &Dispatcher{Senders: []Sender{failing, panicking, slow, ok}, Timeout: 20 * time.Millisecond}
	err := d.Handle(context.Background(), messageSent(t, "nurse-kim"))
	require.NoError(t, err)

	assert.Len(t, ok.got, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(observability.NotificationsTotal.WithLabelValues("failing-test", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(observability.NotificationsTotal.WithLabelValues("panicking-test", "panic")))
	assert.Equal(t, float64(1), testutil.ToFloat64(observability.NotificationsTotal.WithLabelValues("ok-test", "ok")))
}

func TestDispatcher_IgnoresOtherEvents(t *testing.T) {
	s := &fakeSender{name: "ignored-test"}
	d := &Dispatcher{Senders: []Sender{s}}

	data, err := events.Encode(events.TypeMessagesRead, "c1", events.MessagesRead{ConversationID: "c1"}, time.Now())
	require.NoError(t, err)
	env, err := events.Decode(data)
	require.NoError(t, err)

	require.NoError(t, d.Handle(context.Background(), env))
	require.NoError(t, d.Handle(context.Background(), messageSent(t)))
	assert.Empty(t, s.got)
}

func TestAuditSender_OmitsContent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := &Dispatcher{Senders: []Sender{AuditSender{Log: zap.New(core)}}}

	require.NoError(t, d.Handle(context.Background(), messageSent(t, "nurse-kim")))

	entries := logs.FilterMessage("message notification").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "m1", fields["message_id"])
	for _, v := range fields {
		assert.NotEqual(t, "lab results attached", v)
	}
}
