package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	HttpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	OutboxPublishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of outbox publish failures",
		},
		[]string{"service", "event_type"},
	)

	OutboxDeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_dead_lettered_total",
			Help: "Events moved to the outbox dead letter table",
		},
	)

	MessagesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Messages appended to conversations",
		},
	)

	ConversationsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_created_total",
			Help: "Conversations created",
		},
	)

	MessagesMarkedReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_marked_read_total",
			Help: "Read markers added by message fetches",
		},
	)

	SummaryRepairsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_summary_repairs_total",
			Help: "Conversation summaries rewritten because they disagreed with the message store",
		},
	)

	TxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_tx_retries_total",
			Help: "Transaction attempts repeated after a transient conflict",
		},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications handed to a sender",
		},
		[]string{"sender", "result"},
	)

	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "delivery_active_connections",
			Help: "Open realtime delivery sessions",
		},
	)
)
