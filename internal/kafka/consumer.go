package kafka

import (
	"context"
	"errors"

	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// consumedHeaders is the read side of recordHeaders.
type consumedHeaders []kgo.RecordHeader

func (h consumedHeaders) Get(key string) string {
	for _, hdr := range h {
		if hdr.Key == key {
			return string(hdr.Value)
		}
	}
	return ""
}

func (consumedHeaders) Set(string, string) {}

func (h consumedHeaders) Keys() []string {
	keys := make([]string, 0, len(h))
	for _, hdr := range h {
		keys = append(keys, hdr.Key)
	}
	return keys
}

// Consumer feeds messaging events from a consumer group into a handler.
type Consumer struct {
	client  *kgo.Client
	handler events.Handler
}

func NewConsumer(brokers []string, group string, topics []string, handler events.Handler) (*Consumer, error) {
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.OnPartitionsRevoked(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			observability.GetLogger(ctx).Info("kafka partitions revoked")
		}),
		kgo.OnPartitionsAssigned(func(ctx context.Context, _ *kgo.Client, _ map[string][]int32) {
			observability.GetLogger(ctx).Info("kafka partitions assigned")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: cl, handler: handler}, nil
}

// Start runs the poll loop in its own goroutine until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		log := observability.GetLogger(ctx)
		log.Info("kafka consumer started")
		for {
			select {
			case <-ctx.Done():
				log.Info("kafka consumer loop stopping: context canceled")
				return
			default:
				fetches := c.client.PollFetches(ctx)
				if errs := fetches.Errors(); len(errs) > 0 {
					for _, ferr := range errs {
						if errors.Is(ferr.Err, context.Canceled) {
							return
						}
						log.Error("kafka fetch error", zap.String("topic", ferr.Topic), zap.Int32("partition", ferr.Partition), zap.Error(ferr.Err))
					}
					continue
				}

				fetches.EachRecord(func(r *kgo.Record) {
					ctx := otel.GetTextMapPropagator().Extract(ctx, consumedHeaders(r.Headers))
					HandleRecord(ctx, c.handler, r.Value)
				})
			}
		}
	}()
}

// HandleRecord decodes one record and passes it on. Bad records, envelopes
// from a newer schema and handler failures are logged and skipped.
func HandleRecord(ctx context.Context, h events.Handler, value []byte) {
	log := observability.GetLogger(ctx)

	env, err := events.Decode(value)
	if err != nil {
		log.Warn("dropping undecodable event", zap.Error(err))
		return
	}
	if env.SchemaVersion > events.SchemaVersion {
		log.Warn("dropping event from newer schema",
			zap.String("event_type", env.EventType),
			zap.Int("schema_version", env.SchemaVersion),
		)
		return
	}
	if err := h.Handle(ctx, env); err != nil {
		log.Warn("event handler failed",
			zap.String("event_type", env.EventType),
			zap.String("conversation_id", env.ConversationID),
			zap.Error(err),
		)
	}
}

func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
