package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Record headers set on every published event so consumers can route
// without decoding the value.
const (
	HeaderEventType     = "event_type"
	HeaderSchemaVersion = "schema_version"
)

type ProducerConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Producer is the outbox publisher backed by Kafka. Records are keyed by
// conversation id so every conversation stays on one partition.
type Producer struct {
	client *kafka.Producer
	topic  string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka producer needs brokers and a topic")
	}

	client, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":                     strings.Join(cfg.Brokers, ","),
		"client.id":                             cfg.ClientID,
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5,
		"linger.ms":                             5,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{client: client, topic: cfg.Topic}, nil
}

// recordHeaders adapts record headers to the otel propagation carrier.
type recordHeaders []kafka.Header

func (h *recordHeaders) Get(key string) string {
	for _, hdr := range *h {
		if hdr.Key == key {
			return string(hdr.Value)
		}
	}
	return ""
}

func (h *recordHeaders) Set(key, value string) {
	for i, hdr := range *h {
		if hdr.Key == key {
			(*h)[i].Value = []byte(value)
			return
		}
	}
	*h = append(*h, kafka.Header{Key: key, Value: []byte(value)})
}

func (h *recordHeaders) Keys() []string {
	keys := make([]string, 0, len(*h))
	for _, hdr := range *h {
		keys = append(keys, hdr.Key)
	}
	return keys
}

// record builds the Kafka message for one encoded envelope. A value that is
// not an envelope is refused so it ends up in the dead-letter table.
func (p *Producer) record(ctx context.Context, key string, value []byte) (*kafka.Message, error) {
	env, err := events.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("refusing to publish: %w", err)
	}

	headers := recordHeaders{}
	headers.Set(HeaderEventType, env.EventType)
	headers.Set(HeaderSchemaVersion, strconv.Itoa(env.SchemaVersion))
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
		Headers:        headers,
	}, nil
}

// Publish blocks until the broker acknowledges the record or ctx ends.
func (p *Producer) Publish(ctx context.Context, key string, value []byte) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "kafka.Publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", p.topic),
			attribute.String("messaging.kafka.message.key", key),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	msg, err := p.record(ctx, key, value)
	if err != nil {
		return err
	}

	delivered := make(chan kafka.Event, 1)
	if err := p.client.Produce(msg, delivered); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-delivered:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("deliver to %s: %w", p.topic, m.TopicPartition.Error)
		}
		span.SetAttributes(attribute.Int("messaging.kafka.destination.partition", int(m.TopicPartition.Partition)))
		return nil
	}
}

// Close flushes in-flight records for up to timeoutMs and releases the client.
func (p *Producer) Close(timeoutMs int) {
	p.client.Flush(timeoutMs)
	p.client.Close()
}
