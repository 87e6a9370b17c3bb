package outbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clinicdesk/messaging/internal/events"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/clinicdesk/messaging/internal/repository"
	"github.com/clinicdesk/messaging/internal/tx"
	"go.uber.org/zap"
)

// Publisher hands one encoded event to the outside world. key is the
// conversation id so consumers see each conversation in order.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

type Worker struct {
	Store       repository.OutboxStore
	Tx          tx.Transactor
	Publisher   Publisher
	BatchSize   int
	PollDelay   time.Duration
	MaxRetries  int
	ServiceName string
}

// Start polls until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {

	log := observability.GetLogger(ctx)
	log.Info("outbox worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info("outbox worker stopping")
			return
		default:
			n, err := w.ProcessBatch(ctx)
			if err != nil {
				log.Error("outbox error", zap.Error(err))
				sleep(ctx, time.Second)
				continue
			}
			if n == 0 {
				sleep(ctx, w.PollDelay)
			}
		}
	}
}

// ProcessBatch publishes one batch in id order and returns how many events
// were claimed. Publishing stops at the first failure so later events of the
// same conversation are not sent ahead of it.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	maxRetries := w.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	var (
		claimed  int
		batchErr error
	)

	err := w.Tx.WithTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		claimed, batchErr = 0, nil

		batch, err := w.Store.ClaimOutbox(ctx, tx, batchSize)
		if err != nil {
			return err
		}
		claimed = len(batch)

		for _, e := range batch {
			if err := w.Publisher.Publish(ctx, e.AggregateID, e.Payload); err != nil {
				observability.OutboxPublishFailuresTotal.WithLabelValues(w.ServiceName, e.EventType).Inc()

				if e.RetryCount >= maxRetries {
					e.RetryCount++
					if dbErr := w.Store.MoveOutboxToDLQ(ctx, tx, e, err.Error()); dbErr != nil {
						return dbErr
					}
					observability.OutboxDeadLetteredTotal.Inc()
					observability.GetLogger(ctx).Warn("outbox event dead-lettered",
						zap.Int64("outbox_id", e.ID),
						zap.String("event_type", e.EventType),
						zap.Error(err),
					)
				} else if dbErr := w.Store.MarkOutboxFailed(ctx, tx, e.ID, err.Error()); dbErr != nil {
					return dbErr
				}

				batchErr = err
				break
			}

			if err := w.Store.MarkOutboxProcessed(ctx, tx, e.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return claimed, err
	}
	return claimed, batchErr
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

var ErrQueueFull = errors.New("in-process event queue is full")

// HandlerPublisher delivers events to an in-process handler. It replaces
// the broker when Kafka is not configured. Publish only enqueues; the handler
// runs on the Run goroutine, outside the outbox transaction, so a slow sender
// never holds the database write lock.
type HandlerPublisher struct {
	handler events.Handler
	queue   chan *events.Envelope
}

func NewHandlerPublisher(h events.Handler, size int) *HandlerPublisher {
	if size <= 0 {
		size = 1024
	}
	return &HandlerPublisher{handler: h, queue: make(chan *events.Envelope, size)}
}

// Publish returns ErrQueueFull instead of blocking so the worker retries the
// event on a later poll.
func (p *HandlerPublisher) Publish(_ context.Context, _ string, value []byte) error {
	env, err := events.Decode(value)
	if err != nil {
		return err
	}
	select {
	case p.queue <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run hands queued events to the handler until ctx is cancelled.
func (p *HandlerPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.queue:
			if err := p.handler.Handle(ctx, env); err != nil {
				observability.GetLogger(ctx).Warn("in-process event handler failed",
					zap.String("event_type", env.EventType),
					zap.String("conversation_id", env.ConversationID),
					zap.Error(err),
				)
			}
		}
	}
}
