package tx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/clinicdesk/messaging/internal/domain"
	"github.com/clinicdesk/messaging/internal/observability"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error
}

const maxRetries = 5

type Manager struct {
	DB *sql.DB

	// Options is passed to BeginTx. SQLite only accepts the default level.
	Options *sql.TxOptions

	// Backoff is the base delay between attempts; zero retries immediately.
	Backoff time.Duration
}

func NewManager(db *sql.DB, opts *sql.TxOptions) *Manager {
	return &Manager{DB: db, Options: opts, Backoff: 5 * time.Millisecond}
}

// WithTx runs fn in a transaction, retrying the whole unit when the database
// reports a serialization failure, a deadlock or a busy lock. fn must be
// safe to run more than once.
func (m *Manager) WithTx(
	ctx context.Context,
	fn func(ctx context.Context, tx *sql.Tx) error,
) error {

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			observability.TxRetriesTotal.Inc()
			if err := m.wait(ctx, i); err != nil {
				return err
			}
		}

		tx, err := m.DB.BeginTx(ctx, m.Options)
		if err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		err = fn(ctx, tx)
		if err != nil {
			_ = tx.Rollback()
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if IsRetryable(err) {
				lastErr = err
				continue
			}
			return err
		}

		return nil
	}

	observability.GetLogger(ctx).Warn("transaction retry exhausted", zap.Error(lastErr))
	return fmt.Errorf("%w: transaction retry exhausted: %v", domain.ErrConcurrencyConflict, lastErr)
}

func (m *Manager) wait(ctx context.Context, attempt int) error {
	if m.Backoff <= 0 {
		return ctx.Err()
	}
	d := m.Backoff * time.Duration(attempt)
	d += time.Duration(rand.Int63n(int64(m.Backoff)))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports whether err is a transient conflict that a fresh
// attempt of the same transaction can resolve.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrConcurrencyConflict) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
