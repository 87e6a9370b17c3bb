package application

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// isTransient reports storage failures that say nothing about the request
// itself: dropped connections and network errors.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08" // connection_exception
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryRead runs fn and, for an idempotent read that failed transiently,
// runs it exactly once more.
func (s *Service) retryRead(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if !isTransient(err) || ctx.Err() != nil {
		return err
	}
	s.log.Warn("transient read failure, retrying once",
		zap.String("op", op),
		zap.Error(err),
	)
	return fn(ctx)
}
