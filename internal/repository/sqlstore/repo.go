package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinicdesk/messaging/internal/cache"
	"github.com/clinicdesk/messaging/internal/repository"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var _ repository.Repository = (*Repository)(nil)

type Repository struct {
	DB      *sql.DB
	Dialect Dialect
	Cache   *cache.Cache
}

// Open connects to dsn with the driver matching d and verifies the connection.
func Open(ctx context.Context, d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.Name == SQLite.Name {
		// One writer at a time; readers share the WAL.
		db.SetMaxOpenConns(8)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return db, nil
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// boundQueryable rebinds every statement for the repository's dialect.
type boundQueryable struct {
	q queryable
	d Dialect
}

func (b boundQueryable) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return b.q.QueryRowContext(ctx, b.d.Rebind(query), args...)
}

func (b boundQueryable) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return b.q.QueryContext(ctx, b.d.Rebind(query), args...)
}

func (b boundQueryable) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return b.q.ExecContext(ctx, b.d.Rebind(query), args...)
}

func (r *Repository) getter(tx *sql.Tx) queryable {
	if tx != nil {
		return boundQueryable{q: tx, d: r.Dialect}
	}
	return boundQueryable{q: r.DB, d: r.Dialect}
}

// inTx runs fn in tx, or in a transaction of its own when tx is nil.
func (r *Repository) inTx(ctx context.Context, tx *sql.Tx, fn func(*sql.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}
	own, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(own); err != nil {
		_ = own.Rollback()
		return err
	}
	return own.Commit()
}
