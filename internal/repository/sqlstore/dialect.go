package sqlstore

import (
	"fmt"
	"regexp"
)

// Dialect captures the few places where PostgreSQL and SQLite disagree.
// Queries are written with $N placeholders and rebound per dialect.
type Dialect struct {
	Name       string
	DriverName string
	numbered   bool
	rowLocks   bool
}

var (
	Postgres = Dialect{Name: "postgres", DriverName: "postgres", rowLocks: true}
	SQLite   = Dialect{Name: "sqlite", DriverName: "sqlite3", numbered: true}
)

var placeholder = regexp.MustCompile(`\$(\d+)`)

func DialectFor(name string) (Dialect, error) {
	switch name {
	case "", Postgres.Name:
		return Postgres, nil
	case SQLite.Name, SQLite.DriverName:
		return SQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// Rebind converts $N placeholders to ?N for SQLite, which binds numbered
// parameters by index.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

// ForUpdate is the row-lock suffix. SQLite locks the database on BEGIN
// IMMEDIATE instead, so it has none.
func (d Dialect) ForUpdate() string {
	if d.rowLocks {
		return " FOR UPDATE"
	}
	return ""
}

func (d Dialect) SkipLocked() string {
	if d.rowLocks {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}

// TimeParam annotates a placeholder used where Postgres cannot infer a type.
func (d Dialect) TimeParam(p string) string {
	if d.rowLocks {
		return "CAST(" + p + " AS TIMESTAMPTZ)"
	}
	return p
}

// SQLiteDSN returns a DSN that makes concurrent writers wait on each other
// instead of failing immediately.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL"
}
