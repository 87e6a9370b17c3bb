package sqlstore

import (
	"context"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id                     TEXT PRIMARY KEY,
	last_seq               BIGINT NOT NULL DEFAULT 0,
	last_message_id        TEXT,
	last_message_sender_id TEXT,
	last_message_content   TEXT,
	last_message_seq       BIGINT,
	last_message_at        TIMESTAMPTZ,
	unread_count           BIGINT NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	user_id         TEXT NOT NULL,
	joined_at       TIMESTAMPTZ NOT NULL,
	last_read_seq   BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_conversation_participants_user ON conversation_participants (user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	seq             BIGINT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS message_reads (
	message_id      TEXT NOT NULL REFERENCES messages(id),
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	read_at         TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (message_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_message_reads_conversation ON message_reads (conversation_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key             TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	payload         BYTEA,
	expires_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (key, user_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        BYTEA NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	processed_at   TIMESTAMPTZ,
	retry_count    INT NOT NULL DEFAULT 0,
	error          TEXT
);

CREATE TABLE IF NOT EXISTS outbox_dlq (
	id             BIGINT PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        BYTEA NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	failed_at      TIMESTAMPTZ NOT NULL,
	error          TEXT,
	retry_count    INT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT '',
	avatar_url   TEXT NOT NULL DEFAULT ''
);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id                     TEXT PRIMARY KEY,
	last_seq               INTEGER NOT NULL DEFAULT 0,
	last_message_id        TEXT,
	last_message_sender_id TEXT,
	last_message_content   TEXT,
	last_message_seq       INTEGER,
	last_message_at        TIMESTAMP,
	unread_count           INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	user_id         TEXT NOT NULL,
	joined_at       TIMESTAMP NOT NULL,
	last_read_seq   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_conversation_participants_user ON conversation_participants (user_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	sender_id       TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL,
	UNIQUE (conversation_id, seq)
);

CREATE TABLE IF NOT EXISTS message_reads (
	message_id      TEXT NOT NULL REFERENCES messages(id),
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	read_at         TIMESTAMP NOT NULL,
	PRIMARY KEY (message_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_message_reads_conversation ON message_reads (conversation_id);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key             TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	payload         BLOB,
	expires_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (key, user_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        BLOB NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	processed_at   TIMESTAMP,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	error          TEXT
);

CREATE TABLE IF NOT EXISTS outbox_dlq (
	id             INTEGER PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	payload        BLOB NOT NULL,
	created_at     TIMESTAMP NOT NULL,
	failed_at      TIMESTAMP NOT NULL,
	error          TEXT,
	retry_count    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL DEFAULT '',
	role         TEXT NOT NULL DEFAULT '',
	avatar_url   TEXT NOT NULL DEFAULT ''
);
`

// SchemaSQL returns the DDL for d.
func SchemaSQL(d Dialect) string {
	if d.Name == SQLite.Name {
		return sqliteSchema
	}
	return postgresSchema
}

// Migrate creates missing tables. Statements are idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, SchemaSQL(r.Dialect)); err != nil {
		return fmt.Errorf("migrate %s schema: %w", r.Dialect.Name, err)
	}
	return nil
}
