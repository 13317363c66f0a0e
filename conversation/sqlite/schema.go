package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application. Timestamps are
// stored as INTEGER Unix nanoseconds so ordering is numeric.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		thread_id     TEXT PRIMARY KEY,
		user_id       TEXT    NOT NULL,
		title         TEXT    NOT NULL DEFAULT '',
		created_at    INTEGER NOT NULL,
		last_activity INTEGER NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		is_active     INTEGER NOT NULL DEFAULT 1,
		metadata      TEXT    NOT NULL DEFAULT '{}'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_threads_user_activity ON threads(user_id, last_activity DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_user_active ON threads(user_id, is_active)`,

	`CREATE TABLE IF NOT EXISTS buckets (
		id               TEXT PRIMARY KEY,
		conversation_id  TEXT    NOT NULL,
		created_at       INTEGER NOT NULL,
		last_modified    INTEGER NOT NULL,
		message_count    INTEGER NOT NULL DEFAULT 0,
		first_message_at INTEGER NOT NULL,
		last_message_at  INTEGER NOT NULL
	)`,

	// Index for the "find a non-full bucket" conditional append.
	`CREATE INDEX IF NOT EXISTS idx_buckets_conv_count ON buckets(conversation_id, message_count)`,
	`CREATE INDEX IF NOT EXISTS idx_buckets_conv_created ON buckets(conversation_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS bucket_messages (
		bucket_id       TEXT    NOT NULL,
		seq             INTEGER NOT NULL,
		conversation_id TEXT    NOT NULL,
		message_id      TEXT    NOT NULL,
		user_id         TEXT    NOT NULL,
		role            TEXT    NOT NULL,
		content         TEXT    NOT NULL DEFAULT '',
		timestamp       INTEGER NOT NULL,
		metadata        TEXT    NOT NULL DEFAULT '{}',
		PRIMARY KEY (bucket_id, seq)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_conv_ts ON bucket_messages(conversation_id, timestamp)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
