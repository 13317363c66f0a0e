// Package sqlite implements conversation.BucketStore and
// conversation.ThreadStore on a single SQLite database. It uses
// modernc.org/sqlite (pure Go, no CGO) with WAL mode and a single
// connection, so storage-level operations that must be atomic are
// single transactions against a serialized writer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/relaymind/memkit/conversation"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const defaultBusyTimeout = 5000

// Compile-time interface guards.
var (
	_ conversation.BucketStore = (*Store)(nil)
	_ conversation.ThreadStore = (*Store)(nil)
)

// Store implements both conversation stores over one database.
type Store struct {
	db       *sql.DB
	capacity int
}

// Open opens (creating if necessary) the database at path and migrates the
// schema. The database is configured with WAL mode, a 5 s busy timeout and
// a single connection (SQLite serialises writes). A nil config uses
// defaults.
func Open(path string, config *conversation.Config) (*Store, error) {
	if config == nil {
		config = conversation.DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, capacity: config.BucketCapacity}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// storageErr wraps a driver failure on a write path so callers can match
// conversation.ErrStorageUnavailable and retry the whole operation.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: sqlite %s: %v", conversation.ErrStorageUnavailable, op, err)
}
