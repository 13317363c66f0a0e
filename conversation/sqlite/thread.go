package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/relaymind/memkit/conversation"
)

// Upsert inserts the thread if absent, otherwise only refreshes
// last_activity. The insert-or-touch is a single statement, so concurrent
// first-writers for the same thread converge on one row.
func (s *Store) Upsert(ctx context.Context, threadID, userID, title string) (conversation.Thread, error) {
	now := time.Now().UTC().UnixNano()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO threads (thread_id, user_id, title, created_at, last_activity, message_count, is_active, metadata)
		VALUES (?, ?, ?, ?, ?, 0, 1, '{}')
		ON CONFLICT(thread_id) DO UPDATE SET last_activity = excluded.last_activity`,
		threadID, userID, title, now, now,
	)
	if err != nil {
		return conversation.Thread{}, storageErr("upsert thread", err)
	}

	return s.Get(ctx, threadID)
}

// Get returns the thread or conversation.ErrThreadNotFound.
func (s *Store) Get(ctx context.Context, threadID string) (conversation.Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT thread_id, user_id, title, created_at, last_activity, message_count, is_active, metadata
		FROM threads
		WHERE thread_id = ?`,
		threadID,
	)
	t, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Thread{}, conversation.ErrThreadNotFound
	}
	return t, err
}

// Touch increments the message counter, refreshes last_activity and
// re-activates the thread. Touching an absent thread is a no-op.
func (s *Store) Touch(ctx context.Context, threadID string, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET message_count = message_count + ?,
		    last_activity = ?,
		    is_active = 1
		WHERE thread_id = ?`,
		delta, time.Now().UTC().UnixNano(), threadID,
	)
	if err != nil {
		return storageErr("touch thread", err)
	}
	return nil
}

// Recent returns active threads with last_activity >= since, most recently
// active first.
func (s *Store) Recent(ctx context.Context, userID string, since time.Time, limit int) ([]conversation.Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, user_id, title, created_at, last_activity, message_count, is_active, metadata
		FROM threads
		WHERE user_id = ? AND last_activity >= ? AND is_active = 1
		ORDER BY last_activity DESC
		LIMIT ?`,
		userID, since.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recent threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanThreads(rows)
}

// List returns the user's threads, most recently active first. Inactive
// threads are excluded unless requested.
func (s *Store) List(ctx context.Context, userID string, opts conversation.ListOptions) ([]conversation.Thread, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT thread_id, user_id, title, created_at, last_activity, message_count, is_active, metadata
		FROM threads
		WHERE user_id = ?`
	if !opts.IncludeInactive {
		query += " AND is_active = 1"
	}
	query += " ORDER BY last_activity DESC LIMIT ? OFFSET ?"

	rows, err := s.db.QueryContext(ctx, query, userID, limit, opts.Skip)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list threads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanThreads(rows)
}

// Archive soft-deletes the thread. No-op if absent.
func (s *Store) Archive(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET is_active = 0, last_activity = ? WHERE thread_id = ?`,
		time.Now().UTC().UnixNano(), threadID,
	)
	if err != nil {
		return storageErr("archive thread", err)
	}
	return nil
}

// Delete removes the thread row. No-op if absent.
func (s *Store) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM threads WHERE thread_id = ?", threadID); err != nil {
		return storageErr("delete thread", err)
	}
	return nil
}

// SetTitle updates the thread title and refreshes last_activity.
func (s *Store) SetTitle(ctx context.Context, threadID, title string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE threads SET title = ?, last_activity = ? WHERE thread_id = ?`,
		title, time.Now().UTC().UnixNano(), threadID,
	)
	if err != nil {
		return storageErr("set thread title", err)
	}
	return nil
}

// SetMetadata merges the given keys into the thread metadata.
func (s *Store) SetMetadata(ctx context.Context, threadID string, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin metadata tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var metaJSON string
	err = tx.QueryRowContext(ctx, "SELECT metadata FROM threads WHERE thread_id = ?", threadID).Scan(&metaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.ErrThreadNotFound
	}
	if err != nil {
		return storageErr("read thread metadata", err)
	}

	merged := make(map[string]string)
	if metaJSON != "" && metaJSON != "{}" {
		if err := json.Unmarshal([]byte(metaJSON), &merged); err != nil {
			return fmt.Errorf("sqlite: unmarshal thread metadata: %w", err)
		}
	}
	for k, v := range metadata {
		merged[k] = v
	}

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("sqlite: marshal thread metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE threads SET metadata = ?, last_activity = ? WHERE thread_id = ?`,
		string(mergedJSON), time.Now().UTC().UnixNano(), threadID,
	); err != nil {
		return storageErr("write thread metadata", err)
	}

	return tx.Commit()
}

func scanThread(sc scanner) (conversation.Thread, error) {
	var (
		t            conversation.Thread
		createdAt    int64
		lastActivity int64
		isActive     int
		metaJSON     string
	)
	if err := sc.Scan(&t.ThreadID, &t.UserID, &t.Title, &createdAt, &lastActivity, &t.MessageCount, &isActive, &metaJSON); err != nil {
		return t, err
	}
	t.CreatedAt = time.Unix(0, createdAt).UTC()
	t.LastActivity = time.Unix(0, lastActivity).UTC()
	t.IsActive = isActive != 0

	if metaJSON != "" && metaJSON != "{}" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &t.Metadata); err != nil {
			return t, fmt.Errorf("sqlite: unmarshal thread metadata: %w", err)
		}
	}

	return t, nil
}

func scanThreads(rows *sql.Rows) ([]conversation.Thread, error) {
	var threads []conversation.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan threads rows: %w", err)
	}
	return threads, nil
}
