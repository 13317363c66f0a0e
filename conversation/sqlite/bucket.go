package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/relaymind/memkit/conversation"
)

// Append adds a message to a non-full bucket for the conversation, or
// creates a new bucket seeded with the message when every existing bucket
// is full. The bucket pick, message insert and counter update happen in
// one transaction: a message is either fully recorded in exactly one
// bucket or not recorded at all.
func (s *Store) Append(ctx context.Context, conversationID string, msg conversation.Message) (conversation.AppendResult, error) {
	metaJSON, err := json.Marshal(msg.Metadata)
	if err != nil {
		return conversation.AppendResult{}, fmt.Errorf("sqlite: marshal message metadata: %w", err)
	}

	now := time.Now().UTC()
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return conversation.AppendResult{}, storageErr("begin append tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Find the oldest bucket with room.
	var (
		bucketID string
		count    int
		isNew    bool
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, message_count FROM buckets
		WHERE conversation_id = ? AND message_count < ?
		ORDER BY created_at
		LIMIT 1`,
		conversationID, s.capacity,
	).Scan(&bucketID, &count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		bucketID = ulid.Make().String()
		isNew = true
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO buckets (id, conversation_id, created_at, last_modified, message_count, first_message_at, last_message_at)
			VALUES (?, ?, ?, ?, 0, ?, ?)`,
			bucketID, conversationID, now.UnixNano(), now.UnixNano(), ts.UnixNano(), ts.UnixNano(),
		); err != nil {
			return conversation.AppendResult{}, storageErr("create bucket", err)
		}
	case err != nil:
		return conversation.AppendResult{}, storageErr("find bucket", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO bucket_messages (bucket_id, seq, conversation_id, message_id, user_id, role, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bucketID, count+1, conversationID, msg.ID, msg.UserID, string(msg.Role), msg.Content, ts.UnixNano(), string(metaJSON),
	); err != nil {
		return conversation.AppendResult{}, storageErr("insert message", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE buckets
		SET message_count = message_count + 1,
		    last_modified = ?,
		    first_message_at = MIN(first_message_at, ?),
		    last_message_at = MAX(last_message_at, ?)
		WHERE id = ?`,
		now.UnixNano(), ts.UnixNano(), ts.UnixNano(), bucketID,
	); err != nil {
		return conversation.AppendResult{}, storageErr("update bucket counters", err)
	}

	if err := tx.Commit(); err != nil {
		return conversation.AppendResult{}, storageErr("commit append", err)
	}

	return conversation.AppendResult{BucketID: bucketID, IsNewBucket: isNew}, nil
}

// Messages returns the conversation's messages across all buckets, sorted
// globally by timestamp (message id breaks ties), then paginated. Bucket
// write order does not guarantee cross-bucket chronological order under
// concurrent writers, so the sort happens at read time.
func (s *Store) Messages(ctx context.Context, conversationID string, opts conversation.ReadOptions) ([]conversation.Message, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT message_id, user_id, role, content, timestamp, metadata
		FROM bucket_messages
		WHERE conversation_id = ?
		ORDER BY timestamp %s, message_id %s
		LIMIT ? OFFSET ?`, order, order),
		conversationID, limit, opts.Skip,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: read messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []conversation.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: read messages rows: %w", err)
	}

	return msgs, nil
}

// Stats aggregates bucket counters for the conversation. An unknown
// conversation yields zero Stats and no error.
func (s *Store) Stats(ctx context.Context, conversationID string) (conversation.Stats, error) {
	var (
		stats    conversation.Stats
		firstAt  sql.NullInt64
		lastAt   sql.NullInt64
		avgCount sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(message_count), 0), MIN(first_message_at), MAX(last_message_at), AVG(message_count)
		FROM buckets
		WHERE conversation_id = ?`,
		conversationID,
	).Scan(&stats.BucketCount, &stats.TotalMessages, &firstAt, &lastAt, &avgCount)
	if err != nil {
		return conversation.Stats{}, fmt.Errorf("sqlite: conversation stats: %w", err)
	}

	if firstAt.Valid {
		stats.FirstMessageAt = time.Unix(0, firstAt.Int64).UTC()
	}
	if lastAt.Valid {
		stats.LastMessageAt = time.Unix(0, lastAt.Int64).UTC()
	}
	if avgCount.Valid {
		stats.AvgMessagesPerBucket = avgCount.Float64
	}

	return stats, nil
}

// Buckets lists the conversation's buckets in creation order.
func (s *Store) Buckets(ctx context.Context, conversationID string) ([]conversation.BucketInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, message_count, first_message_at, last_message_at
		FROM buckets
		WHERE conversation_id = ?
		ORDER BY created_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list buckets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var infos []conversation.BucketInfo
	for rows.Next() {
		var (
			info            conversation.BucketInfo
			createdAt       int64
			firstAt, lastAt int64
		)
		if err := rows.Scan(&info.ID, &createdAt, &info.MessageCount, &firstAt, &lastAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan bucket: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		info.FirstMessageAt = time.Unix(0, firstAt).UTC()
		info.LastMessageAt = time.Unix(0, lastAt).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list buckets rows: %w", err)
	}

	return infos, nil
}

// DeleteConversation removes every bucket and message for the
// conversation. Idempotent: deleting an absent conversation is a no-op.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin delete tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM bucket_messages WHERE conversation_id = ?", conversationID); err != nil {
		return storageErr("delete messages", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM buckets WHERE conversation_id = ?", conversationID); err != nil {
		return storageErr("delete buckets", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit delete", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (conversation.Message, error) {
	var (
		msg      conversation.Message
		role     string
		ts       int64
		metaJSON string
	)
	if err := sc.Scan(&msg.ID, &msg.UserID, &role, &msg.Content, &ts, &metaJSON); err != nil {
		return msg, fmt.Errorf("sqlite: scan message: %w", err)
	}
	msg.Role = conversation.Role(role)
	msg.Timestamp = time.Unix(0, ts).UTC()

	if metaJSON != "" && metaJSON != "{}" && metaJSON != "null" {
		if err := json.Unmarshal([]byte(metaJSON), &msg.Metadata); err != nil {
			return msg, fmt.Errorf("sqlite: unmarshal message metadata: %w", err)
		}
	}

	return msg, nil
}
