// Package conversation provides durable storage for conversational agent
// message logs. Messages are packed into size-bounded buckets per
// conversation, while threads track the logical identity of each
// conversation independently of how its messages are stored.
//
// The package is split into:
//   - BucketStore: the physical message log (capacity-bounded buckets)
//   - ThreadStore: one row per conversation (identity, activity, counters)
//   - Registry: the orchestration layer the chat application talks to
package conversation

import (
	"context"
	"errors"
	"time"
)

// Role identifies the author of a conversational turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a minimal role/content pair, the shape the surrounding chat
// application exchanges with the model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Message is one conversational turn as stored. Immutable after insertion.
// The ID is caller-supplied and must be unique within the conversation;
// Registry generates ULIDs when the caller leaves it empty.
type Message struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	Role      Role              `json:"role"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Thread is the logical identity of a conversation.
// MessageCount is advisory: it is updated in a separate write from the
// bucket append and can trail the true count after a crash.
type Thread struct {
	ThreadID     string            `json:"threadId"`
	UserID       string            `json:"userId"`
	Title        string            `json:"title"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	MessageCount int               `json:"messageCount"`
	IsActive     bool              `json:"isActive"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AppendResult reports where a message landed.
type AppendResult struct {
	BucketID    string
	IsNewBucket bool
}

// ReadOptions controls pagination and direction for message reads.
type ReadOptions struct {
	Limit      int  // 0 = no limit
	Skip       int
	Descending bool // false = chronological, oldest first
}

// Stats aggregates over all buckets of a conversation.
type Stats struct {
	BucketCount          int
	TotalMessages        int
	FirstMessageAt       time.Time
	LastMessageAt        time.Time
	AvgMessagesPerBucket float64
}

// BucketInfo describes one bucket, for diagnostics.
type BucketInfo struct {
	ID             string
	CreatedAt      time.Time
	MessageCount   int
	FirstMessageAt time.Time
	LastMessageAt  time.Time
}

// ListOptions controls thread listing.
type ListOptions struct {
	IncludeInactive bool
	Limit           int // 0 = default (20)
	Skip            int
}

// Errors returned by stores. Absent conversations and threads are not
// errors on delete/archive paths; those are idempotent no-ops.
var (
	// ErrStorageUnavailable wraps transient storage failures on write
	// paths. The caller may retry the whole operation.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrThreadNotFound is returned by lookups of unknown threads.
	ErrThreadNotFound = errors.New("thread not found")
)

// BucketStore packs an unbounded per-conversation message stream into
// capacity-bounded buckets.
//
// Append must be atomic at the storage layer: either the message is fully
// recorded in exactly one bucket, or not recorded at all. Cross-bucket
// chronological order is only established at read time; Messages re-sorts
// globally by timestamp.
type BucketStore interface {
	// Append adds a message to a non-full bucket for the conversation,
	// creating a new bucket seeded with the message when none has room.
	Append(ctx context.Context, conversationID string, msg Message) (AppendResult, error)

	// Messages returns the conversation's messages across all buckets,
	// globally sorted by timestamp, then paginated.
	Messages(ctx context.Context, conversationID string, opts ReadOptions) ([]Message, error)

	// Stats aggregates bucket counters for the conversation. An unknown
	// conversation yields zero Stats and no error.
	Stats(ctx context.Context, conversationID string) (Stats, error)

	// Buckets lists the conversation's buckets in creation order.
	Buckets(ctx context.Context, conversationID string) ([]BucketInfo, error)

	// DeleteConversation removes every bucket for the conversation.
	// Idempotent: deleting an absent conversation is a no-op.
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ThreadStore tracks one row per conversation.
type ThreadStore interface {
	// Upsert inserts the thread if absent, otherwise only refreshes
	// last_activity. Concurrent first-writers converge on one row.
	Upsert(ctx context.Context, threadID, userID, title string) (Thread, error)

	// Get returns the thread or ErrThreadNotFound.
	Get(ctx context.Context, threadID string) (Thread, error)

	// Touch increments the message counter by delta, refreshes
	// last_activity and re-activates the thread. Touching an absent
	// thread is a no-op.
	Touch(ctx context.Context, threadID string, delta int) error

	// Recent returns active threads with last_activity >= since, most
	// recently active first, capped at limit.
	Recent(ctx context.Context, userID string, since time.Time, limit int) ([]Thread, error)

	// List returns the user's threads, most recently active first.
	List(ctx context.Context, userID string, opts ListOptions) ([]Thread, error)

	// Archive soft-deletes the thread (is_active = false). No-op if absent.
	Archive(ctx context.Context, threadID string) error

	// Delete removes the thread row. No-op if absent. Callers owning
	// messages must cascade through BucketStore themselves; Registry does.
	Delete(ctx context.Context, threadID string) error

	// SetTitle updates the thread title and refreshes last_activity.
	SetTitle(ctx context.Context, threadID, title string) error

	// SetMetadata merges the given keys into the thread metadata.
	SetMetadata(ctx context.Context, threadID string, metadata map[string]string) error
}
