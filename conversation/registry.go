package conversation

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Registry is the orchestration layer for conversation storage. It gives
// each conversation a durable thread identity, delegates message bodies
// to the bucket store, and answers "what happened recently" queries.
type Registry struct {
	threads ThreadStore
	buckets BucketStore
	config  *Config
}

// NewRegistry creates a Registry over the given stores.
func NewRegistry(threads ThreadStore, buckets BucketStore, config *Config) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	return &Registry{
		threads: threads,
		buckets: buckets,
		config:  config,
	}
}

// CreateOrGetThread idempotently creates the thread. On first call it is
// inserted with a zero message count; afterwards only last_activity is
// refreshed.
func (r *Registry) CreateOrGetThread(ctx context.Context, threadID, userID, title string) (Thread, error) {
	if title == "" {
		title = fmt.Sprintf("Thread %s", threadID)
	}
	return r.threads.Upsert(ctx, threadID, userID, title)
}

// AddMessage appends the message to the thread's bucket log, then updates
// the thread's counter and activity. The two writes are separate; a crash
// between them leaves the advisory counter behind the true message count.
func (r *Registry) AddMessage(ctx context.Context, threadID string, msg Message) (AppendResult, error) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	res, err := r.buckets.Append(ctx, threadID, msg)
	if err != nil {
		return AppendResult{}, err
	}

	if err := r.threads.Touch(ctx, threadID, 1); err != nil {
		// The message is durable; only the advisory counter is behind.
		log.Printf("[THREAD] Touch failed for %s: %v", threadID, err)
	}

	return res, nil
}

// ThreadMessages returns the thread's messages with pagination.
func (r *Registry) ThreadMessages(ctx context.Context, threadID string, opts ReadOptions) ([]Message, error) {
	return r.buckets.Messages(ctx, threadID, opts)
}

// RecentMessages returns up to k turns from the user's recently active
// threads, oldest first. Only threads active within the configured recent
// window are consulted, fanning out across at most RecentThreads of them.
// Storage failures degrade to an empty result; recall is an enhancement,
// not a correctness requirement.
func (r *Registry) RecentMessages(ctx context.Context, userID string, k int, threadID string) []Turn {
	if k <= 0 {
		k = defaultRecentTurns
	}
	since := time.Now().Add(-r.config.RecentWindow)

	var threads []Thread
	if threadID != "" {
		t, err := r.threads.Get(ctx, threadID)
		if err != nil || t.LastActivity.Before(since) || !t.IsActive {
			return nil
		}
		threads = []Thread{t}
	} else {
		var err error
		threads, err = r.threads.Recent(ctx, userID, since, r.config.RecentThreads)
		if err != nil {
			log.Printf("[THREAD] Recent threads lookup failed for %s: %v", userID, err)
			return nil
		}
	}
	if len(threads) == 0 {
		return nil
	}

	perThread := (k + len(threads) - 1) / len(threads)

	var all []Message
	for _, t := range threads {
		msgs, err := r.buckets.Messages(ctx, t.ThreadID, ReadOptions{
			Limit:      perThread,
			Descending: true,
		})
		if err != nil {
			log.Printf("[THREAD] Reading recent messages from %s failed: %v", t.ThreadID, err)
			continue
		}
		for _, m := range msgs {
			if !m.Timestamp.Before(since) {
				all = append(all, m)
			}
		}
	}

	// Newest first, take k, then flip back to chronological order.
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > k {
		all = all[:k]
	}

	turns := make([]Turn, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		turns = append(turns, Turn{Role: all[i].Role, Content: all[i].Content})
	}
	return turns
}

// SearchMessages scans recently fetched messages for a case-insensitive
// substring match. Best effort: this is not a full-text index, and large
// conversations are only sampled.
func (r *Registry) SearchMessages(ctx context.Context, userID, term string, opts SearchOptions) []Message {
	if term == "" {
		return nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	var threadIDs []string
	if opts.ThreadID != "" {
		threadIDs = []string{opts.ThreadID}
	} else {
		threads, err := r.threads.List(ctx, userID, ListOptions{Limit: 10})
		if err != nil {
			log.Printf("[THREAD] Listing threads for search failed: %v", err)
			return nil
		}
		for _, t := range threads {
			threadIDs = append(threadIDs, t.ThreadID)
		}
	}

	needle := strings.ToLower(term)
	var matches []Message
	for _, id := range threadIDs {
		msgs, err := r.buckets.Messages(ctx, id, ReadOptions{Limit: 100})
		if err != nil {
			continue
		}
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), needle) {
				matches = append(matches, m)
			}
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp.After(matches[j].Timestamp) })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// SearchOptions controls SearchMessages.
type SearchOptions struct {
	ThreadID string
	Limit    int
}

// ThreadStats combines the thread row with its bucket aggregates. The
// bucket-derived totals are the source of truth; the thread counter is
// advisory.
type ThreadStats struct {
	Thread Thread
	Stats  Stats
}

// Stats returns thread bookkeeping plus bucket aggregates, or
// ErrThreadNotFound.
func (r *Registry) Stats(ctx context.Context, threadID string) (ThreadStats, error) {
	t, err := r.threads.Get(ctx, threadID)
	if err != nil {
		return ThreadStats{}, err
	}
	s, err := r.buckets.Stats(ctx, threadID)
	if err != nil {
		return ThreadStats{}, err
	}
	return ThreadStats{Thread: t, Stats: s}, nil
}

// ListThreads returns the user's threads, most recently active first.
func (r *Registry) ListThreads(ctx context.Context, userID string, opts ListOptions) ([]Thread, error) {
	return r.threads.List(ctx, userID, opts)
}

// ArchiveThread soft-deletes the thread. Idempotent.
func (r *Registry) ArchiveThread(ctx context.Context, threadID string) error {
	return r.threads.Archive(ctx, threadID)
}

// DeleteThread removes the thread and cascades to all of its buckets.
// Idempotent; deleting an absent thread is a no-op.
func (r *Registry) DeleteThread(ctx context.Context, threadID string) error {
	if err := r.buckets.DeleteConversation(ctx, threadID); err != nil {
		return err
	}
	return r.threads.Delete(ctx, threadID)
}
