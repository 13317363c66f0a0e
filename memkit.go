// Package memkit ties conversation storage and consolidating long-term
// memory into one facade: save chat turns to bucketed threads, recall
// recent history, and absorb observations through the memory decision
// engine.
package memkit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/relaymind/memkit/conversation"
	"github.com/relaymind/memkit/memory"
)

// defaultThreadID receives turns saved without an explicit thread.
const defaultThreadID = "default"

// Service is the top-level entry point.
type Service struct {
	registry *conversation.Registry
	memory   *memory.Service
}

// New creates a service over an assembled registry and memory service.
func New(registry *conversation.Registry, mem *memory.Service) *Service {
	return &Service{registry: registry, memory: mem}
}

// Conversations exposes the underlying thread registry for operations
// the facade does not cover (search, stats, archiving).
func (s *Service) Conversations() *conversation.Registry {
	return s.registry
}

// Memory exposes the underlying smart memory service.
func (s *Service) Memory() *memory.Service {
	return s.memory
}

// SaveTurns persists a batch of chat turns to the given thread, creating
// the thread on first use. An empty threadID uses the default thread.
func (s *Service) SaveTurns(ctx context.Context, userID string, turns []conversation.Turn, threadID string) error {
	if threadID == "" {
		threadID = defaultThreadID
	}

	if _, err := s.registry.CreateOrGetThread(ctx, threadID, userID, ""); err != nil {
		return fmt.Errorf("ensure thread: %w", err)
	}

	now := time.Now()
	for i, turn := range turns {
		msg := conversation.Message{
			ID:        ulid.Make().String(),
			UserID:    userID,
			Role:      turn.Role,
			Content:   turn.Content,
			Timestamp: now.Add(time.Duration(i) * time.Microsecond),
			Metadata:  map[string]string{"source": "chat"},
		}
		if _, err := s.registry.AddMessage(ctx, threadID, msg); err != nil {
			return fmt.Errorf("save turn %d: %w", i, err)
		}
	}

	log.Printf("[MEMKIT] Saved %d turns to thread=%s user=%s", len(turns), threadID, userID)
	return nil
}

// GetRecent returns up to k recent turns for the user in chronological
// order. A non-empty threadID restricts recall to that thread; otherwise
// recent active threads are consulted together.
func (s *Service) GetRecent(ctx context.Context, userID string, k int, threadID string) []conversation.Turn {
	return s.registry.RecentMessages(ctx, userID, k, threadID)
}

// AddSmartMemory routes an observation through the memory decision
// engine.
func (s *Service) AddSmartMemory(ctx context.Context, content string, category memory.Category, owner string, metadata map[string]string) (*memory.OperationResult, error) {
	return s.memory.Add(ctx, content, category, memory.AddOptions{
		Owner:    owner,
		Metadata: metadata,
	})
}

// SearchMemories retrieves similar memories without writing anything.
func (s *Service) SearchMemories(ctx context.Context, query string, category memory.Category, owner string, limit int) ([]memory.SearchResult, error) {
	return s.memory.Search(ctx, query, category, owner, limit)
}
