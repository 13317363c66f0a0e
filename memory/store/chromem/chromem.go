// Package chromem implements the memory.Store interface on top of
// chromem-go, a pure Go embedded vector database.
package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/relaymind/memkit/memory"
)

var _ memory.Store = (*Store)(nil)

// Store keeps one chromem collection per owner for namespace isolation.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// New creates an in-memory chromem store.
func New() *Store {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

// getOrCreateCollection returns the collection for an owner. An empty
// owner maps to the shared global collection.
func (s *Store) getOrCreateCollection(owner string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[owner]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[owner]; exists {
		return col, nil
	}

	name := fmt.Sprintf("user_%s", owner)
	if owner == "" {
		name = "global"
	}

	col, err := s.db.CreateCollection(
		name,
		nil, // no custom embedding func (we provide embeddings)
		nil, // no custom distance func (default cosine)
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[owner] = col
	return col, nil
}

// Insert saves a record with its embedding.
func (s *Store) Insert(ctx context.Context, rec memory.Record) error {
	col, err := s.getOrCreateCollection(rec.Owner)
	if err != nil {
		return err
	}

	log.Printf("[CHROMEM] Inserting record: id=%s, owner=%s, category=%s",
		rec.ID, rec.Owner, rec.Category)

	metadata := map[string]string{
		"owner":      rec.Owner,
		"category":   string(rec.Category),
		"created_at": rec.CreatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range rec.Metadata {
		metadata[k] = v
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Embedding,
		Metadata:  metadata,
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search retrieves records by vector similarity, filtered by category,
// highest similarity first.
func (s *Store) Search(ctx context.Context, owner string, category memory.Category, embedding []float32, limit int) ([]memory.SearchResult, error) {
	col, err := s.getOrCreateCollection(owner)
	if err != nil {
		return nil, err
	}

	log.Printf("[CHROMEM] Searching owner=%q category=%s limit=%d", owner, category, limit)

	where := map[string]string{
		"category": string(category),
	}

	// chromem-go requires nResults <= matching document count.
	// Retry with smaller limits until a query succeeds.
	var results []chromem.Result
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		results, err = col.QueryEmbedding(ctx, embedding, currentLimit, where, nil)
		if err == nil {
			break
		}

		if isInsufficientDocsError(err) {
			if currentLimit == 1 {
				log.Printf("[CHROMEM] No matching documents for owner=%q category=%s", owner, category)
				return nil, nil
			}
			continue
		}

		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]memory.SearchResult, 0, len(results))
	for i, result := range results {
		rec, err := recordFromResult(result)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result #%d: %v", i+1, err)
			continue
		}
		out = append(out, memory.SearchResult{
			Record: rec,
			Score:  result.Similarity,
		})
	}

	log.Printf("[CHROMEM] Returning %d results", len(out))
	return out, nil
}

// Close releases resources. chromem keeps everything in memory, so there
// is nothing to release.
func (s *Store) Close() error {
	return nil
}

func recordFromResult(result chromem.Result) (memory.Record, error) {
	category := memory.Category(result.Metadata["category"])
	if !category.Valid() {
		return memory.Record{}, fmt.Errorf("unknown category %q", result.Metadata["category"])
	}

	createdAt, err := time.Parse(time.RFC3339Nano, result.Metadata["created_at"])
	if err != nil {
		// Older records may have coarser timestamps.
		createdAt, _ = time.Parse(time.RFC3339, result.Metadata["created_at"])
	}

	metadata := make(map[string]string)
	for k, v := range result.Metadata {
		switch k {
		case "owner", "category", "created_at":
		default:
			metadata[k] = v
		}
	}

	return memory.Record{
		ID:        result.ID,
		Content:   result.Content,
		Category:  category,
		Owner:     result.Metadata["owner"],
		Embedding: result.Embedding,
		Metadata:  metadata,
		CreatedAt: createdAt,
	}, nil
}

// isInsufficientDocsError checks if the error is chromem complaining that
// nResults exceeds the matching document count.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
