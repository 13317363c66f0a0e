// Package memory implements a consolidating long-term memory store for
// conversational agents. New candidate memories are reconciled against
// semantically similar existing records (created, updated, merged,
// appended to, or ignored) instead of blindly appended.
//
// The underlying vector store is append-only: "update" and "merge" are
// realized as new records whose metadata points at the superseded ids,
// never as in-place mutation. Readers resolve current truth by taking the
// newest record along a superseding chain.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInsertFailed wraps store write failures that survived even the
// fail-open fallback path. The observation was lost.
var ErrInsertFailed = errors.New("memory insert failed")

// Category classifies a memory record.
type Category string

const (
	// CategoryEpisodic is event memory: things that happened.
	CategoryEpisodic Category = "episodic"

	// CategoryLong is long-term factual memory: preferences, facts,
	// patterns about the owner.
	CategoryLong Category = "long"

	// CategoryProcedural is how-to memory: steps and procedures.
	CategoryProcedural Category = "procedural"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryEpisodic, CategoryLong, CategoryProcedural:
		return true
	}
	return false
}

// Record is a unit of long-term knowledge. Append-only: once inserted it
// is never mutated; superseding records carry provenance in Metadata
// ("action", "replacedIds", "mergedIds", "appendedToIds").
type Record struct {
	ID        string
	Content   string
	Category  Category
	Owner     string
	Embedding []float32
	Metadata  map[string]string
	CreatedAt time.Time
}

// SearchResult pairs a record with its similarity score in [0, 1].
type SearchResult struct {
	Record Record
	Score  float32
}

// Store is the vector storage backend. Implementations are append-only;
// no in-place update or delete is guaranteed.
type Store interface {
	// Insert saves a record with its embedding.
	Insert(ctx context.Context, rec Record) error

	// Search retrieves records by vector similarity, filtered by owner
	// and category, highest score first.
	Search(ctx context.Context, owner string, category Category, embedding []float32, limit int) ([]SearchResult, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Classifier produces a structured decision for a prompt. The schema is a
// JSON Schema object describing the expected output; the returned raw
// message unmarshals into it. Implementations should run with low
// temperature so decisions are deterministic-leaning.
type Classifier interface {
	Classify(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error)
}

// Config holds consolidation engine configuration.
type Config struct {
	// SimilarityThreshold drops retrieved candidates scoring below it,
	// after the top-K ranking. Defaults to 0.7.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// TopK is how many candidates the vector store ranking keeps before
	// the threshold filter. Defaults to 5.
	TopK int `yaml:"top_k"`
}

// DefaultConfig returns the defaults used when no config is supplied.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("memory: similarity_threshold must be in [0,1], got %v", c.SimilarityThreshold)
	}
	if c.TopK < 1 {
		return fmt.Errorf("memory: top_k must be positive, got %d", c.TopK)
	}
	return nil
}
