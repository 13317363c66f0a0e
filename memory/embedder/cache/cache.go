// Package cache wraps an embedder with a read-through ristretto cache so
// repeated texts skip the embedding call.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/relaymind/memkit/memory"
)

var _ memory.Embedder = (*Embedder)(nil)

// Embedder caches the inner embedder's results keyed by text.
type Embedder struct {
	inner memory.Embedder
	cache *ristretto.Cache
}

// New creates a caching embedder that keeps roughly maxEntries vectors.
// maxEntries <= 0 defaults to 4096.
func New(inner memory.Embedder, maxEntries int64) (*Embedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
		// Costs are entry counts, not byte sizes; without this ristretto
		// adds per-item internal overhead that can exceed MaxCost.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, embedding on a miss.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if embedding, ok := v.([]float32); ok {
			return embedding, nil
		}
	}

	embedding, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	e.cache.Set(text, embedding, 1)
	// Set is async; Wait makes the entry visible to the next Get.
	e.cache.Wait()
	return embedding, nil
}

// Dimensions returns the inner embedder's dimensions.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Close releases the cache.
func (e *Embedder) Close() {
	e.cache.Close()
}
