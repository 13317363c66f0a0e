// Package mock provides a deterministic hash-based embedder for tests
// and local development without a real embedding model.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/relaymind/memkit/memory"
)

var _ memory.Embedder = (*Embedder)(nil)

// Embedder generates deterministic embeddings from a text hash. Equal
// texts always embed to equal vectors; different texts are effectively
// orthogonal, so "similar" means "identical" under this embedder.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder. dims <= 0 defaults to 384, matching
// all-MiniLM-L6-v2.
func New(dims int) *Embedder {
	if dims <= 0 {
		dims = 384
	}
	return &Embedder{dimensions: dims}
}

// Embed creates a deterministic unit-length embedding from the text.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))

	embedding := make([]float32, m.dimensions)

	// LCG seeded by the text hash
	seed := h.Sum64()
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = v / norm
	}
	return normalized
}
