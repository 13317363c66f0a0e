package cache_test

import (
	"context"
	"testing"

	"github.com/relaymind/memkit/memory/embedder/cache"
	"github.com/relaymind/memkit/memory/embedder/mock"
)

// countingEmbedder wraps the mock embedder and counts Embed calls.
type countingEmbedder struct {
	inner *mock.Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestEmbedCachesRepeatedTexts(t *testing.T) {
	inner := &countingEmbedder{inner: mock.New(32)}
	e, err := cache.New(inner, 16)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	first, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatalf("embed again: %v", err)
	}

	if inner.calls != 1 {
		t.Errorf("expected 1 inner call for repeated text, got %d", inner.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("vector length changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}

	if _, err := e.Embed(ctx, "different"); err != nil {
		t.Fatalf("embed different: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("expected 2 inner calls after a distinct text, got %d", inner.calls)
	}
}

func TestDimensionsDelegates(t *testing.T) {
	e, err := cache.New(mock.New(48), 0)
	if err != nil {
		t.Fatalf("create cache: %v", err)
	}
	defer e.Close()

	if e.Dimensions() != 48 {
		t.Errorf("expected 48 dimensions, got %d", e.Dimensions())
	}
}
