package memory_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/relaymind/memkit/memory"
)

func TestServiceAdd_InvalidCategory(t *testing.T) {
	svc := memory.NewService(&stubStore{}, &stubEmbedder{}, &stubClassifier{}, nil)

	if _, err := svc.Add(context.Background(), "fact", memory.Category("bogus"), memory.AddOptions{}); err == nil {
		t.Fatal("Expected error for invalid category")
	}
}

func TestServiceAdd_CreateWritesProvenance(t *testing.T) {
	store := &stubStore{}
	svc := memory.NewService(store, &stubEmbedder{}, &stubClassifier{}, nil)

	res, err := svc.Add(context.Background(), "User likes tea", memory.CategoryLong, memory.AddOptions{
		Owner:    "user1",
		Metadata: map[string]string{"source": "chat"},
	})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if res.Action != memory.ActionCreate {
		t.Fatalf("Expected CREATE, got %s", res.Action)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("Expected 1 insert, got %d", len(store.inserted))
	}

	rec := store.inserted[0]
	if rec.ID == "" {
		t.Error("Expected a generated record id")
	}
	if len(rec.Embedding) == 0 {
		t.Error("Expected the record to carry an embedding from the configured embedder")
	}
	if rec.Owner != "user1" || rec.Category != memory.CategoryLong {
		t.Errorf("Unexpected record scope: owner=%q category=%q", rec.Owner, rec.Category)
	}
	if rec.Metadata["action"] != "created" {
		t.Errorf("Expected action=created, got %q", rec.Metadata["action"])
	}
	if rec.Metadata["source"] != "chat" {
		t.Errorf("Caller metadata should be preserved, got %v", rec.Metadata)
	}
}

func TestServiceAdd_UpdateRecordsReplacedIDs(t *testing.T) {
	store := &stubStore{results: []memory.SearchResult{
		similarResult("m1", "User prefers black tea", 0.85),
		similarResult("m2", "User drinks tea daily", 0.78),
	}}
	classifier := &stubClassifier{raw: json.RawMessage(
		`{"action":"UPDATE","targetIds":["m1","m2"],"content":"User prefers green tea","reasoning":"preference changed","confidence":0.85}`,
	)}
	svc := memory.NewService(store, &stubEmbedder{}, classifier, nil)

	res, err := svc.Add(context.Background(), "User now prefers green tea", memory.CategoryLong, memory.AddOptions{Owner: "user1"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if res.Action != memory.ActionUpdate {
		t.Fatalf("Expected UPDATE, got %s", res.Action)
	}
	if res.ExistingMemoriesUsed != 2 {
		t.Errorf("Expected 2 consulted memories, got %d", res.ExistingMemoriesUsed)
	}

	rec := store.inserted[0]
	if rec.Metadata["action"] != "updated" {
		t.Errorf("Expected action=updated, got %q", rec.Metadata["action"])
	}
	if rec.Metadata["replacedIds"] != "m1,m2" {
		t.Errorf("Expected replacedIds=m1,m2, got %q", rec.Metadata["replacedIds"])
	}
	if rec.Content != "User prefers green tea" {
		t.Errorf("Unexpected content %q", rec.Content)
	}
}

func TestServiceAdd_IgnoreWritesNothing(t *testing.T) {
	store := &stubStore{results: []memory.SearchResult{
		similarResult("m1", "User likes tea", 0.95),
	}}
	classifier := &stubClassifier{raw: json.RawMessage(
		`{"action":"IGNORE","content":"User likes tea","reasoning":"redundant","confidence":0.9}`,
	)}
	svc := memory.NewService(store, &stubEmbedder{}, classifier, nil)

	res, err := svc.Add(context.Background(), "User likes tea", memory.CategoryLong, memory.AddOptions{Owner: "user1"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if res.Action != memory.ActionIgnore {
		t.Fatalf("Expected IGNORE, got %s", res.Action)
	}
	if len(store.inserted) != 0 {
		t.Errorf("IGNORE must not write, got %d inserts", len(store.inserted))
	}
	if res.Content != "User likes tea" {
		t.Errorf("IGNORE should report the original content, got %q", res.Content)
	}
}

func TestServiceAdd_MergeSynthesizesWhenContentEmpty(t *testing.T) {
	store := &stubStore{results: []memory.SearchResult{
		similarResult("m1", "likes black tea", 0.88),
		similarResult("m2", "likes green tea", 0.82),
	}}
	// First call decides MERGE with no content; second call is the merge
	// synthesis, which fails, forcing the concatenation fallback.
	classifier := &stubClassifier{raw: json.RawMessage(
		`{"action":"MERGE","targetIds":["m1","m2"],"content":"","reasoning":"same topic","confidence":0.8}`,
	)}
	calls := 0
	classifierFn := classifierFunc(func(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error) {
		calls++
		if calls == 1 {
			return classifier.raw, nil
		}
		return nil, errors.New("api down")
	})
	svc := memory.NewService(store, &stubEmbedder{}, classifierFn, nil)

	res, err := svc.Add(context.Background(), "likes oolong tea", memory.CategoryLong, memory.AddOptions{Owner: "user1"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if res.Action != memory.ActionMerge {
		t.Fatalf("Expected MERGE, got %s", res.Action)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("Expected 1 insert, got %d", len(store.inserted))
	}

	rec := store.inserted[0]
	if rec.Metadata["mergedIds"] != "m1,m2" {
		t.Errorf("Expected mergedIds=m1,m2, got %q", rec.Metadata["mergedIds"])
	}
	for _, want := range []string{"likes black tea", "likes green tea", "likes oolong tea"} {
		if !strings.Contains(rec.Content, want) {
			t.Errorf("Concatenation fallback missing %q: %q", want, rec.Content)
		}
	}
}

func TestServiceAdd_FailOpenStoresOriginal(t *testing.T) {
	// The decided UPDATE fails on insert once, then the fallback CREATE
	// succeeds. The observation must survive as a plain create.
	store := &failOnceStore{stubStore: stubStore{results: []memory.SearchResult{
		similarResult("m1", "old fact", 0.9),
	}}}
	classifier := &stubClassifier{raw: json.RawMessage(
		`{"action":"UPDATE","targetIds":["m1"],"content":"new fact","reasoning":"supersedes","confidence":0.9}`,
	)}
	svc := memory.NewService(store, &stubEmbedder{}, classifier, nil)

	res, err := svc.Add(context.Background(), "original observation", memory.CategoryLong, memory.AddOptions{Owner: "user1"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if res.Action != memory.ActionCreate {
		t.Fatalf("Expected fallback CREATE, got %s", res.Action)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Expected fallback confidence 0.5, got %v", res.Confidence)
	}
	if len(store.inserted) != 1 {
		t.Fatalf("Expected exactly 1 surviving insert, got %d", len(store.inserted))
	}
	if store.inserted[0].Content != "original observation" {
		t.Errorf("Fallback must persist the original content, got %q", store.inserted[0].Content)
	}
	if res.ExistingMemoriesUsed != 1 {
		t.Errorf("Expected consulted count preserved through fallback, got %d", res.ExistingMemoriesUsed)
	}
}

func TestServiceSearch(t *testing.T) {
	store := &stubStore{results: []memory.SearchResult{
		similarResult("m1", "User likes tea", 0.9),
	}}
	svc := memory.NewService(store, &stubEmbedder{}, &stubClassifier{}, nil)

	results, err := svc.Search(context.Background(), "tea", memory.CategoryLong, "user1", 0)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "m1" {
		t.Errorf("Unexpected results %v", results)
	}

	if _, err := svc.Search(context.Background(), "tea", memory.Category("bogus"), "user1", 5); err == nil {
		t.Error("Expected error for invalid category")
	}
}

// classifierFunc adapts a function to the Classifier interface.
type classifierFunc func(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error)

func (f classifierFunc) Classify(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error) {
	return f(ctx, prompt, schema)
}

// failOnceStore fails the first insert and succeeds after.
type failOnceStore struct {
	stubStore
	attempts int
}

func (s *failOnceStore) Insert(ctx context.Context, rec memory.Record) error {
	s.attempts++
	if s.attempts == 1 {
		return errors.New("write failed")
	}
	return s.stubStore.Insert(ctx, rec)
}
