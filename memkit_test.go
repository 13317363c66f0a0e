package memkit_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/relaymind/memkit"
	"github.com/relaymind/memkit/conversation"
	"github.com/relaymind/memkit/conversation/sqlite"
	"github.com/relaymind/memkit/memory"
	"github.com/relaymind/memkit/memory/embedder/mock"
	"github.com/relaymind/memkit/memory/store/chromem"
)

// ignoreClassifier marks everything as redundant, so repeated
// observations never produce a second record.
type ignoreClassifier struct{}

func (ignoreClassifier) Classify(ctx context.Context, prompt string, schema map[string]interface{}) (json.RawMessage, error) {
	return json.RawMessage(`{"action":"IGNORE","content":"","reasoning":"redundant","confidence":0.9}`), nil
}

func newTestService(t *testing.T) *memkit.Service {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	registry := conversation.NewRegistry(store, store, nil)
	mem := memory.NewService(chromem.New(), mock.New(64), ignoreClassifier{}, nil)
	return memkit.New(registry, mem)
}

func TestSaveTurnsAndGetRecent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	turns := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "hello"},
		{Role: conversation.RoleAssistant, Content: "hi there"},
		{Role: conversation.RoleUser, Content: "what's new?"},
	}
	if err := svc.SaveTurns(ctx, "user1", turns, "chat1"); err != nil {
		t.Fatalf("save turns: %v", err)
	}

	recent := svc.GetRecent(ctx, "user1", 6, "chat1")
	if len(recent) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(recent))
	}
	for i, turn := range recent {
		if turn.Content != turns[i].Content || turn.Role != turns[i].Role {
			t.Errorf("turn %d mismatch: got %+v want %+v", i, turn, turns[i])
		}
	}
}

func TestSaveTurnsDefaultThread(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	turns := []conversation.Turn{{Role: conversation.RoleUser, Content: "hello"}}
	if err := svc.SaveTurns(ctx, "user1", turns, ""); err != nil {
		t.Fatalf("save turns: %v", err)
	}

	if _, err := svc.Conversations().Stats(ctx, "default"); err != nil {
		t.Fatalf("expected default thread to exist: %v", err)
	}
}

func TestAddSmartMemoryDeduplicates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.AddSmartMemory(ctx, "User likes tea", memory.CategoryLong, "user1", nil)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if first.Action != memory.ActionCreate {
		t.Fatalf("expected CREATE on empty store, got %s", first.Action)
	}

	// The identical observation embeds to the identical vector, passes
	// the similarity threshold, and the classifier says IGNORE.
	second, err := svc.AddSmartMemory(ctx, "User likes tea", memory.CategoryLong, "user1", nil)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if second.Action != memory.ActionIgnore {
		t.Fatalf("expected IGNORE for duplicate, got %s", second.Action)
	}
	if second.ExistingMemoriesUsed != 1 {
		t.Errorf("expected 1 consulted memory, got %d", second.ExistingMemoriesUsed)
	}

	results, err := svc.SearchMemories(ctx, "User likes tea", memory.CategoryLong, "user1", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected exactly 1 stored memory, got %d", len(results))
	}
}
