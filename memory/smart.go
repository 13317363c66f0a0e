package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OperationResult reports how an observation was absorbed.
type OperationResult struct {
	// Action is the consolidation action that was taken.
	Action Action

	// Content is the text that was persisted (or, for IGNORE, the
	// original observation).
	Content string

	// Reasoning explains the action.
	Reasoning string

	// Confidence is the decision confidence in [0, 1].
	Confidence float64

	// ExistingMemoriesUsed is how many existing records were consulted.
	ExistingMemoriesUsed int
}

// AddOptions customize a single Add call.
type AddOptions struct {
	// Owner scopes the memory. Empty means the global scope.
	Owner string

	// Metadata is attached to any record that gets written.
	Metadata map[string]string
}

// Service is the deduplicating front door for writing memories. Every
// observation passes through the decision engine before touching the
// store, so callers never create near-duplicate records directly.
//
// The store is append-only: UPDATE, MERGE, and APPEND are realized as new
// records whose metadata names the ids they supersede or extend.
type Service struct {
	store  Store
	engine *Engine
	config *Config
}

// NewService creates a smart memory service.
func NewService(store Store, embedder Embedder, classifier Classifier, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	return &Service{
		store:  store,
		engine: NewEngine(store, embedder, classifier, config),
		config: config,
	}
}

// Add runs one observation through the decision engine and executes the
// resulting action. It fails open: if executing the decided action fails,
// the original content is persisted as a plain CREATE so the observation
// is never lost. The only hard errors are an invalid category and a
// failure of even the fallback write.
func (s *Service) Add(ctx context.Context, content string, category Category, opts AddOptions) (*OperationResult, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("invalid memory category %q", category)
	}

	decision, existing := s.engine.Decide(ctx, content, category, opts.Owner)

	result, err := s.execute(ctx, decision, existing, content, category, opts)
	if err != nil {
		log.Printf("[SMART] Executing %s failed, falling back to plain create: %v", decision.Action, err)
		fallback := fallbackDecision(content, "consolidation failed, stored as new memory")
		result, err = s.execute(ctx, fallback, nil, content, category, opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsertFailed, err)
		}
		result.ExistingMemoriesUsed = len(existing)
		return result, nil
	}

	log.Printf("[SMART] %s memory for owner=%q category=%s (consulted %d, confidence %.2f)",
		result.Action, opts.Owner, category, result.ExistingMemoriesUsed, result.Confidence)
	return result, nil
}

func (s *Service) execute(ctx context.Context, decision Decision, existing []SearchResult, original string, category Category, opts AddOptions) (*OperationResult, error) {
	result := &OperationResult{
		Action:               decision.Action,
		Reasoning:            decision.Reasoning,
		Confidence:           decision.Confidence,
		ExistingMemoriesUsed: len(existing),
	}

	switch decision.Action {
	case ActionIgnore:
		result.Content = original
		return result, nil

	case ActionCreate:
		result.Content = decision.Content
		return result, s.insert(ctx, decision.Content, category, opts, map[string]string{
			"action": "created",
		}, decision.Reasoning)

	case ActionUpdate:
		result.Content = decision.Content
		return result, s.insert(ctx, decision.Content, category, opts, map[string]string{
			"action":      "updated",
			"replacedIds": strings.Join(decision.TargetIDs, ","),
		}, decision.Reasoning)

	case ActionMerge:
		content := decision.Content
		if content == "" {
			content = s.engine.SynthesizeMerge(ctx, contentsByID(existing, decision.TargetIDs), original, category)
		}
		result.Content = content
		return result, s.insert(ctx, content, category, opts, map[string]string{
			"action":    "merged",
			"mergedIds": strings.Join(decision.TargetIDs, ","),
		}, decision.Reasoning)

	case ActionAppend:
		result.Content = decision.Content
		return result, s.insert(ctx, decision.Content, category, opts, map[string]string{
			"action":        "appended",
			"appendedToIds": strings.Join(decision.TargetIDs, ","),
		}, decision.Reasoning)

	default:
		return nil, fmt.Errorf("unknown action %q", decision.Action)
	}
}

// insert writes a new record carrying the caller's metadata plus the
// provenance tags for this action. The embedding is computed here with
// the configured embedder; the store must never embed on its own, or
// stored vectors would come from a different space than search queries.
func (s *Service) insert(ctx context.Context, content string, category Category, opts AddOptions, tags map[string]string, reasoning string) error {
	embedding, err := s.engine.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed record: %w", err)
	}

	metadata := make(map[string]string, len(opts.Metadata)+len(tags)+1)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	for k, v := range tags {
		if v != "" {
			metadata[k] = v
		}
	}
	if reasoning != "" {
		metadata["reasoning"] = reasoning
	}

	rec := Record{
		ID:        uuid.New().String(),
		Content:   content,
		Category:  category,
		Owner:     opts.Owner,
		Embedding: embedding,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	return s.store.Insert(ctx, rec)
}

// Search retrieves similar memories for a query without writing anything.
func (s *Service) Search(ctx context.Context, query string, category Category, owner string, limit int) ([]SearchResult, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("invalid memory category %q", category)
	}
	if limit <= 0 {
		limit = s.config.TopK
	}

	embedding, err := s.engine.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.Search(ctx, owner, category, embedding, limit)
}

// contentsByID returns the contents of the results whose ids are in ids,
// in result order. If ids is empty, all consulted contents are returned.
func contentsByID(results []SearchResult, ids []string) []string {
	if len(ids) == 0 {
		contents := make([]string, 0, len(results))
		for _, r := range results {
			contents = append(contents, r.Record.Content)
		}
		return contents
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var contents []string
	for _, r := range results {
		if wanted[r.Record.ID] {
			contents = append(contents, r.Record.Content)
		}
	}
	return contents
}
