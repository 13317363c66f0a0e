package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// Action is the consolidation engine's verdict on how a candidate relates
// to existing records.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionMerge  Action = "MERGE"
	ActionAppend Action = "APPEND"
	ActionIgnore Action = "IGNORE"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionMerge, ActionAppend, ActionIgnore:
		return true
	}
	return false
}

// Decision is the engine's verdict for one candidate. It is transient:
// surfaced to callers for observability, not persisted as its own entity.
type Decision struct {
	// Action is the chosen consolidation action.
	Action Action `json:"action"`

	// TargetIDs are the existing record ids affected. Empty for CREATE
	// and IGNORE.
	TargetIDs []string `json:"targetIds,omitempty"`

	// Content is the canonical text to persist, possibly a synthesis of
	// the candidate and its targets.
	Content string `json:"content"`

	// Reasoning is a human-readable justification.
	Reasoning string `json:"reasoning"`

	// Confidence is in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Engine decides how new candidate memories reconcile with existing ones.
//
// The pass per candidate is terminal, with no retries across steps:
// similarity retrieval, then classification, then the caller executes the
// action. Any internal failure degrades to CREATE at confidence 0.5:
// a missed dedup is acceptable, silent data loss is not.
type Engine struct {
	store      Store
	embedder   Embedder
	classifier Classifier
	config     *Config
}

// NewEngine creates a decision engine over the given capabilities.
func NewEngine(store Store, embedder Embedder, classifier Classifier, config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	} else {
		config.ApplyDefaults()
	}
	return &Engine{
		store:      store,
		embedder:   embedder,
		classifier: classifier,
		config:     config,
	}
}

// Decide runs one consolidation pass for the candidate and returns the
// decision plus the existing records that were consulted. It never fails:
// retrieval or classification errors fall back to CREATE at confidence
// 0.5 with a reasoning string identifying the fallback.
func (e *Engine) Decide(ctx context.Context, content string, category Category, owner string) (Decision, []SearchResult) {
	existing, err := e.findSimilar(ctx, content, category, owner)
	if err != nil {
		log.Printf("[DECISION] Similarity retrieval failed for owner=%s category=%s: %v", owner, category, err)
		return fallbackDecision(content, "similarity retrieval failed, defaulting to create new memory"), nil
	}

	// No similar history: nothing to reconcile against, skip the
	// classification call entirely.
	if len(existing) == 0 {
		return Decision{
			Action:     ActionCreate,
			Content:    content,
			Reasoning:  "no existing similar memories",
			Confidence: 1.0,
		}, nil
	}

	decision, err := e.classify(ctx, content, category, owner, existing)
	if err != nil {
		log.Printf("[DECISION] Classification failed for owner=%s category=%s: %v", owner, category, err)
		return fallbackDecision(content, "classification failed, defaulting to create new memory"), existing
	}

	log.Printf("[DECISION] owner=%s category=%s action=%s targets=%d confidence=%.2f",
		owner, category, decision.Action, len(decision.TargetIDs), decision.Confidence)
	return decision, existing
}

// findSimilar embeds the candidate and retrieves similar records for the
// owner and category. Two-stage filter: the store's top-K ranking first,
// then a hard similarity cutoff, so a merely "closest available" result
// below threshold is not treated as related.
func (e *Engine) findSimilar(ctx context.Context, content string, category Category, owner string) ([]SearchResult, error) {
	embedding, err := e.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed candidate: %w", err)
	}

	results, err := e.store.Search(ctx, owner, category, embedding, e.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("search store: %w", err)
	}

	threshold := float32(e.config.SimilarityThreshold)
	filtered := results[:0]
	for _, r := range results {
		if r.Score >= threshold {
			filtered = append(filtered, r)
		}
	}

	log.Printf("[DECISION] Retrieved %d similar memories (%d above threshold %.2f)",
		len(results), len(filtered), threshold)
	return filtered, nil
}

// classify asks the classification capability to pick an action.
func (e *Engine) classify(ctx context.Context, content string, category Category, owner string, existing []SearchResult) (Decision, error) {
	prompt := buildDecisionPrompt(content, category, owner, existing)

	raw, err := e.classifier.Classify(ctx, prompt, decisionSchema())
	if err != nil {
		return Decision{}, fmt.Errorf("classify: %w", err)
	}

	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}

	if !decision.Action.Valid() {
		return Decision{}, fmt.Errorf("unknown action %q", decision.Action)
	}
	// For MERGE an empty content means "synthesize from the targets";
	// defaulting it to the candidate would silently drop the sources.
	if decision.Content == "" && decision.Action != ActionMerge {
		decision.Content = content
	}
	if decision.Confidence < 0 {
		decision.Confidence = 0
	}
	if decision.Confidence > 1 {
		decision.Confidence = 1
	}

	return decision, nil
}

// SynthesizeMerge consolidates the source contents and the candidate into
// one deduplicated memory. If the synthesis call fails, it falls back to
// naive concatenation.
func (e *Engine) SynthesizeMerge(ctx context.Context, sources []string, content string, category Category) string {
	all := strings.Join(append(append([]string{}, sources...), content), "\n\n")

	prompt := fmt.Sprintf(`Merge these %s memories into a single, comprehensive memory:

MEMORIES TO MERGE:
%s

Create a consolidated memory that preserves all important information and removes redundancy. %s

Return only the merged memory content.`,
		category, all, strategyFor(category).mergeHint)

	schema := objectSchema(map[string]interface{}{
		"content": stringProperty("The merged memory content."),
	}, "content")

	raw, err := e.classifier.Classify(ctx, prompt, schema)
	if err != nil {
		log.Printf("[DECISION] Merge synthesis failed, falling back to concatenation: %v", err)
		return all
	}

	var out struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Content == "" {
		log.Printf("[DECISION] Merge synthesis returned unusable output, falling back to concatenation")
		return all
	}

	return out.Content
}

func fallbackDecision(content, reasoning string) Decision {
	return Decision{
		Action:     ActionCreate,
		Content:    content,
		Reasoning:  reasoning,
		Confidence: 0.5,
	}
}

func buildDecisionPrompt(content string, category Category, owner string, existing []SearchResult) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a memory management system for user %q. Decide how a new memory relates to the existing similar memories: should it update them, merge with them, extend them, stand on its own, or be dropped?\n\n", owner)
	fmt.Fprintf(&b, "NEW MEMORY: %q\nMEMORY TYPE: %q\n\n", content, category)

	b.WriteString("EXISTING SIMILAR MEMORIES:\n")
	for i, r := range existing {
		fmt.Fprintf(&b, "%d. ID: %s | Content: %q | Created: %s\n",
			i+1, r.Record.ID, r.Record.Content, r.Record.CreatedAt.Format(time.RFC3339))
	}

	b.WriteString(`
DECISION CRITERIA:
- UPDATE: the new information corrects or supersedes specific existing memories
- MERGE: several related memories should be consolidated with the new one
- APPEND: the new information adds detail without replacing anything
- CREATE: the information is genuinely new and different
- IGNORE: the information is redundant or low-value

`)
	fmt.Fprintf(&b, "For %s memories: %s\n\n", category, strategyFor(category).decisionHint)
	b.WriteString("Return your decision with reasoning.")

	return b.String()
}

func decisionSchema() map[string]interface{} {
	return objectSchema(map[string]interface{}{
		"action": stringEnumProperty(
			"The consolidation action to take.",
			string(ActionCreate), string(ActionUpdate), string(ActionMerge), string(ActionAppend), string(ActionIgnore),
		),
		"targetIds": arrayProperty(
			"IDs of the existing memories affected. Empty for CREATE and IGNORE.",
			stringProperty("An existing memory id."),
		),
		"content":    stringProperty("The canonical memory content to persist."),
		"reasoning":  stringProperty("Why this action was chosen."),
		"confidence": numberProperty("Confidence in the decision, between 0 and 1."),
	}, "action", "content", "reasoning", "confidence")
}
