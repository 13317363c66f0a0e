package memory

// categoryStrategy carries the per-category prompt guidance. Each
// category nudges the classifier differently: episodic memory favors
// merging related events, long-term memory favors fact correction and
// consolidation, procedural memory favors step refinement.
type categoryStrategy struct {
	// decisionHint steers the action choice.
	decisionHint string

	// mergeHint steers merge synthesis.
	mergeHint string
}

var categoryStrategies = map[Category]categoryStrategy{
	CategoryEpisodic: {
		decisionHint: "Merge related episodes and update ongoing conversations.",
		mergeHint:    "Maintain chronological order of events.",
	},
	CategoryLong: {
		decisionHint: "Focus on factual updates, preference changes, and pattern consolidation.",
		mergeHint:    "Consolidate recurring patterns into stable facts.",
	},
	CategoryProcedural: {
		decisionHint: "Update steps with improvements and merge similar procedures.",
		mergeHint:    "Streamline steps; keep them in execution order.",
	},
}

func strategyFor(category Category) categoryStrategy {
	if s, ok := categoryStrategies[category]; ok {
		return s
	}
	return categoryStrategies[CategoryLong]
}
