package profile

import "github.com/northpeak/aso-bible-cli/internal/model"

// baseProfile is the sentinel root every vertical inherits from. Its KPI
// weights are the multiplier baseline: a vertical may replace individual
// weights, and persisted overrides then scale whatever value won.
var baseProfile = VerticalProfile{
	ID:          BaseVerticalID,
	Label:       "Base",
	Description: "Cross-vertical scoring defaults. Not a real vertical; no DB counterpart.",
	DiscoveryThresholds: model.DiscoveryThresholds{
		Excellent: 80,
		Good:      60,
		Moderate:  40,
	},
	KPIOverrides: map[string]float64{
		"keyword_coverage":   0.20,
		"title_optimization": 0.15,
		"subtitle_relevance": 0.10,
		"ratings_volume":     0.10,
		"conversion_rate":    0.15,
		"update_cadence":     0.05,
		"factual_grounding":  0.20,
		"entity_clarity":     0.05,
	},
	Stopwords: []string{
		"app", "free", "best", "top", "new", "official",
	},
}

// baseLLMRules returns the default LLM visibility rule set. Weights here
// are the 1.0-relative baseline that override multipliers scale.
func baseLLMRules() model.LLMVisibilityRules {
	return model.LLMVisibilityRules{
		Rules: map[string]model.LLMRuleSetting{
			"citation_coverage":       {Weight: 1.0, Severity: model.SeverityStrong, Enabled: true},
			"entity_consistency":      {Weight: 1.0, Severity: model.SeverityCritical, Enabled: true},
			"structured_answers":      {Weight: 1.0, Severity: model.SeverityModerate, Enabled: true},
			"brand_disambiguation":    {Weight: 1.0, Severity: model.SeverityStrong, Enabled: true},
			"review_sentiment_signal": {Weight: 1.0, Severity: model.SeverityOptional, Enabled: true},
			"faq_presence":            {Weight: 1.0, Severity: model.SeverityInfo, Enabled: false},
		},
	}
}
