package model

import (
	"sort"
	"time"
)

// DiscoveryThresholds are score cutoffs for discovery-performance tiers.
type DiscoveryThresholds struct {
	Excellent float64 `json:"excellent"`
	Good      float64 `json:"good"`
	Moderate  float64 `json:"moderate"`
}

// HookPattern is a resolved creative-hook pattern with its accumulated
// trigger keywords.
type HookPattern struct {
	Pattern  string   `json:"pattern"`
	Keywords []string `json:"keywords"`
	Severity Severity `json:"severity"`
}

// RecommendationTemplate is a resolved recommendation text template.
type RecommendationTemplate struct {
	Template string   `json:"template"`
	Severity Severity `json:"severity"`
}

// LayerRef identifies one layer of the inheritance chain for audit display.
type LayerRef struct {
	Scope       Scope  `json:"scope"`
	ID          string `json:"id"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}

// InheritanceChain records which layers participated in a merge and which
// layer last contributed each top-level section.
type InheritanceChain struct {
	Base     LayerRef  `json:"base"`
	Vertical *LayerRef `json:"vertical,omitempty"`
	Market   *LayerRef `json:"market,omitempty"`
	Client   *LayerRef `json:"client,omitempty"`

	// Sections maps section name (weights, locales, thresholds, ...) to
	// the most specific scope that touched it.
	Sections map[string]Scope `json:"sections"`
}

// MergedRuleSet is the effective ruleset for a (vertical, market, org)
// triple after all applicable overrides are applied. It is a pure merge
// result: identical inputs produce identical output.
type MergedRuleSet struct {
	Vertical       string `json:"vertical"`
	Market         string `json:"market"`
	OrganizationID string `json:"organization_id,omitempty"`

	DiscoveryThresholds DiscoveryThresholds               `json:"discovery_thresholds"`
	Locales             []string                          `json:"locales"`
	Weights             map[string]float64                `json:"weights"`
	TokenRelevance      map[string]float64                `json:"token_relevance"`
	Stopwords           []string                          `json:"stopwords"`
	HookPatterns        []HookPattern                     `json:"hook_patterns"`
	Formulas            map[string]string                 `json:"formulas"`
	Templates           map[string]RecommendationTemplate `json:"templates"`
	LLMRules            LLMVisibilityRules                `json:"llm_rules"`

	Chain InheritanceChain `json:"inheritance_chain"`
}

// KPIIDs returns the weighted KPI ids in sorted order.
func (m *MergedRuleSet) KPIIDs() []string {
	ids := make([]string, 0, len(m.Weights))
	for id := range m.Weights {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RulesetSnapshot is an immutable, versioned capture of a merge result.
// Only the newest active snapshot per (vertical, market) is authoritative;
// superseded rows are kept for history and diffing.
type RulesetSnapshot struct {
	ID        string        `json:"id"`
	Vertical  string        `json:"vertical,omitempty"`
	Market    string        `json:"market,omitempty"`
	Ruleset   MergedRuleSet `json:"ruleset_snapshot"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
}
