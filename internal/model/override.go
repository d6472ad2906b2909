package model

import (
	"fmt"
	"strings"
	"time"
)

// Scope is the specificity level of an override. Merge order is
// global < vertical < market < client; the most specific layer wins.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeVertical Scope = "vertical"
	ScopeMarket   Scope = "market"
	ScopeClient   Scope = "client"
)

// specificity orders scopes for merge resolution.
var specificity = map[Scope]int{
	ScopeGlobal:   0,
	ScopeVertical: 1,
	ScopeMarket:   2,
	ScopeClient:   3,
}

// Specificity returns the merge rank of the scope (higher wins).
func (s Scope) Specificity() int { return specificity[s] }

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	_, ok := specificity[s]
	return ok
}

// OverrideKind identifies which override table a record belongs to.
type OverrideKind string

const (
	KindTokenRelevance         OverrideKind = "token_relevance"
	KindKPIWeight              OverrideKind = "kpi_weight"
	KindStopword               OverrideKind = "stopword"
	KindHookPattern            OverrideKind = "hook_pattern"
	KindFormula                OverrideKind = "formula"
	KindRecommendationTemplate OverrideKind = "recommendation_template"
	KindLLMRules               OverrideKind = "llm_visibility_rules"
)

// AllKinds lists every override kind, in audit/report order.
var AllKinds = []OverrideKind{
	KindTokenRelevance,
	KindKPIWeight,
	KindStopword,
	KindHookPattern,
	KindFormula,
	KindRecommendationTemplate,
	KindLLMRules,
}

// Severity classifies a rule or recommendation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityStrong   Severity = "strong"
	SeverityModerate Severity = "moderate"
	SeverityOptional Severity = "optional"
	SeverityInfo     Severity = "info"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityStrong, SeverityModerate, SeverityOptional, SeverityInfo:
		return true
	}
	return false
}

// Weight multiplier bounds enforced at write time.
const (
	MinWeightMultiplier = 0.5
	MaxWeightMultiplier = 2.0
)

// OverridePayload is the kind-specific content of an override row.
type OverridePayload interface {
	Kind() OverrideKind
	// NaturalKey identifies the logical override within its kind and
	// target; at most one active row may exist per (scope, target, key).
	NaturalKey() string
	Validate() error
}

// TokenRelevancePayload pins a token's relevance for keyword scoring.
type TokenRelevancePayload struct {
	Token     string  `json:"token"`
	Relevance float64 `json:"relevance"`
}

func (p TokenRelevancePayload) Kind() OverrideKind { return KindTokenRelevance }
func (p TokenRelevancePayload) NaturalKey() string { return strings.ToLower(p.Token) }

func (p TokenRelevancePayload) Validate() error {
	if strings.TrimSpace(p.Token) == "" {
		return &ValidationError{Field: "token", Reason: "must not be empty"}
	}
	if p.Relevance < 0 || p.Relevance > 1 {
		return &ValidationError{Field: "relevance", Reason: fmt.Sprintf("%.3f outside [0, 1]", p.Relevance)}
	}
	return nil
}

// KPIWeightPayload scales a base KPI weight. Multipliers compose across
// layers; each is individually bounded.
type KPIWeightPayload struct {
	KPIName          string  `json:"kpi_name"`
	WeightMultiplier float64 `json:"weight_multiplier"`
}

func (p KPIWeightPayload) Kind() OverrideKind { return KindKPIWeight }
func (p KPIWeightPayload) NaturalKey() string { return strings.ToLower(p.KPIName) }

func (p KPIWeightPayload) Validate() error {
	if strings.TrimSpace(p.KPIName) == "" {
		return &ValidationError{Field: "kpi_name", Reason: "must not be empty"}
	}
	if p.WeightMultiplier < MinWeightMultiplier || p.WeightMultiplier > MaxWeightMultiplier {
		return &ValidationError{
			Field:  "weight_multiplier",
			Reason: fmt.Sprintf("%.2f outside [%.1f, %.1f]", p.WeightMultiplier, MinWeightMultiplier, MaxWeightMultiplier),
		}
	}
	return nil
}

// StopwordPayload adds a word excluded from keyword analysis. Stopwords
// accumulate across layers rather than replace.
type StopwordPayload struct {
	Word string `json:"word"`
}

func (p StopwordPayload) Kind() OverrideKind { return KindStopword }
func (p StopwordPayload) NaturalKey() string { return strings.ToLower(p.Word) }

func (p StopwordPayload) Validate() error {
	if strings.TrimSpace(p.Word) == "" {
		return &ValidationError{Field: "word", Reason: "must not be empty"}
	}
	return nil
}

// HookPatternPayload defines a creative-hook pattern with its trigger
// keywords. Keyword lists accumulate across layers.
type HookPatternPayload struct {
	Pattern  string   `json:"pattern"`
	Keywords []string `json:"keywords"`
	Severity Severity `json:"severity"`
}

func (p HookPatternPayload) Kind() OverrideKind { return KindHookPattern }
func (p HookPatternPayload) NaturalKey() string { return strings.ToLower(p.Pattern) }

func (p HookPatternPayload) Validate() error {
	if strings.TrimSpace(p.Pattern) == "" {
		return &ValidationError{Field: "pattern", Reason: "must not be empty"}
	}
	if !p.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", p.Severity)}
	}
	return nil
}

// FormulaPayload replaces a named scoring formula expression.
type FormulaPayload struct {
	FormulaID  string `json:"formula_id"`
	Expression string `json:"expression"`
}

func (p FormulaPayload) Kind() OverrideKind { return KindFormula }
func (p FormulaPayload) NaturalKey() string { return strings.ToLower(p.FormulaID) }

func (p FormulaPayload) Validate() error {
	if strings.TrimSpace(p.FormulaID) == "" {
		return &ValidationError{Field: "formula_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Expression) == "" {
		return &ValidationError{Field: "expression", Reason: "must not be empty"}
	}
	return nil
}

// RecommendationTemplatePayload replaces a recommendation text template.
type RecommendationTemplatePayload struct {
	TemplateID string   `json:"template_id"`
	Template   string   `json:"template"`
	Severity   Severity `json:"severity"`
}

func (p RecommendationTemplatePayload) Kind() OverrideKind { return KindRecommendationTemplate }
func (p RecommendationTemplatePayload) NaturalKey() string { return strings.ToLower(p.TemplateID) }

func (p RecommendationTemplatePayload) Validate() error {
	if strings.TrimSpace(p.TemplateID) == "" {
		return &ValidationError{Field: "template_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(p.Template) == "" {
		return &ValidationError{Field: "template", Reason: "must not be empty"}
	}
	if !p.Severity.Valid() {
		return &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", p.Severity)}
	}
	return nil
}

// LLMRulesPayload carries a partial patch of the LLM visibility rules.
// Only one logical LLM-rules override exists per (scope, target).
type LLMRulesPayload struct {
	Rules LLMRulesPatch `json:"rules_override"`
}

func (p LLMRulesPayload) Kind() OverrideKind { return KindLLMRules }
func (p LLMRulesPayload) NaturalKey() string { return "llm_visibility_rules" }

func (p LLMRulesPayload) Validate() error {
	return p.Rules.Validate()
}

// OverrideRecord is one persisted override row. Rows are append-only: an
// edit writes a new row with version+1 and deactivates the prior one.
type OverrideRecord struct {
	ID             string          `json:"id"`
	Scope          Scope           `json:"scope"`
	Vertical       string          `json:"vertical,omitempty"`
	Market         string          `json:"market,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Payload        OverridePayload `json:"payload"`
	Version        int             `json:"version"`
	IsActive       bool            `json:"is_active"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Kind returns the payload kind, or "" when the payload is unset.
func (r OverrideRecord) Kind() OverrideKind {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Kind()
}

// TargetKey identifies the (scope, target) the override applies to.
func (r OverrideRecord) TargetKey() string {
	return string(r.Scope) + "|" + r.Vertical + "|" + r.Market + "|" + r.OrganizationID
}

// NaturalKey is the uniqueness key among active rows:
// kind | scope | target | payload key.
func (r OverrideRecord) NaturalKey() string {
	return string(r.Kind()) + "|" + r.TargetKey() + "|" + r.Payload.NaturalKey()
}

// Validate checks scope/target consistency and the payload bounds.
func (r OverrideRecord) Validate() error {
	if r.Payload == nil {
		return &ValidationError{Field: "payload", Reason: "must not be nil"}
	}
	if !r.Scope.Valid() {
		return &ValidationError{Field: "scope", Reason: fmt.Sprintf("unknown scope %q", r.Scope)}
	}
	switch r.Scope {
	case ScopeGlobal:
		if r.Vertical != "" || r.Market != "" || r.OrganizationID != "" {
			return &ValidationError{Field: "scope", Reason: "global overrides must not name a target"}
		}
	case ScopeVertical:
		if r.Vertical == "" {
			return &ValidationError{Field: "vertical", Reason: "required for vertical scope"}
		}
		if r.OrganizationID != "" {
			return &ValidationError{Field: "organization_id", Reason: "not allowed at vertical scope"}
		}
	case ScopeMarket:
		if r.Market == "" {
			return &ValidationError{Field: "market", Reason: "required for market scope"}
		}
		if r.OrganizationID != "" {
			return &ValidationError{Field: "organization_id", Reason: "not allowed at market scope"}
		}
	case ScopeClient:
		if r.OrganizationID == "" {
			return &ValidationError{Field: "organization_id", Reason: "required for client scope"}
		}
	}
	return r.Payload.Validate()
}

// OverrideFilter selects override rows for listing.
type OverrideFilter struct {
	Kind            OverrideKind `json:"kind,omitempty"`
	Scope           Scope        `json:"scope,omitempty"`
	Vertical        string       `json:"vertical,omitempty"`
	Market          string       `json:"market,omitempty"`
	OrganizationID  string       `json:"organization_id,omitempty"`
	IncludeInactive bool         `json:"include_inactive,omitempty"`
}
