// Package profile holds the code-defined vertical and market profiles and
// the immutable registry the merger and auditor read them from. Profiles
// are fixed at build time; runtime edits happen through override rows, not
// here.
package profile

import (
	"sort"

	"golang.org/x/text/language"

	"github.com/northpeak/aso-bible-cli/internal/model"
)

// BaseVerticalID is the sentinel root of every inheritance chain. It has
// no DB counterpart and never appears in override rows.
const BaseVerticalID = "base"

// VerticalProfile is a code-defined app-category profile.
type VerticalProfile struct {
	ID                  string                    `json:"id" yaml:"id"`
	Label               string                    `json:"label" yaml:"label"`
	Description         string                    `json:"description" yaml:"description"`
	DiscoveryThresholds model.DiscoveryThresholds `json:"discovery_thresholds" yaml:"discovery_thresholds"`
	TokenRelevance      map[string]float64        `json:"token_relevance" yaml:"token_relevance"`
	KPIOverrides        map[string]float64        `json:"kpi_overrides" yaml:"kpi_overrides"`
	Stopwords           []string                  `json:"stopwords" yaml:"stopwords"`

	// Overlay marks profiles loaded from the YAML staging file rather
	// than compiled in. The auditor reports them separately.
	Overlay bool `json:"overlay,omitempty" yaml:"-"`
}

// MarketProfile is a code-defined geographic/locale profile.
type MarketProfile struct {
	ID      string   `json:"id" yaml:"id"`
	Label   string   `json:"label" yaml:"label"`
	Locales []string `json:"locales" yaml:"locales"`

	Overlay bool `json:"overlay,omitempty" yaml:"-"`
}

// ValidateLocales checks every locale parses as a BCP 47 tag.
func (m MarketProfile) ValidateLocales() error {
	for _, loc := range m.Locales {
		if _, err := language.Parse(loc); err != nil {
			return &model.ValidationError{Field: "locales", Reason: "invalid locale " + loc}
		}
	}
	return nil
}

// Registry is the immutable profile catalog, constructed once at startup
// and injected into the merger and auditor.
type Registry struct {
	verticals map[string]VerticalProfile
	markets   map[string]MarketProfile
	base      VerticalProfile
	llmRules  model.LLMVisibilityRules
}

// NewRegistry builds a registry from the compiled-in profiles plus any
// overlay profiles. Overlay entries with an id already defined in code are
// rejected; staging a new profile must not shadow a shipped one.
func NewRegistry(overlays ...Overlay) (*Registry, error) {
	r := &Registry{
		verticals: make(map[string]VerticalProfile),
		markets:   make(map[string]MarketProfile),
		base:      baseProfile,
		llmRules:  baseLLMRules(),
	}

	for _, v := range builtinVerticals {
		r.verticals[v.ID] = v
	}
	for _, m := range builtinMarkets {
		if err := m.ValidateLocales(); err != nil {
			return nil, err
		}
		r.markets[m.ID] = m
	}

	for _, o := range overlays {
		for _, v := range o.Verticals {
			if v.ID == BaseVerticalID {
				return nil, &model.ValidationError{Field: "verticals", Reason: "overlay must not redefine base"}
			}
			if _, exists := r.verticals[v.ID]; exists {
				return nil, &model.ValidationError{Field: "verticals", Reason: "overlay shadows built-in vertical " + v.ID}
			}
			v.Overlay = true
			r.verticals[v.ID] = v
		}
		for _, m := range o.Markets {
			if _, exists := r.markets[m.ID]; exists {
				return nil, &model.ValidationError{Field: "markets", Reason: "overlay shadows built-in market " + m.ID}
			}
			if err := m.ValidateLocales(); err != nil {
				return nil, err
			}
			m.Overlay = true
			r.markets[m.ID] = m
		}
	}

	return r, nil
}

// Base returns the sentinel base profile.
func (r *Registry) Base() VerticalProfile { return r.base }

// BaseLLMRules returns the default LLM visibility rule set.
func (r *Registry) BaseLLMRules() model.LLMVisibilityRules { return r.llmRules.Clone() }

// Vertical returns the profile for id, or false when none is defined.
// The base sentinel is addressable by its own id.
func (r *Registry) Vertical(id string) (VerticalProfile, bool) {
	if id == BaseVerticalID {
		return r.base, true
	}
	v, ok := r.verticals[id]
	return v, ok
}

// Market returns the profile for id, or false when none is defined.
func (r *Registry) Market(id string) (MarketProfile, bool) {
	m, ok := r.markets[id]
	return m, ok
}

// AllVerticals returns every non-base vertical, sorted by id.
func (r *Registry) AllVerticals() []VerticalProfile {
	out := make([]VerticalProfile, 0, len(r.verticals))
	for _, v := range r.verticals {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AllMarkets returns every market, sorted by id.
func (r *Registry) AllMarkets() []MarketProfile {
	out := make([]MarketProfile, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
