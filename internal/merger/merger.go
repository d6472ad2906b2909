// Package merger resolves effective rulesets by layering persisted
// overrides onto the code-defined base profiles. Resolution is pure: it
// reads profiles and override rows and computes, never writes. Publishing
// the result as a version snapshot is a separate explicit step.
package merger

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
	"github.com/northpeak/aso-bible-cli/internal/store"
)

// Target names the (vertical, market, organization) triple to resolve.
// OrganizationID may be empty; the client layer then contributes nothing.
type Target struct {
	Vertical       string `json:"vertical"`
	Market         string `json:"market"`
	OrganizationID string `json:"organization_id,omitempty"`
}

// Merger composes base profiles with active overrides.
type Merger struct {
	registry *profile.Registry
	store    store.Store
}

// New creates a Merger over the given registry and store.
func New(reg *profile.Registry, st store.Store) *Merger {
	return &Merger{registry: reg, store: st}
}

// layer is one rung of the inheritance chain with its applicable rows.
type layer struct {
	scope model.Scope
	rows  []model.OverrideRecord
}

// Merge resolves the effective ruleset for the target. Layers apply in
// ascending specificity (base, vertical, market, client); weight
// multipliers compose, scalars last-write-win, and accumulating lists
// union with case-insensitive dedup.
func (m *Merger) Merge(ctx context.Context, t Target) (*model.MergedRuleSet, error) {
	vert, ok := m.registry.Vertical(t.Vertical)
	if !ok {
		return nil, &model.ProfileNotFoundError{Vertical: t.Vertical}
	}
	base := m.registry.Base()

	out := &model.MergedRuleSet{
		Vertical:       t.Vertical,
		Market:         t.Market,
		OrganizationID: t.OrganizationID,
		Weights:        make(map[string]float64, len(base.KPIOverrides)),
		TokenRelevance: make(map[string]float64),
		Formulas:       make(map[string]string),
		Templates:      make(map[string]model.RecommendationTemplate),
		LLMRules:       m.registry.BaseLLMRules(),
		Chain: model.InheritanceChain{
			Base: model.LayerRef{
				Scope:       model.ScopeGlobal,
				ID:          base.ID,
				Label:       base.Label,
				Description: base.Description,
			},
			Sections: make(map[string]model.Scope),
		},
	}

	// Base layer: cross-vertical defaults.
	for kpi, w := range base.KPIOverrides {
		out.Weights[kpi] = w
	}
	out.DiscoveryThresholds = base.DiscoveryThresholds
	stopwords := newCISet(base.Stopwords)
	markSections(out.Chain.Sections, model.ScopeGlobal, "weights", "thresholds", "stopwords")

	// Vertical code layer: per-KPI weight replacement, thresholds, token
	// relevance, extra stopwords.
	if vert.ID != profile.BaseVerticalID {
		for kpi, w := range vert.KPIOverrides {
			out.Weights[kpi] = w
		}
		out.DiscoveryThresholds = vert.DiscoveryThresholds
		for token, rel := range vert.TokenRelevance {
			out.TokenRelevance[strings.ToLower(token)] = rel
		}
		stopwords.addAll(vert.Stopwords)
		out.Chain.Vertical = &model.LayerRef{
			Scope:       model.ScopeVertical,
			ID:          vert.ID,
			Label:       vert.Label,
			Description: vert.Description,
		}
		markSections(out.Chain.Sections, model.ScopeVertical, "weights", "thresholds", "stopwords", "token_relevance")
	}

	// Market code layer: locales. An unknown market contributes nothing;
	// only a missing vertical is an error.
	if mkt, ok := m.registry.Market(t.Market); ok {
		out.Locales = append([]string(nil), mkt.Locales...)
		out.Chain.Market = &model.LayerRef{
			Scope: model.ScopeMarket,
			ID:    mkt.ID,
			Label: mkt.Label,
		}
		out.Chain.Sections["locales"] = model.ScopeMarket
	}

	layers, err := m.fetchLayers(ctx, t)
	if err != nil {
		return nil, err
	}

	hooks := make(map[string]model.HookPattern)
	for _, l := range layers {
		if len(l.rows) == 0 {
			continue
		}
		applyLayer(out, stopwords, hooks, l)
	}

	if t.OrganizationID != "" {
		out.Chain.Client = &model.LayerRef{
			Scope: model.ScopeClient,
			ID:    t.OrganizationID,
		}
	}

	out.Stopwords = stopwords.sorted()
	out.HookPatterns = sortedHooks(hooks)

	zap.L().Debug("merger: resolved ruleset",
		zap.String("vertical", t.Vertical),
		zap.String("market", t.Market),
		zap.String("organization_id", t.OrganizationID),
		zap.Int("weights", len(out.Weights)),
		zap.Int("stopwords", len(out.Stopwords)),
	)

	return out, nil
}

// fetchLayers loads the active override rows for each scope, least
// specific first. Rows carrying a vertical/market context that conflicts
// with the target are dropped.
func (m *Merger) fetchLayers(ctx context.Context, t Target) ([]layer, error) {
	filters := []struct {
		scope  model.Scope
		filter model.OverrideFilter
	}{
		{model.ScopeGlobal, model.OverrideFilter{Scope: model.ScopeGlobal}},
		{model.ScopeVertical, model.OverrideFilter{Scope: model.ScopeVertical, Vertical: t.Vertical}},
		{model.ScopeMarket, model.OverrideFilter{Scope: model.ScopeMarket, Market: t.Market}},
	}

	var layers []layer
	for _, f := range filters {
		if f.scope == model.ScopeMarket && t.Market == "" {
			continue
		}
		rows, err := m.store.ListOverrides(ctx, f.filter)
		if err != nil {
			return nil, eris.Wrapf(err, "merger: fetch %s overrides", f.scope)
		}
		layers = append(layers, layer{scope: f.scope, rows: matchingRows(rows, t)})
	}

	if t.OrganizationID != "" {
		rows, err := m.store.ListOverrides(ctx, model.OverrideFilter{
			Scope:          model.ScopeClient,
			OrganizationID: t.OrganizationID,
		})
		if err != nil {
			return nil, eris.Wrap(err, "merger: fetch client overrides")
		}
		layers = append(layers, layer{scope: model.ScopeClient, rows: matchingRows(rows, t)})
	}

	return layers, nil
}

// matchingRows keeps rows whose optional vertical/market context matches
// the target. Empty context matches anything at that position.
func matchingRows(rows []model.OverrideRecord, t Target) []model.OverrideRecord {
	out := rows[:0]
	for _, r := range rows {
		if r.Vertical != "" && r.Vertical != t.Vertical {
			continue
		}
		if r.Market != "" && r.Market != t.Market {
			continue
		}
		out = append(out, r)
	}
	return out
}

// applyLayer folds one scope's rows into the merge result.
func applyLayer(out *model.MergedRuleSet, stopwords *ciSet, hooks map[string]model.HookPattern, l layer) {
	for _, rec := range l.rows {
		switch p := rec.Payload.(type) {
		case model.KPIWeightPayload:
			kpi := strings.ToLower(p.KPIName)
			if _, ok := out.Weights[kpi]; !ok {
				// A multiplier for a KPI the base never weighted has
				// nothing to scale; the auditor reports these rows.
				continue
			}
			out.Weights[kpi] *= p.WeightMultiplier
			out.Chain.Sections["weights"] = l.scope

		case model.TokenRelevancePayload:
			out.TokenRelevance[strings.ToLower(p.Token)] = p.Relevance
			out.Chain.Sections["token_relevance"] = l.scope

		case model.StopwordPayload:
			stopwords.add(p.Word)
			out.Chain.Sections["stopwords"] = l.scope

		case model.HookPatternPayload:
			key := strings.ToLower(p.Pattern)
			existing, ok := hooks[key]
			if !ok {
				existing = model.HookPattern{Pattern: p.Pattern, Severity: p.Severity}
			} else {
				existing.Severity = p.Severity
			}
			kwSet := newCISet(existing.Keywords)
			kwSet.addAll(p.Keywords)
			existing.Keywords = kwSet.sorted()
			hooks[key] = existing
			out.Chain.Sections["hook_patterns"] = l.scope

		case model.FormulaPayload:
			out.Formulas[strings.ToLower(p.FormulaID)] = p.Expression
			out.Chain.Sections["formulas"] = l.scope

		case model.RecommendationTemplatePayload:
			out.Templates[strings.ToLower(p.TemplateID)] = model.RecommendationTemplate{
				Template: p.Template,
				Severity: p.Severity,
			}
			out.Chain.Sections["templates"] = l.scope

		case model.LLMRulesPayload:
			out.LLMRules = p.Rules.Apply(out.LLMRules)
			out.Chain.Sections["llm_rules"] = l.scope
		}
	}
}

func markSections(sections map[string]model.Scope, scope model.Scope, names ...string) {
	for _, n := range names {
		sections[n] = scope
	}
}

func sortedHooks(hooks map[string]model.HookPattern) []model.HookPattern {
	keys := make([]string, 0, len(hooks))
	for k := range hooks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.HookPattern, 0, len(keys))
	for _, k := range keys {
		out = append(out, hooks[k])
	}
	return out
}

// ciSet is a case-insensitive string set that remembers first-seen casing.
type ciSet struct {
	seen map[string]string
}

func newCISet(items []string) *ciSet {
	s := &ciSet{seen: make(map[string]string, len(items))}
	s.addAll(items)
	return s
}

func (s *ciSet) add(item string) {
	item = strings.TrimSpace(item)
	if item == "" {
		return
	}
	key := strings.ToLower(item)
	if _, ok := s.seen[key]; !ok {
		s.seen[key] = item
	}
}

func (s *ciSet) addAll(items []string) {
	for _, it := range items {
		s.add(it)
	}
}

func (s *ciSet) sorted() []string {
	out := make([]string, 0, len(s.seen))
	for _, v := range s.seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}
