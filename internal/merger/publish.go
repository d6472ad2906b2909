package merger

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/northpeak/aso-bible-cli/internal/model"
)

// Publish merges the target and stores the result as the new active
// version snapshot for its (vertical, market) pair. The store deactivates
// the prior snapshot and inserts the new one in one transaction, so a
// reader never observes zero or two active snapshots.
//
// Snapshots are tenant-neutral: publishing an organization-specific merge
// is rejected because the snapshot table is keyed by (vertical, market)
// only.
func (m *Merger) Publish(ctx context.Context, t Target) (*model.RulesetSnapshot, error) {
	if t.OrganizationID != "" {
		return nil, &model.ValidationError{
			Field:  "organization_id",
			Reason: "snapshots are published per (vertical, market); merge with an organization is preview-only",
		}
	}

	merged, err := m.Merge(ctx, t)
	if err != nil {
		return nil, err
	}

	snap, err := m.store.PublishSnapshot(ctx, model.RulesetSnapshot{
		Vertical: t.Vertical,
		Market:   t.Market,
		Ruleset:  *merged,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("merger: published snapshot",
		zap.String("id", snap.ID),
		zap.String("vertical", snap.Vertical),
		zap.String("market", snap.Market),
	)
	return snap, nil
}

// Change is one field-level difference between two rulesets.
type Change struct {
	Section string `json:"section"`
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
}

// Diff compares two merge results section by section. Output order is
// stable: sections alphabetically, fields alphabetically within each.
func Diff(a, b *model.MergedRuleSet) []Change {
	var changes []Change

	changes = append(changes, diffFloatMap("weights", a.Weights, b.Weights)...)
	changes = append(changes, diffFloatMap("token_relevance", a.TokenRelevance, b.TokenRelevance)...)

	if a.DiscoveryThresholds != b.DiscoveryThresholds {
		changes = append(changes, Change{
			Section: "thresholds",
			Field:   "discovery",
			Old:     fmt.Sprintf("%+v", a.DiscoveryThresholds),
			New:     fmt.Sprintf("%+v", b.DiscoveryThresholds),
		})
	}

	if joined(a.Locales) != joined(b.Locales) {
		changes = append(changes, Change{Section: "locales", Field: "locales", Old: joined(a.Locales), New: joined(b.Locales)})
	}
	if joined(a.Stopwords) != joined(b.Stopwords) {
		changes = append(changes, Change{Section: "stopwords", Field: "stopwords", Old: joined(a.Stopwords), New: joined(b.Stopwords)})
	}

	changes = append(changes, diffLLM(a.LLMRules, b.LLMRules)...)

	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Section != changes[j].Section {
			return changes[i].Section < changes[j].Section
		}
		return changes[i].Field < changes[j].Field
	})
	return changes
}

func diffFloatMap(section string, a, b map[string]float64) []Change {
	var changes []Change
	for key, av := range a {
		bv, ok := b[key]
		if !ok {
			changes = append(changes, Change{Section: section, Field: key, Old: fmt.Sprintf("%.4f", av), New: "(removed)"})
			continue
		}
		if av != bv {
			changes = append(changes, Change{Section: section, Field: key, Old: fmt.Sprintf("%.4f", av), New: fmt.Sprintf("%.4f", bv)})
		}
	}
	for key, bv := range b {
		if _, ok := a[key]; !ok {
			changes = append(changes, Change{Section: section, Field: key, Old: "(absent)", New: fmt.Sprintf("%.4f", bv)})
		}
	}
	return changes
}

func diffLLM(a, b model.LLMVisibilityRules) []Change {
	var changes []Change
	for _, id := range a.RuleIDs() {
		av := a.Rules[id]
		bv, ok := b.Rules[id]
		if !ok {
			changes = append(changes, Change{Section: "llm_rules", Field: id, Old: fmt.Sprintf("%+v", av), New: "(removed)"})
			continue
		}
		if av != bv {
			changes = append(changes, Change{Section: "llm_rules", Field: id, Old: fmt.Sprintf("%+v", av), New: fmt.Sprintf("%+v", bv)})
		}
	}
	for _, id := range b.RuleIDs() {
		if _, ok := a.Rules[id]; !ok {
			changes = append(changes, Change{Section: "llm_rules", Field: id, Old: "(absent)", New: fmt.Sprintf("%+v", b.Rules[id])})
		}
	}
	return changes
}

func joined(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}
