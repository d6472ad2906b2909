package merger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
	"github.com/northpeak/aso-bible-cli/internal/store"
)

func newTestMerger(t *testing.T) (*Merger, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reg, err := profile.NewRegistry()
	require.NoError(t, err)

	return New(reg, st), st
}

func mustUpsert(t *testing.T, st store.Store, rec model.OverrideRecord) {
	t.Helper()
	_, err := st.UpsertOverride(context.Background(), rec)
	require.NoError(t, err)
}

func TestMerge_UnknownVertical(t *testing.T) {
	m, _ := newTestMerger(t)

	_, err := m.Merge(context.Background(), Target{Vertical: "dating"})
	require.Error(t, err)
	var notFound *model.ProfileNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestMerge_UnknownMarketContributesNothing(t *testing.T) {
	m, _ := newTestMerger(t)

	out, err := m.Merge(context.Background(), Target{Vertical: "fitness", Market: "xx"})
	require.NoError(t, err)
	assert.Empty(t, out.Locales)
	assert.Nil(t, out.Chain.Market)
}

func TestMerge_VerticalReplacesBaseWeights(t *testing.T) {
	m, _ := newTestMerger(t)

	out, err := m.Merge(context.Background(), Target{Vertical: "language_learning", Market: "us"})
	require.NoError(t, err)

	// Replaced by the vertical profile.
	assert.InDelta(t, 0.30, out.Weights["factual_grounding"], 1e-9)
	assert.InDelta(t, 0.15, out.Weights["keyword_coverage"], 1e-9)
	// Untouched KPIs keep base values.
	assert.InDelta(t, 0.15, out.Weights["conversion_rate"], 1e-9)

	// Vertical thresholds win over base.
	assert.InDelta(t, 82, out.DiscoveryThresholds.Excellent, 1e-9)

	// Market layer contributes locales, primary first.
	assert.Equal(t, []string{"en-US", "es-MX"}, out.Locales)
}

func TestMerge_MultipliersCompose(t *testing.T) {
	m, st := newTestMerger(t)

	// keyword_coverage: base 0.2, global x1.5, market x0.8 = 0.24.
	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.KPIWeightPayload{KPIName: "keyword_coverage", WeightMultiplier: 1.5},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "us",
		Payload: model.KPIWeightPayload{KPIName: "keyword_coverage", WeightMultiplier: 0.8},
	})

	out, err := m.Merge(context.Background(), Target{Vertical: "fitness", Market: "us"})
	require.NoError(t, err)
	assert.InDelta(t, 0.24, out.Weights["keyword_coverage"], 1e-9)
}

func TestMerge_ClientScalesVerticalWeight(t *testing.T) {
	m, st := newTestMerger(t)

	mustUpsert(t, st, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Payload:        model.KPIWeightPayload{KPIName: "factual_grounding", WeightMultiplier: 1.2},
	})

	out, err := m.Merge(context.Background(), Target{
		Vertical:       "language_learning",
		Market:         "us",
		OrganizationID: "org-1",
	})
	require.NoError(t, err)

	// Vertical replaced the 0.20 base with 0.30; the client multiplier
	// scales the winning value.
	assert.InDelta(t, 0.36, out.Weights["factual_grounding"], 1e-9)

	// Without the org the multiplier never applies.
	plain, err := m.Merge(context.Background(), Target{Vertical: "language_learning", Market: "us"})
	require.NoError(t, err)
	assert.InDelta(t, 0.30, plain.Weights["factual_grounding"], 1e-9)
}

func TestMerge_UnknownKPIMultiplierSkipped(t *testing.T) {
	m, st := newTestMerger(t)

	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.KPIWeightPayload{KPIName: "tiktok_virality", WeightMultiplier: 2.0},
	})

	out, err := m.Merge(context.Background(), Target{Vertical: "fitness", Market: "us"})
	require.NoError(t, err)
	assert.NotContains(t, out.Weights, "tiktok_virality")
}

func TestMerge_TokenRelevanceLastWriteWins(t *testing.T) {
	m, st := newTestMerger(t)

	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.TokenRelevancePayload{Token: "cardio", Relevance: 0.5},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Payload:        model.TokenRelevancePayload{Token: "Cardio", Relevance: 0.95},
	})

	out, err := m.Merge(context.Background(), Target{
		Vertical: "fitness", Market: "us", OrganizationID: "org-1",
	})
	require.NoError(t, err)
	// Most specific layer wins; lookup is case-folded.
	assert.InDelta(t, 0.95, out.TokenRelevance["cardio"], 1e-9)
}

func TestMerge_StopwordsUnionCaseInsensitive(t *testing.T) {
	m, st := newTestMerger(t)

	// "GYM" already arrives via the fitness vertical profile as "gym".
	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.StopwordPayload{Word: "GYM"},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.StopwordPayload{Word: "gratis"},
	})

	out, err := m.Merge(context.Background(), Target{Vertical: "fitness", Market: "de"})
	require.NoError(t, err)

	assert.Contains(t, out.Stopwords, "gratis")
	// Union deduplicates case-insensitively and keeps first-seen casing.
	count := 0
	for _, w := range out.Stopwords {
		if w == "gym" || w == "GYM" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, out.Stopwords, "gym")
}

func TestMerge_HookKeywordsAccumulate(t *testing.T) {
	m, st := newTestMerger(t)

	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.HookPatternPayload{Pattern: "limited_time", Keywords: []string{"today", "now"}, Severity: model.SeverityModerate},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.HookPatternPayload{Pattern: "Limited_Time", Keywords: []string{"NOW", "heute"}, Severity: model.SeverityStrong},
	})

	out, err := m.Merge(context.Background(), Target{Vertical: "fitness", Market: "de"})
	require.NoError(t, err)
	require.Len(t, out.HookPatterns, 1)

	hook := out.HookPatterns[0]
	assert.ElementsMatch(t, []string{"heute", "now", "today"}, hook.Keywords)
	// Severity is a scalar: the most specific layer wins.
	assert.Equal(t, model.SeverityStrong, hook.Severity)
}

func TestMerge_FormulaAndTemplateLastWriteWins(t *testing.T) {
	m, st := newTestMerger(t)

	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.FormulaPayload{FormulaID: "visibility", Expression: "a + b"},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Payload:        model.FormulaPayload{FormulaID: "Visibility", Expression: "a * 0.7 + b * 0.3"},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.RecommendationTemplatePayload{TemplateID: "add_keyword", Template: "Add {kw}", Severity: model.SeverityModerate},
	})

	out, err := m.Merge(context.Background(), Target{
		Vertical: "fitness", Market: "us", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "a * 0.7 + b * 0.3", out.Formulas["visibility"])
	assert.Equal(t, "Add {kw}", out.Templates["add_keyword"].Template)
}

func TestMerge_LLMRulePatchesLayer(t *testing.T) {
	m, st := newTestMerger(t)

	m1, m2 := 1.5, 0.8
	enabled := false

	mustUpsert(t, st, model.OverrideRecord{
		Scope: model.ScopeGlobal,
		Payload: model.LLMRulesPayload{Rules: model.LLMRulesPatch{
			Rules: map[string]model.LLMRulePatch{"citation_coverage": {WeightMultiplier: &m1}},
		}},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Payload: model.LLMRulesPayload{Rules: model.LLMRulesPatch{
			Rules: map[string]model.LLMRulePatch{
				"citation_coverage": {WeightMultiplier: &m2},
				"faq_presence":      {Enabled: &enabled},
			},
		}},
	})

	out, err := m.Merge(context.Background(), Target{
		Vertical: "fitness", Market: "us", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	// 1.0 base x 1.5 global x 0.8 client.
	assert.InDelta(t, 1.2, out.LLMRules.Rules["citation_coverage"].Weight, 1e-9)
	assert.False(t, out.LLMRules.Rules["faq_presence"].Enabled)
	// Unpatched rules pass through.
	assert.InDelta(t, 1.0, out.LLMRules.Rules["entity_consistency"].Weight, 1e-9)
}

func TestMerge_RowContextFiltering(t *testing.T) {
	m, st := newTestMerger(t)

	// Client override pinned to the rewards vertical must not leak into a
	// fitness merge for the same org.
	mustUpsert(t, st, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Vertical:       "rewards",
		Payload:        model.TokenRelevancePayload{Token: "cashback", Relevance: 0.99},
	})

	out, err := m.Merge(context.Background(), Target{
		Vertical: "fitness", Market: "us", OrganizationID: "org-1",
	})
	require.NoError(t, err)
	assert.NotContains(t, out.TokenRelevance, "cashback")

	rewards, err := m.Merge(context.Background(), Target{
		Vertical: "rewards", Market: "us", OrganizationID: "org-1",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.99, rewards.TokenRelevance["cashback"], 1e-9)
}

func TestMerge_Deterministic(t *testing.T) {
	m, st := newTestMerger(t)

	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.KPIWeightPayload{KPIName: "conversion_rate", WeightMultiplier: 1.3},
	})
	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.StopwordPayload{Word: "gratis"},
	})

	target := Target{Vertical: "rewards", Market: "de", OrganizationID: "org-1"}

	first, err := m.Merge(context.Background(), target)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.Merge(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMerge_ChainTracksContributors(t *testing.T) {
	m, st := newTestMerger(t)

	mustUpsert(t, st, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.StopwordPayload{Word: "gratis"},
	})

	out, err := m.Merge(context.Background(), Target{
		Vertical: "fitness", Market: "de", OrganizationID: "org-1",
	})
	require.NoError(t, err)

	assert.Equal(t, profile.BaseVerticalID, out.Chain.Base.ID)
	require.NotNil(t, out.Chain.Vertical)
	assert.Equal(t, "fitness", out.Chain.Vertical.ID)
	require.NotNil(t, out.Chain.Market)
	assert.Equal(t, "de", out.Chain.Market.ID)
	require.NotNil(t, out.Chain.Client)
	assert.Equal(t, "org-1", out.Chain.Client.ID)

	assert.Equal(t, model.ScopeMarket, out.Chain.Sections["stopwords"])
	assert.Equal(t, model.ScopeVertical, out.Chain.Sections["weights"])
	assert.Equal(t, model.ScopeMarket, out.Chain.Sections["locales"])
}

func TestMerge_NewerRowWinsWithinLayer(t *testing.T) {
	m, st := newTestMerger(t)

	// Two client rows for the same token with distinct natural keys: one
	// context-free, one pinned to the vertical. Both land in the client
	// layer; the one written later must supply the final value.
	mustUpsert(t, st, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Payload:        model.TokenRelevancePayload{Token: "cashback", Relevance: 0.3},
	})
	time.Sleep(5 * time.Millisecond) // distinct created_at
	mustUpsert(t, st, model.OverrideRecord{
		Scope:          model.ScopeClient,
		Vertical:       "fitness",
		OrganizationID: "org-1",
		Payload:        model.TokenRelevancePayload{Token: "cashback", Relevance: 0.9},
	})

	out, err := m.Merge(context.Background(), Target{Vertical: "fitness", OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.InDelta(t, 0.9, out.TokenRelevance["cashback"], 1e-9)
}
