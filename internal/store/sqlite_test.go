package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// --- Override upsert ---

func TestSQLite_UpsertOverride_FirstVersion(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.TokenRelevancePayload{Token: "cashback", Relevance: 0.9},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, rec.Version)
	assert.True(t, rec.IsActive)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestSQLite_UpsertOverride_SupersedesPrior(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.TokenRelevancePayload{Token: "cashback", Relevance: 0.9},
	})
	require.NoError(t, err)

	second, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.TokenRelevancePayload{Token: "Cashback", Relevance: 0.7},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.ID, second.ID)

	// Exactly one active row survives; the full history keeps both.
	active, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindTokenRelevance})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
	assert.InDelta(t, 0.7, active[0].Payload.(model.TokenRelevancePayload).Relevance, 1e-9)

	all, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindTokenRelevance, IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_UpsertOverride_DistinctTargetsCoexist(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:   model.ScopeMarket,
		Market:  "de",
		Payload: model.TokenRelevancePayload{Token: "cashback", Relevance: 0.9},
	})
	require.NoError(t, err)

	// Same token, different scope: inheritance, not a conflict.
	_, err = st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Payload:        model.TokenRelevancePayload{Token: "cashback", Relevance: 0.5},
	})
	require.NoError(t, err)

	active, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindTokenRelevance})
	require.NoError(t, err)
	assert.Len(t, active, 2)
	for _, rec := range active {
		assert.Equal(t, 1, rec.Version)
	}
}

func TestSQLite_UpsertOverride_RejectsInvalid(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:          model.ScopeClient,
		OrganizationID: "org-1",
		Payload:        model.KPIWeightPayload{KPIName: "conversion_rate", WeightMultiplier: 9.0},
	})
	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	// Nothing was written.
	rows, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindKPIWeight, IncludeInactive: true})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSQLite_UpsertOverride_LLMRulesSingleton(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m := 1.2
	_, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:    model.ScopeVertical,
		Vertical: "finance",
		Payload: model.LLMRulesPayload{Rules: model.LLMRulesPatch{
			Rules: map[string]model.LLMRulePatch{"citation_coverage": {WeightMultiplier: &m}},
		}},
	})
	require.NoError(t, err)

	m2 := 0.8
	second, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:    model.ScopeVertical,
		Vertical: "finance",
		Payload: model.LLMRulesPayload{Rules: model.LLMRulesPatch{
			Rules: map[string]model.LLMRulePatch{"faq_presence": {WeightMultiplier: &m2}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	// One logical LLM-rules override per target: different payloads still
	// share the natural key.
	active, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindLLMRules})
	require.NoError(t, err)
	require.Len(t, active, 1)

	patch := active[0].Payload.(model.LLMRulesPayload)
	assert.Contains(t, patch.Rules.Rules, "faq_presence")
	assert.NotContains(t, patch.Rules.Rules, "citation_coverage")
}

func TestSQLite_UpsertOverride_RoundTripsPayloads(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.HookPatternPayload{Pattern: "limited_time", Keywords: []string{"today", "now"}, Severity: model.SeverityStrong},
	})
	require.NoError(t, err)

	rows, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindHookPattern})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	hook := rows[0].Payload.(model.HookPatternPayload)
	assert.Equal(t, "limited_time", hook.Pattern)
	assert.Equal(t, []string{"today", "now"}, hook.Keywords)
	assert.Equal(t, model.SeverityStrong, hook.Severity)
}

// --- Listing ---

func TestSQLite_ListOverrides_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seed := []model.OverrideRecord{
		{Scope: model.ScopeGlobal, Payload: model.StopwordPayload{Word: "free"}},
		{Scope: model.ScopeVertical, Vertical: "fitness", Payload: model.StopwordPayload{Word: "gym"}},
		{Scope: model.ScopeMarket, Market: "de", Payload: model.StopwordPayload{Word: "gratis"}},
		{Scope: model.ScopeClient, OrganizationID: "org-1", Payload: model.StopwordPayload{Word: "sale"}},
		{Scope: model.ScopeClient, OrganizationID: "org-1", Payload: model.KPIWeightPayload{KPIName: "conversion_rate", WeightMultiplier: 1.2}},
	}
	for _, rec := range seed {
		_, err := st.UpsertOverride(ctx, rec)
		require.NoError(t, err)
	}

	byScope, err := st.ListOverrides(ctx, model.OverrideFilter{Scope: model.ScopeClient})
	require.NoError(t, err)
	assert.Len(t, byScope, 2)

	byKind, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindStopword})
	require.NoError(t, err)
	assert.Len(t, byKind, 4)

	byVertical, err := st.ListOverrides(ctx, model.OverrideFilter{Vertical: "fitness"})
	require.NoError(t, err)
	require.Len(t, byVertical, 1)
	assert.Equal(t, "gym", byVertical[0].Payload.(model.StopwordPayload).Word)

	byOrg, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindKPIWeight, OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, byOrg, 1)

	none, err := st.ListOverrides(ctx, model.OverrideFilter{Market: "jp"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Deactivation ---

func TestSQLite_DeactivateOverride(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, err := st.UpsertOverride(ctx, model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.StopwordPayload{Word: "free"},
	})
	require.NoError(t, err)

	require.NoError(t, st.DeactivateOverride(ctx, model.KindStopword, rec.ID))

	active, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindStopword})
	require.NoError(t, err)
	assert.Empty(t, active)

	// Row survives for history.
	all, err := st.ListOverrides(ctx, model.OverrideFilter{Kind: model.KindStopword, IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].IsActive)

	// Deactivating again fails; the row is no longer active.
	assert.Error(t, st.DeactivateOverride(ctx, model.KindStopword, rec.ID))
}

func TestSQLite_DeactivateOverride_UnknownID(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.Error(t, st.DeactivateOverride(context.Background(), model.KindStopword, "nope"))
}

// --- Profile mirror ---

func TestSQLite_SyncProfiles(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	verticals := []profile.VerticalProfile{
		{ID: "fitness", Label: "Fitness", Description: "Workout apps"},
		{ID: "finance", Label: "Finance", Description: "Budget apps"},
	}
	markets := []profile.MarketProfile{
		{ID: "us", Label: "United States"},
		{ID: "de", Label: "Germany"},
	}

	n, err := st.SyncProfiles(ctx, verticals, markets)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	vrows, err := st.ListVerticalRows(ctx)
	require.NoError(t, err)
	require.Len(t, vrows, 2)
	assert.Equal(t, "finance", vrows[0].Vertical) // ordered by id
	assert.True(t, vrows[0].IsActive)

	// Second sync updates labels instead of duplicating.
	verticals[0].Label = "Fitness & Workouts"
	_, err = st.SyncProfiles(ctx, verticals, markets)
	require.NoError(t, err)

	vrows, err = st.ListVerticalRows(ctx)
	require.NoError(t, err)
	require.Len(t, vrows, 2)
	assert.Equal(t, "Fitness & Workouts", vrows[1].Label)

	mrows, err := st.ListMarketRows(ctx)
	require.NoError(t, err)
	assert.Len(t, mrows, 2)
}

// --- Snapshots ---

func testRuleset(vertical, market string, excellent float64) model.MergedRuleSet {
	return model.MergedRuleSet{
		Vertical: vertical,
		Market:   market,
		DiscoveryThresholds: model.DiscoveryThresholds{
			Excellent: excellent, Good: 60, Moderate: 40,
		},
		Weights: map[string]float64{"conversion_rate": 0.15},
	}
}

func TestSQLite_PublishSnapshot_SwapsActive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.PublishSnapshot(ctx, model.RulesetSnapshot{
		Vertical: "fitness", Market: "us",
		Ruleset: testRuleset("fitness", "us", 80),
	})
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	second, err := st.PublishSnapshot(ctx, model.RulesetSnapshot{
		Vertical: "fitness", Market: "us",
		Ruleset: testRuleset("fitness", "us", 85),
	})
	require.NoError(t, err)

	latest, err := st.LatestSnapshot(ctx, "fitness", "us")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.InDelta(t, 85, latest.Ruleset.DiscoveryThresholds.Excellent, 1e-9)

	// History keeps the superseded row, inactive.
	all, err := st.ListSnapshots(ctx, SnapshotFilter{Vertical: "fitness", Market: "us"})
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := st.ListSnapshots(ctx, SnapshotFilter{Vertical: "fitness", Market: "us", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)
}

func TestSQLite_LatestSnapshot_NoneIsNil(t *testing.T) {
	st := newTestSQLiteStore(t)

	snap, err := st.LatestSnapshot(context.Background(), "fitness", "jp")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSQLite_PublishSnapshot_PairsAreIndependent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.PublishSnapshot(ctx, model.RulesetSnapshot{
		Vertical: "fitness", Market: "us", Ruleset: testRuleset("fitness", "us", 80),
	})
	require.NoError(t, err)
	_, err = st.PublishSnapshot(ctx, model.RulesetSnapshot{
		Vertical: "fitness", Market: "de", Ruleset: testRuleset("fitness", "de", 80),
	})
	require.NoError(t, err)

	us, err := st.LatestSnapshot(ctx, "fitness", "us")
	require.NoError(t, err)
	de, err := st.LatestSnapshot(ctx, "fitness", "de")
	require.NoError(t, err)

	require.NotNil(t, us)
	require.NotNil(t, de)
	assert.True(t, us.IsActive)
	assert.True(t, de.IsActive)
}

func TestSQLite_ListSnapshots_Limit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := st.PublishSnapshot(ctx, model.RulesetSnapshot{
			Vertical: "fitness", Market: "us", Ruleset: testRuleset("fitness", "us", float64(80+i)),
		})
		require.NoError(t, err)
	}

	snaps, err := st.ListSnapshots(ctx, SnapshotFilter{Vertical: "fitness", Market: "us", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}
