package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/aso-bible-cli/internal/model"
)

func TestNewRegistry_Builtins(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	v, ok := reg.Vertical("language_learning")
	require.True(t, ok)
	assert.Equal(t, "Language Learning", v.Label)
	assert.InDelta(t, 0.30, v.KPIOverrides["factual_grounding"], 1e-9)

	_, ok = reg.Vertical("dating")
	assert.False(t, ok)

	m, ok := reg.Market("de")
	require.True(t, ok)
	assert.NotEmpty(t, m.Locales)
}

func TestRegistry_BaseSentinel(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	base := reg.Base()
	assert.Equal(t, BaseVerticalID, base.ID)
	assert.InDelta(t, 0.20, base.KPIOverrides["factual_grounding"], 1e-9)

	// The sentinel resolves through Vertical() too.
	v, ok := reg.Vertical(BaseVerticalID)
	require.True(t, ok)
	assert.Equal(t, BaseVerticalID, v.ID)

	// But it never appears in the listable set.
	for _, v := range reg.AllVerticals() {
		assert.NotEqual(t, BaseVerticalID, v.ID)
	}
}

func TestRegistry_BaseLLMRules_Isolated(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	rules := reg.BaseLLMRules()
	require.Contains(t, rules.Rules, "citation_coverage")
	rules.Rules["citation_coverage"] = model.LLMRuleSetting{Weight: 99}

	fresh := reg.BaseLLMRules()
	assert.InDelta(t, 1.0, fresh.Rules["citation_coverage"].Weight, 1e-9)
}

func TestRegistry_AllSorted(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	verticals := reg.AllVerticals()
	for i := 1; i < len(verticals); i++ {
		assert.Less(t, verticals[i-1].ID, verticals[i].ID)
	}
	markets := reg.AllMarkets()
	for i := 1; i < len(markets); i++ {
		assert.Less(t, markets[i-1].ID, markets[i].ID)
	}
}

func TestNewRegistry_OverlayAdds(t *testing.T) {
	reg, err := NewRegistry(Overlay{
		Verticals: []VerticalProfile{{ID: "dating", Label: "Dating"}},
		Markets:   []MarketProfile{{ID: "es", Label: "Spain", Locales: []string{"es-ES"}}},
	})
	require.NoError(t, err)

	v, ok := reg.Vertical("dating")
	require.True(t, ok)
	assert.True(t, v.Overlay)

	m, ok := reg.Market("es")
	require.True(t, ok)
	assert.True(t, m.Overlay)
}

func TestNewRegistry_OverlayShadowRejected(t *testing.T) {
	_, err := NewRegistry(Overlay{
		Verticals: []VerticalProfile{{ID: "fitness", Label: "Shadow"}},
	})
	require.Error(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	_, err = NewRegistry(Overlay{
		Markets: []MarketProfile{{ID: "us", Label: "Shadow", Locales: []string{"en-US"}}},
	})
	assert.Error(t, err)

	_, err = NewRegistry(Overlay{
		Verticals: []VerticalProfile{{ID: BaseVerticalID, Label: "Base"}},
	})
	assert.Error(t, err)
}

func TestNewRegistry_OverlayBadLocale(t *testing.T) {
	_, err := NewRegistry(Overlay{
		Markets: []MarketProfile{{ID: "zz", Label: "Nowhere", Locales: []string{"not a locale"}}},
	})
	assert.Error(t, err)
}

func TestMarketProfile_ValidateLocales(t *testing.T) {
	assert.NoError(t, MarketProfile{Locales: []string{"en-US", "de-DE", "pt-BR"}}.ValidateLocales())
	assert.Error(t, MarketProfile{Locales: []string{"!!"}}.ValidateLocales())
}
