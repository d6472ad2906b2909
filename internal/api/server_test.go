package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeak/aso-bible-cli/internal/model"
	"github.com/northpeak/aso-bible-cli/internal/profile"
	"github.com/northpeak/aso-bible-cli/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reg, err := profile.NewRegistry()
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(reg, st, 2).Router([]string{"*"}))
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	code := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_MergePreview(t *testing.T) {
	srv, _ := newTestServer(t)

	var merged model.MergedRuleSet
	code := getJSON(t, srv.URL+"/v1/ruleset?vertical=language_learning&market=us", &merged)
	require.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 0.30, merged.Weights["factual_grounding"], 1e-9)
	assert.Equal(t, []string{"en-US", "es-MX"}, merged.Locales)
}

func TestServer_MergePreview_MissingVertical(t *testing.T) {
	srv, _ := newTestServer(t)

	code := getJSON(t, srv.URL+"/v1/ruleset", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_MergePreview_UnknownVertical(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	code := getJSON(t, srv.URL+"/v1/ruleset?vertical=dating", &body)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "dating")
}

func TestServer_UpsertAndListOverrides(t *testing.T) {
	srv, _ := newTestServer(t)

	var created struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	code := postJSON(t, srv.URL+"/v1/overrides", `{
		"kind": "token_relevance",
		"scope": "market",
		"market": "de",
		"payload": {"token": "cashback", "relevance": 0.9}
	}`, &created)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, 1, created.Version)
	assert.NotEmpty(t, created.ID)

	var listed struct {
		Count int `json:"count"`
	}
	code = getJSON(t, srv.URL+"/v1/overrides?kind=token_relevance&market=de", &listed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, listed.Count)
}

func TestServer_UpsertOverride_RejectsUnknownPayloadFields(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	code := postJSON(t, srv.URL+"/v1/overrides", `{
		"kind": "stopword",
		"scope": "global",
		"payload": {"word": "free", "color": "red"}
	}`, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "payload")
}

func TestServer_UpsertOverride_RejectsOutOfRangeMultiplier(t *testing.T) {
	srv, _ := newTestServer(t)

	code := postJSON(t, srv.URL+"/v1/overrides", `{
		"kind": "kpi_weight",
		"scope": "global",
		"payload": {"kpi_name": "conversion_rate", "weight_multiplier": 5.0}
	}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_DeactivateOverride(t *testing.T) {
	srv, st := newTestServer(t)

	rec, err := st.UpsertOverride(context.Background(), model.OverrideRecord{
		Scope:   model.ScopeGlobal,
		Payload: model.StopwordPayload{Word: "free"},
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/overrides/stopword/"+rec.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	active, err := st.ListOverrides(context.Background(), model.OverrideFilter{Kind: model.KindStopword})
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestServer_PublishAndListSnapshots(t *testing.T) {
	srv, _ := newTestServer(t)

	var snap model.RulesetSnapshot
	code := postJSON(t, srv.URL+"/v1/publish", `{"vertical": "fitness", "market": "us"}`, &snap)
	require.Equal(t, http.StatusCreated, code)
	assert.True(t, snap.IsActive)

	var listed struct {
		Count int `json:"count"`
	}
	code = getJSON(t, srv.URL+"/v1/snapshots?vertical=fitness&market=us", &listed)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, listed.Count)
}

func TestServer_Publish_RequiresTarget(t *testing.T) {
	srv, _ := newTestServer(t)

	code := postJSON(t, srv.URL+"/v1/publish", `{"vertical": "fitness"}`, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_Audit(t *testing.T) {
	srv, _ := newTestServer(t)

	var report struct {
		Counts struct {
			Errors   int `json:"errors"`
			Warnings int `json:"warnings"`
			Infos    int `json:"infos"`
		} `json:"counts"`
	}
	code := getJSON(t, srv.URL+"/v1/audit", &report)
	require.Equal(t, http.StatusOK, code)
	// Fresh DB: nothing synced, nothing published, no errors.
	assert.Zero(t, report.Counts.Errors)
	assert.Positive(t, report.Counts.Warnings)
}

func TestServer_ListProfiles(t *testing.T) {
	srv, _ := newTestServer(t)

	var verticals struct {
		Verticals []profile.VerticalProfile `json:"verticals"`
	}
	code := getJSON(t, srv.URL+"/v1/profiles/verticals", &verticals)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, verticals.Verticals)

	var markets struct {
		Markets []profile.MarketProfile `json:"markets"`
	}
	code = getJSON(t, srv.URL+"/v1/profiles/markets", &markets)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, markets.Markets)
}
