/*
scenarios_test.go - Tests for demo scenarios

Tests for:
- Every scenario loads through the leg conversion path
- Scenario results match the counting rules they demonstrate
- Reset clears legs, cache and the current scenario
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/residency-engine/generic"
)

func loadScenario(t *testing.T, env *testEnv, id string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t)

	list := decode[[]ScenarioDTO](t, env.do(t, http.MethodGet, "/api/scenarios", nil))

	require.Len(t, list, len(scenarios))
	assert.Equal(t, "westbound-idl", list[0].ID)
}

func TestAllScenariosLoad(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			env := newTestEnv(t)

			loadScenario(t, env, s.ID)

			legs, err := env.store.Legs(context.Background(), s.subject)
			require.NoError(t, err)
			assert.Len(t, legs, len(s.legs))

			current := decode[ScenarioDTO](t, env.do(t, http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, s.ID, current.ID)
		})
	}
}

func TestScenarioCounts(t *testing.T) {
	tests := []struct {
		scenario string
		subject  string
		want     generic.Tally
	}{
		{"westbound-idl", "idl-traveller", generic.Tally{"Canada": 1, "Australia": 1}},
		{"us-partial-day", "commuter", generic.Tally{"Canada": 1, "United States": 2}},
		{"uk-midnight", "eurostar", generic.Tally{"France": 1, "United Kingdom": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			env := newTestEnv(t)
			loadScenario(t, env, tt.scenario)

			rec := env.do(t, http.MethodGet, "/api/subjects/"+tt.subject+"/counts", nil)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, decode[CountsResponse](t, rec).Tally)
		})
	}
}

func TestSnowbirdScenario_RollingEstimate(t *testing.T) {
	// GIVEN: Nov 15 to Apr 15 and Jul 1 to Jul 21 in Miami, clock on Jun 1 2024
	env := newTestEnv(t)
	loadScenario(t, env, "snowbird")

	// WHEN: The summary is requested
	rec := env.do(t, http.MethodGet, "/api/subjects/snowbird/summary", nil)

	// THEN: The rolling window holds the winter stay (Nov 15 16:10 UTC to
	// Apr 15 16:00 UTC, just under 152 days); the July trip ended after
	// the clock but is still recorded in the ledger.
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SummaryResponse](t, rec)
	assert.Equal(t, 4, resp.LegCount)
	assert.Equal(t, 151, resp.RollingEstimate.Get("United States"))
	assert.Greater(t, resp.LedgerTally.Get("United States"), 151)
}

func TestLoadScenario_Unknown(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "moon-base"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadScenario_ReplacesPreviousData(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "westbound-idl")
	loadScenario(t, env, "uk-midnight")

	subjects := decode[[]string](t, env.do(t, http.MethodGet, "/api/subjects", nil))

	assert.Equal(t, []string{"eurostar"}, subjects)
}

func TestResetDatabase(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "westbound-idl")
	env.do(t, http.MethodGet, "/api/subjects/idl-traveller/ledger", nil)

	rec := env.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	subjects := decode[[]string](t, env.do(t, http.MethodGet, "/api/subjects", nil))
	assert.Empty(t, subjects)

	current := env.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.JSONEq(t, "null", current.Body.String())

	// Reloading builds the ledger again instead of reading a stale entry
	loadScenario(t, env, "westbound-idl")
	env.do(t, http.MethodGet, "/api/subjects/idl-traveller/ledger", nil)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.LedgerCache.WithLabelValues("miss")))
	assert.Equal(t, float64(0), testutil.ToFloat64(env.metrics.LedgerCache.WithLabelValues("hit")))
}

func TestScenarioLegsAreWallClock(t *testing.T) {
	for _, s := range scenarios {
		for _, leg := range s.legs {
			for _, ts := range []string{leg.Departure.Time, leg.Arrival.Time} {
				_, hasOffset, err := parseEndpointTime(ts)
				require.NoError(t, err, leg.ID)
				assert.False(t, hasOffset, leg.ID)
			}
		}
	}
}
