/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Leg creation, validation and deletion
- Ledger, counts and summary endpoints
- Ledger cache hits through the handler
- Forecast, max end date and standard durations
- Stateless calculation and rules
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/residency-engine/cache"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/logger"
	"github.com/warp/residency-engine/metrics"
	"github.com/warp/residency-engine/residency"
	memstore "github.com/warp/residency-engine/residency/store"
)

type testEnv struct {
	handler  *Handler
	router   http.Handler
	store    *memstore.Memory
	metrics  *metrics.Metrics
	registry *prometheus.Registry
}

var testNow = time.Date(2024, time.June, 1, 15, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := memstore.NewMemory()

	h := NewHandler(store,
		WithCache(cache.NewInMemoryCache(), time.Minute),
		WithMetrics(m),
		WithLogger(logger.Discard()),
		WithClock(func() time.Time { return testNow }),
	)
	return &testEnv{
		handler:  h,
		router:   NewRouter(h, nil, reg),
		store:    store,
		metrics:  m,
		registry: reg,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) addLeg(t *testing.T, subject string, leg LegDTO) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/subjects/"+subject+"/legs", leg)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// LEGS
// =============================================================================

func TestCreateLeg_FillsEndpointsFromAirport(t *testing.T) {
	env := newTestEnv(t)

	// WHEN: A leg is posted with airport codes only
	env.addLeg(t, "alice", flight("", "YVR", "2024-12-23T23:00", "SYD", "2024-12-25T09:00", "Air Canada"))

	// THEN: Country, city and zone come from the airport table, and an ID is generated
	rec := env.do(t, http.MethodGet, "/api/subjects/alice/legs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	legs := decode[[]LegDTO](t, rec)
	require.Len(t, legs, 1)
	assert.NotEmpty(t, legs[0].ID)
	assert.Equal(t, "Canada", legs[0].Departure.Country)
	assert.Equal(t, "America/Vancouver", legs[0].Departure.Timezone)
	assert.Equal(t, "Sydney", legs[0].Arrival.City)
	assert.Equal(t, "2024-12-23T23:00:00", legs[0].Departure.Time)
}

func TestCreateLeg_KeepsOffsetTimestamps(t *testing.T) {
	env := newTestEnv(t)

	env.addLeg(t, "alice", flight("L1", "YVR", "2024-12-24T07:00:00Z", "SYD", "2024-12-24T22:00:00Z", ""))

	stored, err := env.store.Legs(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Departure.HasOffset)
	assert.True(t, stored[0].Departure.Time.Equal(time.Date(2024, 12, 24, 7, 0, 0, 0, time.UTC)))
}

func TestCreateLeg_Rejections(t *testing.T) {
	tests := []struct {
		name string
		leg  LegDTO
	}{
		{"unparseable time", flight("L1", "YVR", "next tuesday", "SYD", "2024-12-25T09:00", "")},
		{"unknown airport and no country", flight("L1", "ZZZ", "2024-12-23T23:00", "SYD", "2024-12-25T09:00", "")},
		{"arrival before departure", flight("L1", "YVR", "2024-12-25T23:00", "SYD", "2024-12-25T09:00", "")},
		{"unknown timezone", LegDTO{
			ID:        "L1",
			Departure: EndpointDTO{Country: "Mars", Timezone: "Mars/Olympus_Mons", Time: "2024-12-23T23:00"},
			Arrival:   EndpointDTO{Airport: "SYD", Time: "2024-12-25T09:00"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			rec := env.do(t, http.MethodPost, "/api/subjects/alice/legs", tt.leg)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Details)
		})
	}
}

func TestCreateLeg_MalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/subjects/alice/legs", strings.NewReader("{"))
	rec := httptest.NewRecorder()

	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteLeg(t *testing.T) {
	env := newTestEnv(t)
	env.addLeg(t, "alice", flight("L1", "YYZ", "2024-03-04T07:00", "JFK", "2024-03-04T08:30", ""))

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/subjects/alice/legs/L2", nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/subjects/alice/legs/L1", nil).Code)

	subjects := decode[[]string](t, env.do(t, http.MethodGet, "/api/subjects", nil))
	assert.Empty(t, subjects)
}

// =============================================================================
// LEDGER & COUNTS
// =============================================================================

func TestGetLedger_WestboundDateLine(t *testing.T) {
	// GIVEN: Vancouver 23:00 Dec 23 to Sydney 09:00 Dec 25
	env := newTestEnv(t)
	env.addLeg(t, "alice", flight("AC33", "YVR", "2024-12-23T23:00", "SYD", "2024-12-25T09:00", ""))

	// WHEN: The ledger is requested
	rec := env.do(t, http.MethodGet, "/api/subjects/alice/ledger", nil)

	// THEN: Dec 24 is a transit day between Canada and Australia
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LedgerResponse](t, rec)
	require.Len(t, resp.Days, 3)
	assert.Equal(t, "2024-12-23", resp.Days[0].Date.String())
	assert.Equal(t, "Canada", resp.Days[0].LocationAtMidnight)
	assert.True(t, resp.Days[1].InTransitAtMidnight)
	assert.Equal(t, residency.InTransit, resp.Days[1].LocationAtMidnight)
	assert.Equal(t, "Australia", resp.Days[2].LocationAtMidnight)
}

func TestGetLedger_PeriodFilter(t *testing.T) {
	env := newTestEnv(t)
	env.addLeg(t, "alice", flight("AC33", "YVR", "2024-12-23T23:00", "SYD", "2024-12-25T09:00", ""))

	rec := env.do(t, http.MethodGet, "/api/subjects/alice/ledger?from=2024-12-24", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[LedgerResponse](t, rec)
	assert.Equal(t, "2024-12-24", resp.Period.From)
	require.Len(t, resp.Days, 2)
	assert.Equal(t, "2024-12-24", resp.Days[0].Date.String())
}

func TestGetLedger_InvalidPeriod(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/subjects/alice/ledger?from=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/subjects/alice/ledger?from=2024-02-01&to=2024-01-01", nil).Code)
}

func TestGetLedger_UnknownSubjectIsEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/subjects/nobody/ledger", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[LedgerResponse](t, rec).Days)
}

func TestGetLedger_UsesCache(t *testing.T) {
	env := newTestEnv(t)
	env.addLeg(t, "alice", flight("AC33", "YVR", "2024-12-23T23:00", "SYD", "2024-12-25T09:00", ""))

	first := env.do(t, http.MethodGet, "/api/subjects/alice/ledger", nil)
	second := env.do(t, http.MethodGet, "/api/subjects/alice/ledger", nil)

	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.LedgerCache.WithLabelValues("miss")))
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.LedgerCache.WithLabelValues("hit")))

	// A new leg changes the fingerprint
	env.addLeg(t, "alice", flight("QF1", "SYD", "2025-01-05T10:00", "AKL", "2025-01-05T15:00", ""))
	env.do(t, http.MethodGet, "/api/subjects/alice/ledger", nil)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.LedgerCache.WithLabelValues("miss")))
}

func TestGetCounts_USPartialDay(t *testing.T) {
	// GIVEN: Toronto to New York one morning, back the next evening
	env := newTestEnv(t)
	env.addLeg(t, "bob", flight("AC700", "YYZ", "2024-03-04T07:00", "JFK", "2024-03-04T08:30", ""))
	env.addLeg(t, "bob", flight("AC705", "JFK", "2024-03-05T18:00", "YYZ", "2024-03-05T19:30", ""))

	// WHEN: Counts are requested
	rec := env.do(t, http.MethodGet, "/api/subjects/bob/counts", nil)

	// THEN: Both days touched count for the US, only Mar 4 midnight for Canada
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CountsResponse](t, rec)
	assert.Equal(t, generic.Tally{"Canada": 1, "United States": 2}, resp.Tally)

	require.Len(t, resp.Statuses, 2)
	us := resp.Statuses[1]
	assert.Equal(t, "United States", us.Country)
	assert.Equal(t, residency.PartialDayRule, us.Kind)
	assert.Equal(t, 181, us.Remaining)
	assert.True(t, us.HasTransitException)
	assert.False(t, us.TransitApplied)
}

func TestGetCounts_PeriodFilter(t *testing.T) {
	env := newTestEnv(t)
	env.addLeg(t, "bob", flight("AC700", "YYZ", "2024-03-04T07:00", "JFK", "2024-03-04T08:30", ""))
	env.addLeg(t, "bob", flight("AC705", "JFK", "2024-03-05T18:00", "YYZ", "2024-03-05T19:30", ""))

	rec := env.do(t, http.MethodGet, "/api/subjects/bob/counts?from=2024-03-05&to=2024-03-05", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, generic.Tally{"United States": 1}, decode[CountsResponse](t, rec).Tally)
}

func TestGetSummary(t *testing.T) {
	env := newTestEnv(t)
	env.addLeg(t, "carol", flight("AF1080", "CDG", "2024-05-10T18:00", "LHR", "2024-05-10T18:20", ""))
	env.addLeg(t, "carol", flight("AF1081", "LHR", "2024-05-11T19:00", "CDG", "2024-05-11T21:15", ""))

	rec := env.do(t, http.MethodGet, "/api/subjects/carol/summary", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SummaryResponse](t, rec)
	assert.Equal(t, 2, resp.LegCount)
	assert.Equal(t, PeriodDTO{From: "2024-05-10", To: "2024-05-11"}, resp.LedgerSpan)
	assert.Equal(t, generic.Tally{"France": 1, "United Kingdom": 1}, resp.LedgerTally)

	// Rolling estimate: London 17:20 UTC May 10 to 18:00 UTC May 11 is under
	// two whole days; Paris from the return until today is 20 days.
	assert.Equal(t, 1, resp.RollingEstimate.Get("United Kingdom"))
	assert.Equal(t, 20, resp.RollingEstimate.Get("France"))
	assert.True(t, resp.RollingWindow.End.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)))
}

func TestGetSummary_UnknownSubject(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/subjects/nobody/summary", nil).Code)
}

func TestCalculate_Stateless(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/calculate", CalculateRequest{
		Legs: []LegDTO{
			flight("", "LHR", "2024-05-11T19:00", "CDG", "2024-05-11T21:15", ""),
			flight("", "CDG", "2024-05-10T18:00", "LHR", "2024-05-10T18:20", ""),
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CalculateResponse](t, rec)
	assert.Len(t, resp.Days, 2)
	assert.Equal(t, generic.Tally{"France": 1, "United Kingdom": 1}, resp.Tally)

	subjects := decode[[]string](t, env.do(t, http.MethodGet, "/api/subjects", nil))
	assert.Empty(t, subjects)
}

// =============================================================================
// FORECASTING
// =============================================================================

func TestForecast_HypotheticalTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/subjects/dave/forecast", ForecastRequest{
		Trips: []TripDTO{{Country: "Portugal", Start: "2024-06-10", Days: 30}},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ForecastResponse](t, rec)
	assert.Empty(t, resp.Current)
	assert.Equal(t, generic.Tally{"Portugal": 30}, resp.Forecast)
	assert.True(t, resp.ForecastWindow.End.Equal(time.Date(2024, 7, 10, 0, 0, 0, 0, time.UTC)))
	require.Len(t, resp.Contributions, 1)
	assert.True(t, resp.Contributions[0].Hypothetical)
	assert.Equal(t, 30.0, resp.Contributions[0].ExactDays)
}

func TestForecast_BadTrip(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/subjects/dave/forecast", ForecastRequest{
		Trips: []TripDTO{{Country: "Portugal", Start: "soon", Days: 30}},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaxEndDate_NoHistory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/subjects/dave/max-end-date", MaxEndDateRequest{
		Country:   "UK",
		TripStart: "2024-07-01",
		DayLimit:  90,
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[MaxEndDateResponse](t, rec)
	assert.Equal(t, "United Kingdom", resp.Country)
	assert.True(t, resp.Feasible)
	assert.Equal(t, "2024-09-29", resp.EndDate.String())
	assert.Equal(t, 90, resp.Days)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.ThresholdSearches.WithLabelValues("feasible")))
}

func TestMaxEndDate_DefaultsLimitToRule(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/subjects/dave/max-end-date", MaxEndDateRequest{
		Country:   "Canada",
		TripStart: "2024-07-01",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[MaxEndDateResponse](t, rec)
	assert.Equal(t, 183, resp.DayLimit)
	assert.Equal(t, 183, resp.Days)
}

func TestMaxEndDate_RequiresCountry(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/subjects/dave/max-end-date", MaxEndDateRequest{TripStart: "2024-07-01"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStandardDurations(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/subjects/dave/standard-durations", StandardDurationsRequest{
		Country:   "Australia",
		TripStart: "2024-07-01",
		DayLimit:  60,
		Durations: []int{30, 90},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp []struct {
		DurationDays int  `json:"duration_days"`
		Days         int  `json:"days"`
		Exceeds      bool `json:"exceeds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, 30, resp[0].Days)
	assert.False(t, resp[0].Exceeds)
	assert.Equal(t, 90, resp[1].Days)
	assert.True(t, resp[1].Exceeds)
}

func TestStandardDurations_RequiresCountry(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/subjects/dave/standard-durations", StandardDurationsRequest{
		Country:   "  ",
		TripStart: "2024-07-01",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaxEndDate_NoEndDateFits(t *testing.T) {
	// GIVEN: 145 Canadian days, checked against a 100 day limit
	env := newTestEnv(t)
	seedLongCanadaStay(t, env)

	rec := env.do(t, http.MethodPost, "/api/subjects/erin/max-end-date", MaxEndDateRequest{
		Country:   "Canada",
		TripStart: "2024-06-01",
		DayLimit:  100,
	})

	// THEN: The reported days stay within the limit and the overage is separate
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[MaxEndDateResponse](t, rec)
	assert.False(t, resp.Feasible)
	assert.Equal(t, "2024-06-01", resp.EndDate.String())
	assert.Zero(t, resp.Days)
	assert.Greater(t, resp.OverLimitDays, 100)
}

// =============================================================================
// RULES, REFERENCE & METRICS
// =============================================================================

func TestGetRule(t *testing.T) {
	env := newTestEnv(t)

	us := decode[RuleDTO](t, env.do(t, http.MethodGet, "/api/rules/USA", nil))
	assert.Equal(t, "United States", us.Country)
	assert.Equal(t, "partial_day", us.Kind)
	assert.True(t, us.Registered)

	other := decode[RuleDTO](t, env.do(t, http.MethodGet, "/api/rules/Narnia", nil))
	assert.Equal(t, "Narnia", other.Country)
	assert.Equal(t, "midnight", other.Kind)
	assert.Equal(t, 183, other.ThresholdDays)
	assert.False(t, other.Registered)
}

func TestListRules(t *testing.T) {
	env := newTestEnv(t)

	rules := decode[[]RuleDTO](t, env.do(t, http.MethodGet, "/api/rules", nil))

	assert.Len(t, rules, 5)
}

func TestGetAirport(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/airports/lhr", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Europe/London")

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/airports/ZZZ", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.addLeg(t, "alice", flight("AC33", "YVR", "2024-12-23T23:00", "SYD", "2024-12-25T09:00", ""))
	env.do(t, http.MethodGet, "/api/subjects/alice/ledger", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "residency_ledger_build_seconds_count 1")
	assert.Contains(t, rec.Body.String(), `residency_ledger_cache_total{result="miss"} 1`)
}
