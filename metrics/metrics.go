// Package metrics provides Prometheus observability for the residency engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing, so pure components can take it as an optional dependency.
type Metrics struct {
	// Ledger build latency
	LedgerBuild prometheus.Histogram

	// Endpoints whose zone could not be resolved and were read as UTC
	TimezoneFallbacks prometheus.Counter

	// Midnight projections skipped because the local time did not exist
	SkippedProjections prometheus.Counter

	// Threshold searches by outcome: "feasible", "infeasible"
	ThresholdSearches *prometheus.CounterVec

	// Ledger cache lookups by result: "hit", "miss", "error"
	LedgerCache *prometheus.CounterVec

	// Threshold watcher alerts by level: "warning", "exceeded"
	WatchAlerts *prometheus.CounterVec
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LedgerBuild: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "residency_ledger_build_seconds",
			Help:    "Duration of presence ledger builds",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		TimezoneFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "residency_timezone_fallbacks_total",
			Help: "Leg endpoints whose timezone was unresolvable and treated as UTC",
		}),

		SkippedProjections: factory.NewCounter(prometheus.CounterOpts{
			Name: "residency_skipped_midnight_projections_total",
			Help: "Midnight projections skipped because the local time did not exist",
		}),

		ThresholdSearches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "residency_threshold_searches_total",
			Help: "Threshold searches by outcome",
		}, []string{"outcome"}),

		LedgerCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "residency_ledger_cache_total",
			Help: "Ledger cache lookups by result",
		}, []string{"result"}),

		WatchAlerts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "residency_watch_alerts_total",
			Help: "Subjects found near or over a country threshold by the watcher",
		}, []string{"level"}),
	}
}

// ObserveLedgerBuild records the duration of one ledger build.
func (m *Metrics) ObserveLedgerBuild(d time.Duration) {
	if m != nil {
		m.LedgerBuild.Observe(d.Seconds())
	}
}

// IncTimezoneFallback records one endpoint read as UTC.
func (m *Metrics) IncTimezoneFallback() {
	if m != nil {
		m.TimezoneFallbacks.Inc()
	}
}

// IncSkippedProjection records one skipped midnight projection.
func (m *Metrics) IncSkippedProjection() {
	if m != nil {
		m.SkippedProjections.Inc()
	}
}

// IncThresholdSearch records a search outcome.
func (m *Metrics) IncThresholdSearch(feasible bool) {
	if m == nil {
		return
	}
	outcome := "feasible"
	if !feasible {
		outcome = "infeasible"
	}
	m.ThresholdSearches.WithLabelValues(outcome).Inc()
}

// IncLedgerCache records a cache lookup result.
func (m *Metrics) IncLedgerCache(result string) {
	if m != nil {
		m.LedgerCache.WithLabelValues(result).Inc()
	}
}

// IncWatchAlert records one watcher alert.
func (m *Metrics) IncWatchAlert(exceeded bool) {
	if m == nil {
		return
	}
	level := "warning"
	if exceeded {
		level = "exceeded"
	}
	m.WatchAlerts.WithLabelValues(level).Inc()
}
