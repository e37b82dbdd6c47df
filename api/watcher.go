/*
watcher.go - Background threshold watcher

PURPOSE:
  Periodically recounts every subject's ledger over the trailing year and
  reports subjects whose days in a country have reached a share of that
  country's threshold, or passed it.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Counts ledger days over [today-364, today] with each country's rule
  - Alerts at WarnPercent of the threshold; "exceeded" when over it
  - Keeps the last run for the API and logs each alert

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether watcher is active (default: true)
  - WarnPercent: Alert level as a percentage of the threshold (default: 80)

USAGE:
  watcher := NewThresholdWatcher(handler)
  watcher.Start()
  // ... later
  watcher.Stop()

SEE ALSO:
  - handlers.go: ledgerFor, the cached ledger path used here
  - residency/counter.go: CountDays and Statuses
*/
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

// WatchAlert is one subject at or over the warning level for a country.
type WatchAlert struct {
	Subject       string `json:"subject"`
	Country       string `json:"country"`
	Days          int    `json:"days"`
	ThresholdDays int    `json:"threshold_days"`
	Exceeded      bool   `json:"exceeded"`
}

// WatchRun is the outcome of one pass over all subjects.
type WatchRun struct {
	ID          string       `json:"id"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
	Period      PeriodDTO    `json:"period"`
	Subjects    int          `json:"subjects"`
	Errors      int          `json:"errors"`
	Alerts      []WatchAlert `json:"alerts"`
}

// ThresholdWatcher recounts subjects on a ticker.
type ThresholdWatcher struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool
	WarnPercent   int

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *WatchRun
}

// NewThresholdWatcher creates a new watcher.
func NewThresholdWatcher(h *Handler) *ThresholdWatcher {
	return &ThresholdWatcher{
		Handler:       h,
		CheckInterval: time.Hour,
		Enabled:       true,
		WarnPercent:   80,
	}
}

// Start begins the watcher.
func (tw *ThresholdWatcher) Start() {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	logger := tw.Handler.logger
	if !tw.Enabled {
		logger.Info("threshold watcher disabled")
		return
	}
	if tw.ticker != nil {
		return
	}

	tw.ticker = time.NewTicker(tw.CheckInterval)
	tw.stop = make(chan struct{})
	tw.wg.Add(1)

	go tw.run()

	logger.Info("threshold watcher started", "interval", tw.CheckInterval, "warn_percent", tw.WarnPercent)
}

// Stop stops the watcher and waits for a running pass to finish.
func (tw *ThresholdWatcher) Stop() {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.ticker != nil {
		tw.ticker.Stop()
		close(tw.stop)
		tw.wg.Wait()
		tw.ticker = nil
		tw.Handler.logger.Info("threshold watcher stopped")
	}
}

func (tw *ThresholdWatcher) run() {
	defer tw.wg.Done()

	// Run immediately on start
	tw.RunNow(context.Background())

	for {
		select {
		case <-tw.ticker.C:
			tw.RunNow(context.Background())
		case <-tw.stop:
			return
		}
	}
}

// RunNow performs one pass and stores it as the last run.
func (tw *ThresholdWatcher) RunNow(ctx context.Context) WatchRun {
	h := tw.Handler
	today := generic.DateOf(h.now().UTC())
	period := generic.Period{Start: today.AddDays(-364), End: today}

	run := WatchRun{
		ID:        uuid.NewString(),
		StartedAt: h.now(),
		Period:    toPeriodDTO(&period),
		Alerts:    []WatchAlert{},
	}

	subjects, err := h.Store.Subjects(ctx)
	if err != nil {
		h.logger.Error("watcher failed to list subjects", "error", err)
		run.Errors++
	}

	for _, subject := range subjects {
		legs, err := h.Store.Legs(ctx, subject)
		if err != nil {
			h.logger.Warn("watcher failed to load legs", "subject", string(subject), "error", err)
			run.Errors++
			continue
		}
		run.Subjects++

		tally := residency.CountDays(h.ledgerFor(ctx, legs), h.Registry, &period)
		for _, st := range residency.Statuses(tally, h.Registry) {
			if !tw.alerts(st) {
				continue
			}
			alert := WatchAlert{
				Subject:       string(subject),
				Country:       st.Country,
				Days:          st.Days,
				ThresholdDays: st.ThresholdDays,
				Exceeded:      st.Exceeded,
			}
			run.Alerts = append(run.Alerts, alert)
			h.metrics.IncWatchAlert(alert.Exceeded)
			h.logger.Warn("subject near residency threshold",
				"subject", alert.Subject,
				"country", alert.Country,
				"days", alert.Days,
				"threshold_days", alert.ThresholdDays,
				"exceeded", alert.Exceeded,
			)
		}
	}

	run.CompletedAt = h.now()

	tw.lastMu.Lock()
	tw.last = &run
	tw.lastMu.Unlock()

	h.logger.Info("threshold watch completed", "subjects", run.Subjects, "alerts", len(run.Alerts), "errors", run.Errors)
	return run
}

// alerts reports whether days reach WarnPercent of the threshold.
func (tw *ThresholdWatcher) alerts(st residency.ThresholdStatus) bool {
	if st.Exceeded {
		return true
	}
	return st.ThresholdDays > 0 && st.Days*100 >= st.ThresholdDays*tw.WarnPercent
}

// LastRun returns the most recent pass, if any.
func (tw *ThresholdWatcher) LastRun() (WatchRun, bool) {
	tw.lastMu.RLock()
	defer tw.lastMu.RUnlock()
	if tw.last == nil {
		return WatchRun{}, false
	}
	return *tw.last, true
}

// =============================================================================
// HTTP
// =============================================================================

// GetWatchRun returns the watcher's last run.
func (h *Handler) GetWatchRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.Watcher().LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "No watch run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// TriggerWatch runs the watcher immediately.
func (h *Handler) TriggerWatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Watcher().RunNow(r.Context()))
}
