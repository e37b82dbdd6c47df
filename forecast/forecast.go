/*
Package forecast estimates rolling-window day counts for trips that have not
happened yet, and searches for the longest trip that stays under a limit.

PURPOSE:
  The ledger (residency package) answers "how many days did I spend in X?"
  precisely. Planning asks a different question: "if I stay in X from the
  15th, how long can I stay before I cross 183 days in the last 365?" This
  package answers it with a coarser, linear model.

MODEL:
  A Stay is a half-open interval [Arrival, Departure) in one country. A stay
  contributes floor(overlap / 24h) days to its country for any window it
  overlaps. There is no timezone or midnight logic here.

  Stays are additive and independent: two overlapping stays in different
  countries are both counted in full. The ledger would split such a day; the
  forecaster does not. The two models are expected to disagree by a few days
  and the forecaster must not be used for legal counting.

WINDOWS:
  current  = [today - 365d, today)       today = Now() at 00:00 UTC
  forecast = [end - 365d, end)           end   = latest hypothetical departure

SEE ALSO:
  - search.go: MaxEndDate and StandardDurationForecasts
  - residency/counter.go: The precise counter this approximates
*/
package forecast

import (
	"sort"
	"time"

	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/metrics"
	"github.com/warp/residency-engine/residency"
	"github.com/warp/residency-engine/timezone"
)

// WindowDays is the length of the rolling window.
const WindowDays = 365

// =============================================================================
// STAY
// =============================================================================

// Stay is time spent in one country, [Arrival, Departure).
type Stay struct {
	Country   string    `json:"country"`
	Arrival   time.Time `json:"arrival"`
	Departure time.Time `json:"departure"`
}

func (s Stay) Window() generic.Window {
	return generic.Window{Start: s.Arrival, End: s.Departure}
}

// TripStay returns the stay for a trip of n days starting at 00:00 UTC on start.
func TripStay(country string, start generic.Date, n int) Stay {
	return Stay{Country: country, Arrival: start.Time, Departure: start.AddDays(n).Time}
}

// StaysFromLegs turns legs into stays: each arrival opens a stay in the
// arrival country that the next departure closes. The last stay is closed at
// openUntil if that is after its arrival; otherwise it is dropped.
//
// Endpoint zones are resolved through tz; an unusable zone reads the
// timestamp as UTC, the same fallback the ledger builder uses.
func StaysFromLegs(legs []residency.Leg, tz timezone.Service, openUntil time.Time) []Stay {
	type instants struct {
		leg      residency.Leg
		dep, arr time.Time
	}
	resolved := make([]instants, len(legs))
	for i, l := range legs {
		resolved[i] = instants{leg: l, dep: toUTC(tz, l.Departure), arr: toUTC(tz, l.Arrival)}
	}
	sort.SliceStable(resolved, func(i, j int) bool {
		if !resolved[i].dep.Equal(resolved[j].dep) {
			return resolved[i].dep.Before(resolved[j].dep)
		}
		return resolved[i].leg.ID < resolved[j].leg.ID
	})

	var stays []Stay
	for i, r := range resolved {
		end := openUntil
		if i+1 < len(resolved) {
			end = resolved[i+1].dep
		}
		if !end.After(r.arr) {
			continue
		}
		stays = append(stays, Stay{Country: r.leg.Arrival.Country, Arrival: r.arr, Departure: end})
	}
	return stays
}

func toUTC(tz timezone.Service, e residency.Endpoint) time.Time {
	if tz != nil {
		if t, err := tz.ToUTC(e.Time, e.Timezone, e.HasOffset); err == nil {
			return t
		}
	}
	if e.HasOffset {
		return e.Time.UTC()
	}
	t := e.Time
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// =============================================================================
// FORECASTER
// =============================================================================

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithClock sets the clock used for the current window.
func WithClock(now func() time.Time) Option {
	return func(f *Forecaster) {
		if now != nil {
			f.now = now
		}
	}
}

// WithRegistry makes tallies use the registry's canonical country names, so
// that "UK" and "United Kingdom" stays land on one key.
func WithRegistry(reg *residency.Registry) Option {
	return func(f *Forecaster) { f.registry = reg }
}

// WithMetrics sets the metrics sink for searches.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forecaster) { f.metrics = m }
}

// Forecaster computes window tallies. It is stateless apart from its clock.
type Forecaster struct {
	now      func() time.Time
	registry *residency.Registry
	metrics  *metrics.Metrics
}

func New(opts ...Option) *Forecaster {
	f := &Forecaster{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Contribution is what one stay added to the forecast window.
type Contribution struct {
	Stay         Stay           `json:"stay"`
	Hypothetical bool           `json:"hypothetical"`
	WholeDays    int            `json:"whole_days"`
	Exact        generic.Amount `json:"-"`
}

// Result holds both tallies and the windows they were computed over.
type Result struct {
	Current        generic.Tally
	Forecast       generic.Tally
	CurrentWindow  generic.Window
	ForecastWindow generic.Window
	Contributions  []Contribution
}

// Today returns the forecaster's current date (00:00 UTC).
func (f *Forecaster) Today() generic.Date {
	return generic.DateOf(f.now().UTC())
}

// Forecast returns the current-window tally of existing stays and the
// forecast-window tally of existing plus hypothetical stays.
func (f *Forecaster) Forecast(existing, hypothetical []Stay) Result {
	today := f.Today().Time

	end := today
	for i, h := range hypothetical {
		if i == 0 || h.Departure.After(end) {
			end = h.Departure
		}
	}

	res := Result{
		Current:        generic.Tally{},
		Forecast:       generic.Tally{},
		CurrentWindow:  generic.RollingWindow(today, WindowDays),
		ForecastWindow: generic.RollingWindow(end, WindowDays),
	}

	for _, s := range existing {
		f.tally(res.Current, s, res.CurrentWindow)
	}
	add := func(s Stay, hypo bool) {
		if c, ok := f.tally(res.Forecast, s, res.ForecastWindow); ok {
			c.Hypothetical = hypo
			res.Contributions = append(res.Contributions, c)
		}
	}
	for _, s := range existing {
		add(s, false)
	}
	for _, s := range hypothetical {
		add(s, true)
	}
	return res
}

// Days returns the forecast-window days for country when the hypothetical
// stays are added.
func (f *Forecaster) Days(existing, hypothetical []Stay, country string) int {
	return f.Forecast(existing, hypothetical).Forecast.Get(f.canonical(country))
}

func (f *Forecaster) tally(t generic.Tally, s Stay, w generic.Window) (Contribution, bool) {
	overlap := s.Window().Overlap(w)
	if overlap <= 0 {
		return Contribution{}, false
	}
	exact := generic.DaysFromDuration(overlap)
	whole := exact.Floor()
	t.Add(f.canonical(s.Country), whole)
	return Contribution{Stay: s, WholeDays: whole, Exact: exact}, true
}

func (f *Forecaster) canonical(country string) string {
	if f.registry == nil {
		return country
	}
	return f.registry.Canonical(country)
}
