/*
ledger.go - Presence Ledger Builder

PURPOSE:
  Turns a set of legs into a dense, date-sorted Ledger. For every local date
  touched by a leg it records where the subject was at midnight and which
  countries they were in at any point during the day.

ALGORITHM:
  1. Resolve every endpoint to UTC through the timezone service
  2. Order legs by arrival (ties broken deterministically)
  3. For each leg, walk its local dates and classify midnight in the
     departure zone, then the arrival zone:
       midnight <  departure       -> departure country
       midnight >= arrival         -> arrival country
       otherwise                   -> IN_TRANSIT (same-country legs: that country)
     The first classification of a date wins, across zones and legs.
  4. Record the departure/arrival country on the local date it happened
  5. Fill the dates between two legs that share a country
  6. Insert empty records so the ledger has no holes

WHY TWO ZONES?
  A flight across the date line can skip a calendar date in one zone but not
  in the other. Checking both zones lets every date in the range get a
  midnight classification.

FAILURE POLICY:
  Build never fails. An endpoint with an unknown zone is read as UTC (logged
  at WARN, counted in metrics). When neither end of a leg has a usable zone
  the leg is classified on its raw dates instead: departure date to the
  departure country, arrival date to the arrival country, dates strictly
  between IN_TRANSIT. A midnight that does not exist in a zone skips that
  one (zone, date) check.

SEE ALSO:
  - counter.go: Consumes the Ledger
  - timezone/service.go: MidnightUTC, DayBounds
*/
package residency

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/metrics"
	"github.com/warp/residency-engine/timezone"
)

const fallbackZone = "UTC"

// Option configures a LedgerBuilder.
type Option func(*LedgerBuilder)

// WithLogger sets the logger used for data-quality warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *LedgerBuilder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. A nil *metrics.Metrics records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *LedgerBuilder) {
		b.metrics = m
	}
}

// LedgerBuilder builds presence ledgers. It holds no per-build state and is
// safe for concurrent use when its timezone service is.
type LedgerBuilder struct {
	tz      timezone.Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewLedgerBuilder(tz timezone.Service, opts ...Option) *LedgerBuilder {
	b := &LedgerBuilder{
		tz:     tz,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// =============================================================================
// RESOLVED LEG - A leg with both ends pinned to UTC and to a local date
// =============================================================================

type resolvedEnd struct {
	country string
	zone    string // effective zone; fallbackZone when the recorded one was unusable
	utc     time.Time
	date    generic.Date
	naive   bool // zone was unusable; date is the raw wall-clock date
}

type resolvedLeg struct {
	leg   Leg
	order int
	dep   resolvedEnd
	arr   resolvedEnd
}

func (r resolvedLeg) sameCountry() bool { return r.leg.SameCountry() }

// dates returns the local dates the leg touches. When the arrival date
// precedes the departure date (eastbound over the date line) the range is
// widened by a day on each side.
func (r resolvedLeg) dates() []generic.Date {
	lo := generic.MinDate(r.dep.date, r.arr.date)
	hi := generic.MaxDate(r.dep.date, r.arr.date)
	if r.arr.date.Before(r.dep.date) {
		lo, hi = lo.AddDays(-1), hi.AddDays(1)
	}
	return generic.Period{Start: lo, End: hi}.Days()
}

func (b *LedgerBuilder) resolve(leg Leg, order int) resolvedLeg {
	return resolvedLeg{
		leg:   leg,
		order: order,
		dep:   b.resolveEnd(leg, "departure", leg.Departure),
		arr:   b.resolveEnd(leg, "arrival", leg.Arrival),
	}
}

func (b *LedgerBuilder) resolveEnd(leg Leg, side string, e Endpoint) resolvedEnd {
	end := resolvedEnd{country: e.Country, zone: e.Timezone}

	utc, err := b.tz.ToUTC(e.Time, e.Timezone, e.HasOffset)
	if err == nil && e.HasOffset {
		// The instant is known, but the zone still has to work for local dates
		_, err = b.tz.Location(e.Timezone)
	}
	if err != nil {
		b.logger.Warn("unresolvable timezone, reading endpoint as UTC",
			"zone", e.Timezone,
			"leg_id", string(leg.ID),
			"endpoint", side,
			"error", err,
		)
		b.metrics.IncTimezoneFallback()
		end.zone = fallbackZone
		end.naive = true
		if e.HasOffset {
			utc = e.Time.UTC()
		} else {
			t := e.Time
			utc = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
		}
	}
	end.utc = utc

	date, err := b.tz.LocalDate(utc, end.zone)
	if err != nil {
		date = generic.DateOf(utc.UTC())
	}
	if end.naive {
		date = generic.DateOf(e.Time)
	}
	end.date = date
	return end
}

// sortLegs orders legs by arrival, then departure, then identity fields,
// then input order, so that the result does not depend on input order.
func sortLegs(legs []resolvedLeg) {
	sort.SliceStable(legs, func(i, j int) bool {
		a, b := legs[i], legs[j]
		if !a.arr.utc.Equal(b.arr.utc) {
			return a.arr.utc.Before(b.arr.utc)
		}
		if !a.dep.utc.Equal(b.dep.utc) {
			return a.dep.utc.Before(b.dep.utc)
		}
		ka := []string{string(a.leg.ID), a.dep.country, a.arr.country, a.leg.Departure.City, a.leg.Arrival.City, a.dep.zone, a.arr.zone}
		kb := []string{string(b.leg.ID), b.dep.country, b.arr.country, b.leg.Departure.City, b.leg.Arrival.City, b.dep.zone, b.arr.zone}
		for k := range ka {
			if ka[k] != kb[k] {
				return ka[k] < kb[k]
			}
		}
		return a.order < b.order
	})
}

// =============================================================================
// DAY STATE - Mutable per-date accumulator used only inside Build
// =============================================================================

type dayState struct {
	midnight string
	transit  bool
	decided  bool
	during   map[string]string // lower-cased -> first spelling seen
}

type days map[generic.Date]*dayState

func (d days) at(date generic.Date) *dayState {
	s, ok := d[date]
	if !ok {
		s = &dayState{during: make(map[string]string)}
		d[date] = s
	}
	return s
}

func (s *dayState) addDuring(country string) {
	if country == "" || country == InTransit {
		return
	}
	key := strings.ToLower(country)
	if _, ok := s.during[key]; !ok {
		s.during[key] = country
	}
}

// decide sets the midnight location if no earlier check did.
func (s *dayState) decide(location string, transit bool) {
	if s.decided {
		return
	}
	s.decided = true
	s.midnight = location
	s.transit = transit
}

// =============================================================================
// BUILD
// =============================================================================

// Build returns the presence ledger for legs. It never fails and never reads
// the wall clock; equal inputs (in any order) give equal ledgers.
func (b *LedgerBuilder) Build(legs []Leg) Ledger {
	started := time.Now()
	defer func() { b.metrics.ObserveLedgerBuild(time.Since(started)) }()

	if len(legs) == 0 {
		return Ledger{}
	}

	resolved := make([]resolvedLeg, len(legs))
	for i, leg := range legs {
		resolved[i] = b.resolve(leg, i)
	}
	sortLegs(resolved)

	state := make(days)
	for _, r := range resolved {
		b.classifyMidnights(state, r)
		b.recordDuringDay(state, r)
	}
	fillGaps(state, resolved)

	return emit(state)
}

// classifyMidnights checks each date of the leg in the departure zone, then
// in the arrival zone when it differs.
func (b *LedgerBuilder) classifyMidnights(state days, r resolvedLeg) {
	if r.dep.naive && r.arr.naive {
		classifyNaive(state, r)
		return
	}

	zones := []string{r.dep.zone}
	if r.arr.zone != r.dep.zone {
		zones = append(zones, r.arr.zone)
	}

	for _, date := range r.dates() {
		day := state.at(date)
		for _, zone := range zones {
			midnight, err := b.tz.MidnightUTC(date, zone)
			if err != nil {
				if errors.Is(err, generic.ErrNonexistentLocalTime) {
					b.metrics.IncSkippedProjection()
				}
				b.logger.Debug("skipping midnight check",
					"zone", zone,
					"date", date.String(),
					"leg_id", string(r.leg.ID),
					"error", err,
				)
				continue
			}

			switch {
			case midnight.Before(r.dep.utc):
				day.decide(r.dep.country, false)
			case !midnight.Before(r.arr.utc):
				day.decide(r.arr.country, false)
			case r.sameCountry():
				day.decide(r.dep.country, false)
			default:
				day.decide(InTransit, true)
			}
		}
	}
}

// classifyNaive labels a leg with no usable zone from its raw local dates.
func classifyNaive(state days, r resolvedLeg) {
	for _, date := range r.dates() {
		day := state.at(date)
		switch {
		case !date.After(r.dep.date):
			day.decide(r.dep.country, false)
		case !date.Before(r.arr.date):
			day.decide(r.arr.country, false)
		case r.sameCountry():
			day.decide(r.dep.country, false)
		default:
			day.decide(InTransit, true)
		}
	}
}

// recordDuringDay puts each end's country on the local date whose day
// window contains that end's instant.
func (b *LedgerBuilder) recordDuringDay(state days, r resolvedLeg) {
	for _, end := range []resolvedEnd{r.dep, r.arr} {
		date := end.date
		if end.naive {
			state.at(date).addDuring(end.country)
			continue
		}
		if bounds, err := b.tz.DayBounds(end.date, end.zone); err == nil && !bounds.Contains(end.utc) {
			// Only reachable through a service whose LocalDate and DayBounds disagree
			if end.utc.Before(bounds.Start) {
				date = date.AddDays(-1)
			} else {
				date = date.AddDays(1)
			}
		}
		state.at(date).addDuring(end.country)
	}
}

// fillGaps covers the stay between two consecutive legs: arriving in X and
// later departing from X means the subject was in X on the dates in between.
func fillGaps(state days, legs []resolvedLeg) {
	for i := 1; i < len(legs); i++ {
		prev, next := legs[i-1], legs[i]
		if !strings.EqualFold(prev.arr.country, next.dep.country) {
			continue
		}
		country := prev.arr.country
		for d := prev.arr.date.AddDays(1); d.Before(next.dep.date); d = d.AddDays(1) {
			day := state.at(d)
			if day.decided && day.midnight != "" {
				continue
			}
			day.decided = true
			day.midnight = country
			day.transit = false
			day.addDuring(country)
		}
	}
}

// emit densifies the state into a sorted Ledger.
func emit(state days) Ledger {
	if len(state) == 0 {
		return Ledger{}
	}

	first, last := generic.Date{}, generic.Date{}
	for d := range state {
		if first.IsZero() || d.Before(first) {
			first = d
		}
		if last.IsZero() || d.After(last) {
			last = d
		}
	}

	span := generic.Period{Start: first, End: last}
	ledger := make(Ledger, 0, span.Len())
	for _, d := range span.Days() {
		record := DailyPresence{Date: d, LocationsDuringDay: []string{}}
		if s, ok := state[d]; ok {
			record.LocationAtMidnight = s.midnight
			record.InTransitAtMidnight = s.transit
			for _, name := range s.during {
				record.LocationsDuringDay = append(record.LocationsDuringDay, name)
			}
			sort.Strings(record.LocationsDuringDay)
		}
		ledger = append(ledger, record)
	}
	return ledger
}
