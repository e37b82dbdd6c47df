/*
Package residency turns a traveller's flight legs into a day-by-day presence
ledger and counts residency days per country under each country's rule.

PURPOSE:
  Tax residency tests count "days of presence", and countries disagree on
  what a day of presence is. Canada, the UK, Australia and New Zealand count
  where you were at local midnight; the United States counts any part of a
  day. This package records both facts for every date, then lets the counter
  apply the right rule per country.

KEY CONCEPTS IN THIS FILE (leg.go):
  - Leg: One flight, departure endpoint to arrival endpoint
  - Endpoint: Country, city, IANA zone and the timestamp at that end
  - DailyPresence: What is known about one local date
  - Ledger: Dense, date-sorted sequence of DailyPresence

KEY CONCEPTS ELSEWHERE:
  - rules.go:   Rule, RuleKind, Registry (country -> counting rule)
  - ledger.go:  LedgerBuilder (legs -> Ledger)
  - counter.go: CountDays (Ledger + Registry -> Tally)
  - store.go:   Store interface for persisted legs

EXAMPLE:
  A Vancouver -> Sydney flight leaving 23:00 on Dec 23 and landing 09:00 on
  Dec 25 crosses the date line. The ledger reads:

    2024-12-23  midnight=Canada
    2024-12-24  midnight=IN_TRANSIT
    2024-12-25  midnight=Australia

  Dec 24 counts for nobody under a midnight rule.

SEE ALSO:
  - timezone/service.go: UTC <-> local conversions used by the builder
  - forecast/forecast.go: The rolling-window view of the same trips
*/
package residency

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/warp/residency-engine/generic"
)

// InTransit is the LocationAtMidnight of a date whose midnight fell inside a
// flight between two different countries.
const InTransit = "IN_TRANSIT"

// LegID identifies a leg.
type LegID string

// SubjectID identifies the traveller whose legs are recorded.
type SubjectID string

// =============================================================================
// LEG
// =============================================================================

// Endpoint is one end of a leg.
//
// Time is a wall-clock reading in Timezone unless HasOffset is true, in which
// case it is already an absolute instant and Timezone is only used to find
// the local date.
type Endpoint struct {
	Country   string    `json:"country"`
	City      string    `json:"city"`
	Airport   string    `json:"airport,omitempty"`
	Timezone  string    `json:"timezone"`
	Time      time.Time `json:"time"`
	HasOffset bool      `json:"has_offset,omitempty"`
}

// Leg is a single flight. Legs are values; nothing in this package mutates
// the legs it is given.
type Leg struct {
	ID        LegID     `json:"id"`
	Subject   SubjectID `json:"subject,omitempty"`
	Departure Endpoint  `json:"departure"`
	Arrival   Endpoint  `json:"arrival"`
	Carrier   string    `json:"carrier,omitempty"`
}

// SameCountry reports whether both endpoints are in the same country.
// Such legs never produce IN_TRANSIT records.
func (l Leg) SameCountry() bool {
	return strings.EqualFold(l.Departure.Country, l.Arrival.Country)
}

// Validate checks required fields and that arrival does not precede
// departure. The builder never calls it; it is for callers accepting legs
// from outside.
func (l Leg) Validate() error {
	var problems []string

	check := func(name string, e Endpoint) {
		if strings.TrimSpace(e.Country) == "" {
			problems = append(problems, name+" country is required")
		}
		if strings.TrimSpace(e.Timezone) == "" && !e.HasOffset {
			problems = append(problems, name+" timezone is required")
		}
		if e.Time.IsZero() {
			problems = append(problems, name+" time is required")
		}
	}
	check("departure", l.Departure)
	check("arrival", l.Arrival)

	if len(problems) == 0 {
		if dep, arr, ok := l.roughUTC(); ok && arr.Before(dep) {
			problems = append(problems, "arrival precedes departure")
		}
	}

	if len(problems) > 0 {
		return &generic.LegValidationError{LegID: string(l.ID), Problems: problems}
	}
	return nil
}

// roughUTC resolves both ends with the system tz database for validation.
// The builder uses the injected timezone.Service instead.
func (l Leg) roughUTC() (time.Time, time.Time, bool) {
	resolve := func(e Endpoint) (time.Time, bool) {
		if e.HasOffset {
			return e.Time.UTC(), true
		}
		loc, err := time.LoadLocation(e.Timezone)
		if err != nil || e.Timezone == "" {
			return time.Time{}, false
		}
		t := e.Time
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc).UTC(), true
	}
	dep, ok1 := resolve(l.Departure)
	arr, ok2 := resolve(l.Arrival)
	return dep, arr, ok1 && ok2
}

func (l Leg) String() string {
	return fmt.Sprintf("%s %s(%s) -> %s(%s)", l.ID,
		l.Departure.City, l.Departure.Country, l.Arrival.City, l.Arrival.Country)
}

// =============================================================================
// DAILY PRESENCE & LEDGER
// =============================================================================

// DailyPresence is everything the ledger knows about one local date.
//
// An empty LocationAtMidnight with InTransitAtMidnight false means the date
// lies inside the ledger's span but no leg determined it.
type DailyPresence struct {
	Date                generic.Date `json:"date"`
	LocationAtMidnight  string       `json:"location_at_midnight"`
	InTransitAtMidnight bool         `json:"in_transit_at_midnight"`
	LocationsDuringDay  []string     `json:"locations_during_day"`
}

// IsTransit reports whether the subject was airborne between countries at midnight.
func (p DailyPresence) IsTransit() bool {
	return p.InTransitAtMidnight || p.LocationAtMidnight == InTransit
}

// IsUndetermined reports whether no leg said anything about midnight.
func (p DailyPresence) IsUndetermined() bool {
	return p.LocationAtMidnight == "" && !p.InTransitAtMidnight
}

// Ledger is sorted ascending by date with exactly one record per date from
// the first to the last recorded date.
type Ledger []DailyPresence

// Find returns the record for date.
func (l Ledger) Find(date generic.Date) (DailyPresence, bool) {
	i := sort.Search(len(l), func(i int) bool { return !l[i].Date.Before(date) })
	if i < len(l) && l[i].Date.Equal(date) {
		return l[i], true
	}
	return DailyPresence{}, false
}

// Between returns the records inside period (inclusive).
func (l Ledger) Between(period generic.Period) Ledger {
	lo := sort.Search(len(l), func(i int) bool { return !l[i].Date.Before(period.Start) })
	hi := sort.Search(len(l), func(i int) bool { return l[i].Date.After(period.End) })
	if lo >= hi {
		return Ledger{}
	}
	return l[lo:hi]
}

// Span returns the first and last dates of the ledger.
func (l Ledger) Span() (generic.Period, bool) {
	if len(l) == 0 {
		return generic.Period{}, false
	}
	return generic.Period{Start: l[0].Date, End: l[len(l)-1].Date}, true
}
