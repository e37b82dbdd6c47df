/*
Package generic provides the domain-agnostic primitives of the residency engine.

PURPOSE:
  This package contains the calendar and arithmetic types every other package
  counts with. It knows nothing about travel legs, countries or rules; it only
  knows dates, intervals, and day tallies.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tally: Country name -> whole days counted (absent key means zero)
  - Amount: An exact (fractional) number of days, backed by decimal.Decimal

KEY CONCEPTS ELSEWHERE:
  - time.go:   Date, the naive calendar-day bucket
  - period.go: Period (inclusive dates) and Window (half-open instants)
  - errors.go: Sentinel and structured errors

DESIGN PRINCIPLES:
  1. Dates are naive: a Date never carries a timezone
  2. Windows are half-open: [Start, End)
  3. Tallies never hold zero or negative entries
  4. Exact day amounts use decimal.Decimal, whole-day tallies use int

USAGE:
  tally := generic.Tally{}
  tally.Add("Canada", 3)
  tally.Get("canada") // 3

SEE ALSO:
  - residency/counter.go: Produces tallies from a presence ledger
  - forecast/forecast.go: Produces tallies from rolling windows
*/
package generic

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TALLY - Country name -> counted days
// =============================================================================

// Tally maps a country name to a non-negative day count.
// Keys are present only for countries with at least one counted day;
// callers must treat absence as zero.
type Tally map[string]int

// Add adds n days to country. Names are merged case-insensitively and the
// first spelling seen is kept as the key. Non-positive n is ignored.
func (t Tally) Add(country string, n int) {
	if n <= 0 || country == "" {
		return
	}
	if key, ok := t.key(country); ok {
		t[key] += n
		return
	}
	t[country] = n
}

// Get returns the days counted for country (case-insensitive), 0 if absent.
func (t Tally) Get(country string) int {
	if key, ok := t.key(country); ok {
		return t[key]
	}
	return 0
}

// Countries returns the tally keys in sorted order.
func (t Tally) Countries() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Total returns the sum of all counted days.
func (t Tally) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

func (t Tally) key(country string) (string, bool) {
	if _, ok := t[country]; ok {
		return country, true
	}
	for k := range t {
		if strings.EqualFold(k, country) {
			return k, true
		}
	}
	return "", false
}

// =============================================================================
// AMOUNT - Exact number of days
// =============================================================================

// Amount is an exact quantity of days. Forecast contributions report the
// fractional overlap alongside the whole days that were counted.
type Amount struct {
	Days decimal.Decimal
}

var nanosPerDay = decimal.NewFromInt(int64(24 * time.Hour))

func NewAmount(days float64) Amount    { return Amount{Days: decimal.NewFromFloat(days)} }
func NewAmountFromInt(days int) Amount { return Amount{Days: decimal.NewFromInt(int64(days))} }
func (a Amount) Add(b Amount) Amount   { return Amount{Days: a.Days.Add(b.Days)} }
func (a Amount) IsZero() bool          { return a.Days.IsZero() }
func (a Amount) String() string        { return a.Days.StringFixed(2) }

// DaysFromDuration converts a duration to an exact number of 24h days.
func DaysFromDuration(d time.Duration) Amount {
	return Amount{Days: decimal.NewFromInt(int64(d)).Div(nanosPerDay)}
}

// Floor returns the whole days contained in the amount.
func (a Amount) Floor() int {
	return int(a.Days.Floor().IntPart())
}

// Float64 returns the amount as a float for JSON/display.
func (a Amount) Float64() float64 {
	f, _ := a.Days.Round(4).Float64()
	return f
}
