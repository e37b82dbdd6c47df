package forecast

import (
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/residency"
)

// =============================================================================
// THRESHOLD SEARCH
// =============================================================================

// SearchHorizonDays bounds how far past the trip start the search looks.
const SearchHorizonDays = 365

// DefaultDurations are the trip lengths reported by StandardDurationForecasts
// when the caller does not ask for specific ones.
var DefaultDurations = []int{7, 14, 30, 60, 90, 180}

// SearchResult is the latest permissible end date of a trip.
//
// Days never exceeds the limit. Feasible is false when even a zero-length
// trip exceeds it; EndDate is then the trip start, Days is 0 and OverLimitDays
// holds the count a zero-length trip would reach.
type SearchResult struct {
	EndDate       generic.Date `json:"end_date"`
	Days          int          `json:"days"`
	Feasible      bool         `json:"feasible"`
	OverLimitDays int          `json:"over_limit_days,omitempty"`
	Probes        int          `json:"probes"`
}

// MaxEndDate finds the latest end date in [tripStart, tripStart+365] for a
// trip to country such that the forecast-window days in country stay within
// dayLimit (183 when dayLimit <= 0).
//
// The search relies on the forecast count being non-decreasing in the end
// date. It probes at most 9 offsets.
func (f *Forecaster) MaxEndDate(existing []Stay, country string, tripStart generic.Date, dayLimit int) SearchResult {
	if dayLimit <= 0 {
		dayLimit = residency.DefaultThresholdDays
	}

	probed := map[int]int{}
	probe := func(offset int) int {
		if days, ok := probed[offset]; ok {
			return days
		}
		days := f.Days(existing, []Stay{TripStay(country, tripStart, offset)}, country)
		probed[offset] = days
		return days
	}

	best := -1
	lo, hi := 0, SearchHorizonDays
	for lo <= hi {
		mid := lo + (hi-lo)/2
		if probe(mid) <= dayLimit {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	res := SearchResult{Probes: len(probed)}
	if best < 0 {
		res.EndDate = tripStart
		res.OverLimitDays = probe(0)
		res.Feasible = false
	} else {
		res.EndDate = tripStart.AddDays(best)
		res.Days = probed[best]
		res.Feasible = true
	}
	f.metrics.IncThresholdSearch(res.Feasible)
	return res
}

// =============================================================================
// STANDARD DURATIONS
// =============================================================================

// DurationForecast is the forecast for one fixed trip length.
type DurationForecast struct {
	DurationDays int          `json:"duration_days"`
	EndDate      generic.Date `json:"end_date"`
	Days         int          `json:"days"`
	Exceeds      bool         `json:"exceeds"`
}

// StandardDurationForecasts evaluates the forecaster at tripStart+d for each
// duration d. Nil durations means DefaultDurations.
func (f *Forecaster) StandardDurationForecasts(existing []Stay, country string, tripStart generic.Date, dayLimit int, durations []int) []DurationForecast {
	if dayLimit <= 0 {
		dayLimit = residency.DefaultThresholdDays
	}
	if durations == nil {
		durations = DefaultDurations
	}

	out := make([]DurationForecast, 0, len(durations))
	for _, d := range durations {
		if d < 0 {
			continue
		}
		days := f.Days(existing, []Stay{TripStay(country, tripStart, d)}, country)
		out = append(out, DurationForecast{
			DurationDays: d,
			EndDate:      tripStart.AddDays(d),
			Days:         days,
			Exceeds:      days > dayLimit,
		})
	}
	return out
}
