package residency

import (
	"github.com/warp/residency-engine/generic"
)

// =============================================================================
// COUNTER - Ledger + Registry -> days per country
// =============================================================================

// transitExceptionApplied is false: rules carry HasTransitException, but no
// date is excluded for it. A subject who lands in the US and leaves on the
// same day still has that day counted.
const transitExceptionApplied = false

// CountDays tallies the ledger under each country's rule. When period is
// non-nil only dates inside it (inclusive) are counted.
//
// Per date:
//   - the midnight country counts if its rule is MidnightRule and the date
//     is not a transit date
//   - every during-day country whose rule is PartialDayRule counts once
//
// IN_TRANSIT is never a key of the result.
func CountDays(ledger Ledger, registry *Registry, period *generic.Period) generic.Tally {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if period != nil {
		ledger = ledger.Between(*period)
	}

	tally := generic.Tally{}
	for _, day := range ledger {
		counted := map[string]bool{}

		if !day.IsTransit() && day.LocationAtMidnight != "" {
			rule := registry.RuleFor(day.LocationAtMidnight)
			if rule.Kind == MidnightRule {
				counted[normalize(rule.Country)] = true
				tally.Add(rule.Country, 1)
			}
		}

		for _, country := range day.LocationsDuringDay {
			if country == InTransit {
				continue
			}
			rule := registry.RuleFor(country)
			if rule.Kind != PartialDayRule || counted[normalize(rule.Country)] {
				continue
			}
			counted[normalize(rule.Country)] = true
			tally.Add(rule.Country, 1)
		}
	}
	return tally
}

// CountForCountry returns the days counted for one country, 0 if none.
func CountForCountry(country string, ledger Ledger, registry *Registry, period *generic.Period) int {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return CountDays(ledger, registry, period).Get(registry.Canonical(country))
}

// =============================================================================
// THRESHOLD STATUS
// =============================================================================

// ThresholdStatus reports a tally entry against its country's threshold.
// Choosing what to tell the user is left to the caller.
type ThresholdStatus struct {
	Country             string   `json:"country"`
	Days                int      `json:"days"`
	ThresholdDays       int      `json:"threshold_days"`
	Kind                RuleKind `json:"kind"`
	Remaining           int      `json:"remaining"`
	Exceeded            bool     `json:"exceeded"`
	HasTransitException bool     `json:"has_transit_exception"`
	TransitApplied      bool     `json:"transit_exception_applied"`
}

// Statuses returns one status per tally entry, sorted by country.
func Statuses(tally generic.Tally, registry *Registry) []ThresholdStatus {
	if registry == nil {
		registry = DefaultRegistry()
	}
	out := make([]ThresholdStatus, 0, len(tally))
	for _, country := range tally.Countries() {
		rule := registry.RuleFor(country)
		days := tally[country]
		remaining := rule.ThresholdDays - days
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, ThresholdStatus{
			Country:             country,
			Days:                days,
			ThresholdDays:       rule.ThresholdDays,
			Kind:                rule.Kind,
			Remaining:           remaining,
			Exceeded:            days > rule.ThresholdDays,
			HasTransitException: rule.HasTransitException,
			TransitApplied:      transitExceptionApplied,
		})
	}
	return out
}
