package generic

import "time"

// =============================================================================
// PERIOD - Inclusive range of calendar dates
// =============================================================================

// Period is an inclusive date range [Start, End].
// Counting filters ("days in the UK between Apr 6 and Apr 5") use Periods.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the date is within the period [Start, End]
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Days returns all days in the period.
func (p Period) Days() []Date {
	var days []Date
	for current := p.Start; current.BeforeOrEqual(p.End); current = current.AddDays(1) {
		days = append(days, current)
	}
	return days
}

// Len returns the number of days in the period, 0 when malformed.
func (p Period) Len() int {
	if p.End.Before(p.Start) {
		return 0
	}
	return DaysBetween(p.Start, p.End) + 1
}

// Validate returns ErrInvalidPeriod when End is before Start.
func (p Period) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// WINDOW - Half-open interval of instants
// =============================================================================

// Window is a half-open interval of instants [Start, End).
// Day boundaries in a timezone and rolling forecast windows are Windows.
type Window struct {
	Start time.Time
	End   time.Time
}

// Day is the length the forecaster divides overlaps by. Rolling windows are
// measured in fixed 24h days, not calendar days.
const Day = 24 * time.Hour

// RollingWindow returns [end - days*24h, end).
func RollingWindow(end time.Time, days int) Window {
	return Window{Start: end.Add(-time.Duration(days) * Day), End: end}
}

// Contains reports whether t is in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsEmpty reports whether the window has no length.
func (w Window) IsEmpty() bool {
	return !w.End.After(w.Start)
}

// Overlap returns the length of the intersection of two windows (0 if disjoint).
func (w Window) Overlap(other Window) time.Duration {
	start := w.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := w.End
	if other.End.Before(end) {
		end = other.End
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}
