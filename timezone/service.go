/*
Package timezone is the engine's Timezone Service.

PURPOSE:
  Converts between wall-clock times in an IANA zone and UTC instants, and
  exposes the day boundaries the ledger builder classifies against:
  "when, in UTC, did local midnight of this date happen in this zone?" and
  "which UTC instants belong to this local date?".

DST:
  All conversions go through time.Date in the zone's *time.Location, so DST
  transitions are honoured. Two cases need care:
  - A wall time inside a spring-forward gap (e.g. 02:30 on the US DST day)
    does not exist. ToUTC resolves it forward the way time.Date normalises;
    a departure recorded at that time still happened.
  - Local midnight may itself not exist (zones that jump 00:00 -> 01:00).
    MidnightUTC reports ErrNonexistentLocalTime so the caller can skip that
    one projection instead of classifying against a shifted instant.

FAILURES:
  Unknown zone ids return a *ZoneError wrapping generic.ErrUnknownTimezone.
  Misses are cached like hits, so a bad id costs one LoadLocation call.

CONCURRENCY:
  IANA is safe for concurrent use; the location cache is guarded by an RWMutex.

SEE ALSO:
  - residency/ledger.go: The main consumer
  - generic/errors.go: Sentinel errors
*/
package timezone

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // zone data must not depend on the host image

	"github.com/warp/residency-engine/generic"
)

// Service is the timezone dependency of the engine.
type Service interface {
	// Location returns the loaded zone for an IANA id.
	Location(zone string) (*time.Location, error)

	// ToUTC converts an endpoint timestamp to UTC. When hasOffset is true the
	// timestamp is already an absolute instant; otherwise its wall-clock fields
	// are read in zone.
	ToUTC(wall time.Time, zone string, hasOffset bool) (time.Time, error)

	// LocalDate returns the calendar date of an instant in zone.
	LocalDate(instant time.Time, zone string) (generic.Date, error)

	// MidnightUTC returns the UTC instant of local 00:00 on date in zone.
	MidnightUTC(date generic.Date, zone string) (time.Time, error)

	// DayBounds returns the UTC instants belonging to date in zone, [start, end).
	DayBounds(date generic.Date, zone string) (generic.Window, error)
}

// =============================================================================
// ERRORS
// =============================================================================

// ZoneError reports an unloadable zone id.
type ZoneError struct {
	Zone string
	Err  error
}

func (e *ZoneError) Error() string {
	return fmt.Sprintf("timezone %q: %v", e.Zone, e.Err)
}

func (e *ZoneError) Unwrap() error { return generic.ErrUnknownTimezone }

// LocalTimeError reports a local wall time that does not exist in a zone.
type LocalTimeError struct {
	Zone string
	Date generic.Date
}

func (e *LocalTimeError) Error() string {
	return fmt.Sprintf("midnight of %s does not exist in %s", e.Date, e.Zone)
}

func (e *LocalTimeError) Unwrap() error { return generic.ErrNonexistentLocalTime }

// =============================================================================
// IANA - time.LoadLocation-backed implementation
// =============================================================================

// IANA resolves zones from the embedded tz database.
type IANA struct {
	mu    sync.RWMutex
	zones map[string]*time.Location
	bad   map[string]error
}

// Compile-time check
var _ Service = (*IANA)(nil)

func NewIANA() *IANA {
	return &IANA{
		zones: make(map[string]*time.Location),
		bad:   make(map[string]error),
	}
}

// Location loads (and caches) an IANA zone. An empty id is rejected rather
// than silently mapped to UTC the way time.LoadLocation("") would.
func (z *IANA) Location(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)

	z.mu.RLock()
	loc, ok := z.zones[zone]
	err := z.bad[zone]
	z.mu.RUnlock()
	if ok {
		return loc, nil
	}
	if err != nil {
		return nil, err
	}

	if zone == "" {
		err = &ZoneError{Zone: zone, Err: fmt.Errorf("empty zone id")}
	} else if loaded, loadErr := time.LoadLocation(zone); loadErr != nil {
		err = &ZoneError{Zone: zone, Err: loadErr}
	} else {
		loc = loaded
	}

	z.mu.Lock()
	defer z.mu.Unlock()
	if err != nil {
		z.bad[zone] = err
		return nil, err
	}
	z.zones[zone] = loc
	return loc, nil
}

func (z *IANA) ToUTC(wall time.Time, zone string, hasOffset bool) (time.Time, error) {
	if hasOffset {
		return wall.UTC(), nil
	}
	loc, err := z.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	local := time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), loc)
	return local.UTC(), nil
}

func (z *IANA) LocalDate(instant time.Time, zone string) (generic.Date, error) {
	loc, err := z.Location(zone)
	if err != nil {
		return generic.Date{}, err
	}
	return generic.DateOf(instant.In(loc)), nil
}

func (z *IANA) MidnightUTC(date generic.Date, zone string) (time.Time, error) {
	loc, err := z.Location(zone)
	if err != nil {
		return time.Time{}, err
	}
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	if midnight.Hour() != 0 || midnight.Minute() != 0 || midnight.Day() != date.Day() {
		return time.Time{}, &LocalTimeError{Zone: zone, Date: date}
	}
	return midnight.UTC(), nil
}

// DayBounds uses normalised midnights, so a date whose 00:00 was skipped
// still has bounds starting at its first existing instant.
func (z *IANA) DayBounds(date generic.Date, zone string) (generic.Window, error) {
	loc, err := z.Location(zone)
	if err != nil {
		return generic.Window{}, err
	}
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	next := date.AddDays(1)
	end := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, loc)
	return generic.Window{Start: start.UTC(), End: end.UTC()}, nil
}
