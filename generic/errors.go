/*
errors.go - Centralized error types for the residency engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Timezone errors - Unknown zone ids, local times that do not exist
  2. Input errors - Malformed periods or legs (caller's responsibility)
  3. Store errors - Missing subjects/legs, cache misses

RECOVERY:
  The ledger builder never returns timezone errors. It branches on them
  (fallback to UTC, skip one projection) and keeps going. These errors only
  surface from the timezone service itself and from the outer layers.

USAGE:
  if errors.Is(err, generic.ErrUnknownTimezone) {
      // fall back to UTC for this endpoint
  }

SEE ALSO:
  - timezone/service.go: Returns ErrUnknownTimezone / ErrNonexistentLocalTime
  - residency/leg.go: Returns LegValidationError
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownTimezone is returned when an IANA zone id cannot be loaded.
	ErrUnknownTimezone = errors.New("unknown timezone")

	// ErrNonexistentLocalTime is returned when a local wall time does not exist
	// in a zone (for example 00:00 on a day DST starts at midnight).
	ErrNonexistentLocalTime = errors.New("local time does not exist")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidLeg is returned when a leg is missing required fields.
	ErrInvalidLeg = errors.New("invalid leg")

	// ErrLegNotFound is returned when a referenced leg doesn't exist.
	ErrLegNotFound = errors.New("leg not found")

	// ErrSubjectNotFound is returned when a subject has no recorded legs.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrInvalidRule is returned when a rule definition cannot be parsed.
	ErrInvalidRule = errors.New("invalid residency rule")

	// ErrCacheMiss is returned by caches when a key is absent or expired.
	ErrCacheMiss = errors.New("cache miss")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LegValidationError lists the problems found in one leg.
type LegValidationError struct {
	LegID    string
	Problems []string
}

func (e *LegValidationError) Error() string {
	return fmt.Sprintf("invalid leg %s: %s", e.LegID, strings.Join(e.Problems, "; "))
}

func (e *LegValidationError) Unwrap() error {
	return ErrInvalidLeg
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidLeg) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrUnknownTimezone)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLegNotFound) ||
		errors.Is(err, ErrSubjectNotFound)
}
