package timezone_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/residency-engine/generic"
	"github.com/warp/residency-engine/timezone"
)

func TestToUTC_WallClockReadInZone(t *testing.T) {
	tz := timezone.NewIANA()

	// 23:00 PST on Dec 23 is 07:00 UTC on Dec 24
	wall := time.Date(2024, time.December, 23, 23, 0, 0, 0, time.UTC)
	got, err := tz.ToUTC(wall, "America/Vancouver", false)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.December, 24, 7, 0, 0, 0, time.UTC), got)
}

func TestToUTC_OffsetTimestampIgnoresZone(t *testing.T) {
	tz := timezone.NewIANA()

	instant := time.Date(2024, time.June, 7, 23, 50, 0, 0, time.FixedZone("EDT", -4*3600))
	got, err := tz.ToUTC(instant, "Not/AZone", true)

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.June, 8, 3, 50, 0, 0, time.UTC), got)
}

func TestLocalDate_AcrossDateLine(t *testing.T) {
	tz := timezone.NewIANA()
	instant := time.Date(2024, time.December, 24, 22, 0, 0, 0, time.UTC)

	sydney, err := tz.LocalDate(instant, "Australia/Sydney")
	require.NoError(t, err)
	vancouver, err := tz.LocalDate(instant, "America/Vancouver")
	require.NoError(t, err)

	assert.Equal(t, generic.NewDate(2024, time.December, 25), sydney)
	assert.Equal(t, generic.NewDate(2024, time.December, 24), vancouver)
}

func TestMidnightUTC(t *testing.T) {
	tz := timezone.NewIANA()

	got, err := tz.MidnightUTC(generic.NewDate(2024, time.December, 25), "Australia/Sydney")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.December, 24, 13, 0, 0, 0, time.UTC), got)
}

func TestMidnightUTC_SkippedByDST(t *testing.T) {
	// GIVEN: Chile moves clocks from 00:00 to 01:00 on 2024-09-08
	// WHEN: Asking for that midnight
	// THEN: The projection is reported as nonexistent instead of shifted
	tz := timezone.NewIANA()

	_, err := tz.MidnightUTC(generic.NewDate(2024, time.September, 8), "America/Santiago")

	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrNonexistentLocalTime)
	var lte *timezone.LocalTimeError
	assert.ErrorAs(t, err, &lte)
}

func TestDayBounds_ShortDSTDay(t *testing.T) {
	tz := timezone.NewIANA()

	w, err := tz.DayBounds(generic.NewDate(2024, time.March, 10), "America/New_York")

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 10, 5, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, time.March, 11, 4, 0, 0, 0, time.UTC), w.End)
	assert.Equal(t, 23*time.Hour, w.End.Sub(w.Start))
}

func TestUnknownZone_ErrorIsCachedAndTyped(t *testing.T) {
	tz := timezone.NewIANA()

	_, err1 := tz.Location("Mars/Olympus_Mons")
	_, err2 := tz.Location("Mars/Olympus_Mons")

	require.Error(t, err1)
	assert.ErrorIs(t, err1, generic.ErrUnknownTimezone)
	assert.Same(t, err1, err2, "misses should be cached")

	var ze *timezone.ZoneError
	require.ErrorAs(t, err1, &ze)
	assert.Equal(t, "Mars/Olympus_Mons", ze.Zone)
}

func TestEmptyZone_IsNotUTC(t *testing.T) {
	tz := timezone.NewIANA()

	_, err := tz.MidnightUTC(generic.NewDate(2024, time.January, 1), "")

	assert.ErrorIs(t, err, generic.ErrUnknownTimezone)
}
