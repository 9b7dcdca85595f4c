package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextOnceFutureToday(t *testing.T) {
	now := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)
	s := Schedule{Frequency: Once, Hour: 14, Minute: 30}
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 7, 14, 30, 0, 0, time.UTC), next)
}

func TestNextOncePastRollsToTomorrow(t *testing.T) {
	now := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)
	s := Schedule{Frequency: Once, Hour: 8, Minute: 0}
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC), next)
}

// A daily schedule at 02:30 evaluated at 03:00 fires tomorrow at 02:30;
// after firing completes at 02:31, the next fire is the day after at
// 02:30.
func TestNextDailyRollsForwardAfterFiring(t *testing.T) {
	s := Schedule{Frequency: Daily, Hour: 2, Minute: 30}

	now := time.Date(2026, 1, 7, 3, 0, 0, 0, time.UTC)
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 8, 2, 30, 0, 0, time.UTC), next)

	firedAt := time.Date(2026, 1, 8, 2, 31, 0, 0, time.UTC)
	next2, err := NextFire(s, firedAt)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 9, 2, 30, 0, 0, time.UTC), next2)
}

func TestNextHourlyWrapsToNextDay(t *testing.T) {
	s := Schedule{Frequency: Hourly, HourInterval: 6, Minute: 15}
	now := time.Date(2026, 1, 7, 23, 30, 0, 0, time.UTC)
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 8, 0, 15, 0, 0, time.UTC), next)
}

func TestNextHourlyWithinDay(t *testing.T) {
	s := Schedule{Frequency: Hourly, HourInterval: 4, Minute: 0}
	now := time.Date(2026, 1, 7, 9, 30, 0, 0, time.UTC)
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC), next)
}

func TestNextWeeklyOnOrAfterNow(t *testing.T) {
	// Wednesday 2026-01-07.
	now := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC)
	s := Schedule{Frequency: Weekly, DaysOfWeek: []time.Weekday{time.Friday}, Hour: 10, Minute: 0}
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC), next)
}

func TestNextCustomScansUpToEightDays(t *testing.T) {
	now := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC) // Wednesday
	s := Schedule{Frequency: Custom, DaysOfWeek: []time.Weekday{time.Monday, time.Thursday}, Hour: 8, Minute: 0}
	next, err := NextFire(s, now)
	require.NoError(t, err)
	// Thursday 2026-01-08 08:00 is the first qualifying day/time.
	assert.Equal(t, time.Date(2026, 1, 8, 8, 0, 0, 0, time.UTC), next)
}

func TestNextCustomSkipsPastTimeOnQualifyingDay(t *testing.T) {
	now := time.Date(2026, 1, 7, 9, 0, 0, 0, time.UTC) // Wednesday, past 08:00
	s := Schedule{Frequency: Custom, DaysOfWeek: []time.Weekday{time.Wednesday}, Hour: 8, Minute: 0}
	next, err := NextFire(s, now)
	require.NoError(t, err)
	// Today's 08:00 already passed; next Wednesday.
	assert.Equal(t, time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC), next)
}

func TestNextMonthlyClampsToTwentyEight(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	s := Schedule{Frequency: Monthly, DayOfMonth: 31, Hour: 10, Minute: 0}
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC), next)
}

func TestNextMonthlyWrapsDecemberToJanuary(t *testing.T) {
	now := time.Date(2026, 12, 20, 9, 0, 0, 0, time.UTC)
	s := Schedule{Frequency: Monthly, DayOfMonth: 5, Hour: 10, Minute: 0}
	next, err := NextFire(s, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 1, 5, 10, 0, 0, 0, time.UTC), next)
}

func TestNextFireMonotonicityInvariant(t *testing.T) {
	schedules := []Schedule{
		{Frequency: Daily, Hour: 2, Minute: 30},
		{Frequency: Hourly, HourInterval: 3, Minute: 0},
		{Frequency: Weekly, DaysOfWeek: []time.Weekday{time.Monday}, Hour: 9, Minute: 0},
		{Frequency: Monthly, DayOfMonth: 15, Hour: 9, Minute: 0},
	}
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	for _, s := range schedules {
		next, err := NextFire(s, now)
		require.NoError(t, err)
		assert.True(t, next.After(now), "next fire %v must be after %v for frequency %s", next, now, s.Frequency)
	}
}
