// Package scheduler holds declarative backup schedules, computes their
// next-fire times per frequency, and runs the background poll loop that
// dispatches backup sessions as schedules come due.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"backupvault/internal/backup"
)

// Frequency is how often a schedule recurs.
type Frequency string

const (
	Once    Frequency = "once"
	Hourly  Frequency = "hourly"
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Custom  Frequency = "custom"
)

// Schedule is a single declarative backup schedule.
type Schedule struct {
	ID          uuid.UUID
	Name        string
	Source      string
	Destination string
	Mode        backup.Mode
	Frequency   Frequency

	Hour   int
	Minute int

	// HourInterval is used by Hourly: fire at hours that are multiples of
	// this value from midnight.
	HourInterval int

	// DaysOfWeek is used by Weekly and Custom; time.Weekday values
	// (Sunday=0..Saturday=6).
	DaysOfWeek []time.Weekday

	// DayOfMonth is used by Monthly, 1-28; days beyond 28 are clamped to
	// sidestep February.
	DayOfMonth int

	Enabled bool

	NextFire   time.Time
	LastFire   time.Time
	LastResult string

	Compress bool
	Encrypt  bool
	Password string
}

// NewSchedule constructs a Schedule with a fresh identifier.
func NewSchedule(name, source, destination string, mode backup.Mode, freq Frequency) Schedule {
	return Schedule{
		ID:          uuid.New(),
		Name:        name,
		Source:      source,
		Destination: destination,
		Mode:        mode,
		Frequency:   freq,
		Enabled:     true,
	}
}

// NextFire computes the next fire time for s relative to now. It does
// not mutate s.
func NextFire(s Schedule, now time.Time) (time.Time, error) {
	switch s.Frequency {
	case Once:
		return nextOnce(s, now), nil
	case Hourly:
		return nextHourly(s, now), nil
	case Daily:
		return nextDaily(s, now), nil
	case Weekly:
		return nextWeekly(s, now), nil
	case Custom:
		return nextCustom(s, now), nil
	case Monthly:
		return nextMonthly(s, now), nil
	default:
		return time.Time{}, fmt.Errorf("scheduler: unknown frequency %q", s.Frequency)
	}
}

func atTime(day time.Time, hour, minute int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func nextOnce(s Schedule, now time.Time) time.Time {
	candidate := atTime(now, s.Hour, s.Minute)
	if candidate.After(now) {
		return candidate
	}
	return candidate.AddDate(0, 0, 1)
}

// nextHourly fires at (*, minute) on every hour that is a multiple of
// HourInterval from midnight, wrapping to the next day past hour 23.
func nextHourly(s Schedule, now time.Time) time.Time {
	interval := s.HourInterval
	if interval <= 0 {
		interval = 1
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for h := 0; h < 24; h += interval {
		candidate := atTime(day, h, s.Minute)
		if candidate.After(now) {
			return candidate
		}
	}
	// Nothing left today: first qualifying hour tomorrow.
	tomorrow := day.AddDate(0, 0, 1)
	return atTime(tomorrow, 0, s.Minute)
}

func nextDaily(s Schedule, now time.Time) time.Time {
	candidate := atTime(now, s.Hour, s.Minute)
	if candidate.After(now) {
		return candidate
	}
	return candidate.AddDate(0, 0, 1)
}

// nextWeekly fires on the first configured weekday on or after now whose
// (hour, minute) is still in the future on that day.
func nextWeekly(s Schedule, now time.Time) time.Time {
	if len(s.DaysOfWeek) == 0 {
		return nextDaily(s, now)
	}
	target := s.DaysOfWeek[0]
	for offset := 0; offset < 8; offset++ {
		day := now.AddDate(0, 0, offset)
		if day.Weekday() != target {
			continue
		}
		candidate := atTime(day, s.Hour, s.Minute)
		if candidate.After(now) {
			return candidate
		}
	}
	// Unreachable: the target weekday recurs within any 7-day window.
	return atTime(now.AddDate(0, 0, 7), s.Hour, s.Minute)
}

// nextCustom scans the next 8 days for the first day whose weekday is in
// DaysOfWeek and whose (hour, minute) is strictly in the future. If none
// of the 8 scanned days match, it falls back to the lowest-numbered
// configured weekday in the following week, regardless of slice order.
func nextCustom(s Schedule, now time.Time) time.Time {
	if len(s.DaysOfWeek) == 0 {
		return nextDaily(s, now)
	}
	allowed := make(map[time.Weekday]bool, len(s.DaysOfWeek))
	for _, d := range s.DaysOfWeek {
		allowed[d] = true
	}

	for offset := 0; offset < 8; offset++ {
		day := now.AddDate(0, 0, offset)
		if !allowed[day.Weekday()] {
			continue
		}
		candidate := atTime(day, s.Hour, s.Minute)
		if candidate.After(now) {
			return candidate
		}
	}

	first := s.DaysOfWeek[0]
	for _, d := range s.DaysOfWeek[1:] {
		if d < first {
			first = d
		}
	}
	for offset := 8; offset < 15; offset++ {
		day := now.AddDate(0, 0, offset)
		if day.Weekday() == first {
			return atTime(day, s.Hour, s.Minute)
		}
	}
	// Unreachable: a 7-day window always contains every weekday once.
	return atTime(now.AddDate(0, 0, 14), s.Hour, s.Minute)
}

// nextMonthly fires on min(DayOfMonth, 28) this month if still in the
// future, else the same day next month (wrapping December to January).
func nextMonthly(s Schedule, now time.Time) time.Time {
	day := s.DayOfMonth
	if day <= 0 {
		day = 1
	}
	if day > 28 {
		day = 28
	}

	candidate := time.Date(now.Year(), now.Month(), day, s.Hour, s.Minute, 0, 0, now.Location())
	if candidate.After(now) {
		return candidate
	}
	return time.Date(now.Year(), now.Month()+1, day, s.Hour, s.Minute, 0, 0, now.Location())
}
