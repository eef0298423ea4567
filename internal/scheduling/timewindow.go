package scheduling

import (
	"fmt"
	"time"

	"github.com/medrex/scheduling-engine/pkg/types"
)

const minutesPerDay = 24 * 60

// TimeWindow is the startable range around an appointment, in minutes
// before and after its scheduled time. Both ends are inclusive.
type TimeWindow struct {
	Before int
	After  int
}

// DefaultTimeWindow opens 15 minutes early and closes 30 minutes late
var DefaultTimeWindow = TimeWindow{Before: 15, After: 30}

// ParseTimeOfDay converts "H:MM AM" / "HH:MM PM" into minutes since midnight.
// 12:xx AM maps to hour 0 and 12:xx PM stays at hour 12.
func ParseTimeOfDay(s string) (int, error) {
	invalid := func(reason string) error {
		return types.NewValidationError(types.ErrCodeInvalidTimeOfDay,
			fmt.Sprintf("invalid time of day %q: %s", s, reason),
			map[string]interface{}{"time_of_day": s})
	}

	// shortest form is "H:MM AM"
	if len(s) < 7 || len(s) > 8 {
		return 0, invalid("expected H:MM AM or HH:MM PM")
	}

	designator := s[len(s)-2:]
	if s[len(s)-3] != ' ' {
		return 0, invalid("missing space before AM/PM")
	}
	clock := s[:len(s)-3]

	colon := len(clock) - 3
	if colon < 1 || clock[colon] != ':' {
		return 0, invalid("expected H:MM")
	}

	hour, ok := parseDigits(clock[:colon])
	if !ok || hour < 1 || hour > 12 {
		return 0, invalid("hour must be 1-12")
	}
	minute, ok := parseDigits(clock[colon+1:])
	if !ok || minute > 59 {
		return 0, invalid("minute must be 00-59")
	}

	switch designator {
	case "AM":
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour != 12 {
			hour += 12
		}
	default:
		return 0, invalid("designator must be AM or PM")
	}

	return hour*60 + minute, nil
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// FormatTimeOfDay renders minutes since midnight as "HH:MM AM"
func FormatTimeOfDay(minutes int) string {
	minutes = ((minutes % minutesPerDay) + minutesPerDay) % minutesPerDay
	hour, minute := minutes/60, minutes%60

	designator := "AM"
	if hour >= 12 {
		designator = "PM"
	}
	hour %= 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%02d:%02d %s", hour, minute, designator)
}

// NormalizeTimeOfDay validates s and returns its canonical "HH:MM AM" form
func NormalizeTimeOfDay(s string) (string, error) {
	minutes, err := ParseTimeOfDay(s)
	if err != nil {
		return "", err
	}
	return FormatTimeOfDay(minutes), nil
}

// ParseDate validates a YYYY-MM-DD calendar date
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(types.DateLayout, s)
	if err != nil {
		return time.Time{}, types.NewValidationError(types.ErrCodeInvalidDate,
			fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", s),
			map[string]interface{}{"date": s})
	}
	return d, nil
}

// IsStartable reports whether apt may be started at now. now must already be
// expressed in the facility location.
func (w TimeWindow) IsStartable(apt *types.Appointment, now time.Time) (bool, error) {
	if apt.Status != types.StatusScheduled {
		return false, nil
	}

	aptMinutes, err := ParseTimeOfDay(apt.TimeOfDay)
	if err != nil {
		return false, err
	}

	if apt.Date != now.Format(types.DateLayout) {
		return false, nil
	}

	nowMinutes := now.Hour()*60 + now.Minute()
	return nowMinutes >= aptMinutes-w.Before && nowMinutes <= aptMinutes+w.After, nil
}

// IsStartable evaluates apt against the default window
func IsStartable(apt *types.Appointment, now time.Time) (bool, error) {
	return DefaultTimeWindow.IsStartable(apt, now)
}

// DayBucketOf places apt relative to now's calendar day
func DayBucketOf(apt *types.Appointment, now time.Time) types.DayBucket {
	today := now.Format(types.DateLayout)
	switch {
	case apt.Date == today:
		return types.BucketToday
	case apt.Date > today:
		return types.BucketUpcoming
	default:
		return types.BucketPast
	}
}
