package timeutil

import "time"

// DayBounds returns the UTC instants bounding the calendar day containing at
// in the given IANA timezone. Unknown or empty timezones fall back to UTC so
// a bad user preference can never break metering.
func DayBounds(tz string, at time.Time) (start, end time.Time) {
	loc := LoadLocation(tz)
	local := at.In(loc)
	start = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end = start.AddDate(0, 0, 1)
	return start.UTC(), end.UTC()
}

// LocalDate returns the YYYY-MM-DD calendar date of at in the given timezone.
// It keys the per-day quota counters.
func LocalDate(tz string, at time.Time) string {
	return at.In(LoadLocation(tz)).Format("2006-01-02")
}

// UntilEndOfDay returns the duration from at to the end of its local calendar
// day, used as the TTL for daily counters.
func UntilEndOfDay(tz string, at time.Time) time.Duration {
	_, end := DayBounds(tz, at)
	return end.Sub(at)
}

// LoadLocation resolves an IANA timezone name, returning UTC when the name is
// empty or unknown.
func LoadLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
