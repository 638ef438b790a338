package streak

import "time"

// =============================================================================
// DAY - Calendar day in the reference timezone
// =============================================================================

// Day is a calendar day, counted as days since the Unix epoch in the
// system's reference timezone. Streak arithmetic works on whole days,
// never timestamps, so "consecutive" is unambiguous across DST shifts.
type Day int64

const dayLength = 24 * time.Hour

// DayOf converts a timestamp to the calendar day it falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	return Day(midnight.Unix() / int64(dayLength/time.Second))
}

// MakeDay builds a Day from calendar components.
func MakeDay(year int, month time.Month, day int) Day {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return Day(t.Unix() / int64(dayLength/time.Second))
}

func (d Day) Next() Day         { return d + 1 }
func (d Day) AddDays(n int) Day { return d + Day(n) }

// Sub returns the number of days between d and other (d - other).
func (d Day) Sub(other Day) int { return int(d - other) }

// Time returns midnight of the day in UTC.
func (d Day) Time() time.Time {
	return time.Unix(int64(d)*int64(dayLength/time.Second), 0).UTC()
}

func (d Day) String() string { return d.Time().Format("2006-01-02") }
