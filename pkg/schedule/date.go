package schedule

import "time"

// NewDateKey builds a dateKey from a UTC time.Time, truncating to the civil
// date (the caller is expected to pass the broadcast day's start already
// expressed as a date, not an instant mid-day).
func NewDateKey(t time.Time) dateKey {
	y, m, d := t.UTC().Date()
	return dateKey{Year: y, Month: int(m), Day: d}
}

// Time returns the UTC midnight time.Time for this civil date.
func (d dateKey) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

// CivilWeekday is the default weekdayFn: the weekday of the civil date
// itself, independent of grid DayStartHour (day-of-week filters
// apply to the programming day's date, not the wall-clock instant).
func CivilWeekday(d dateKey) time.Weekday {
	return d.Time().Weekday()
}
