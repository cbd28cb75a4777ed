// Package grid implements broadcast-day and grid-boundary arithmetic over
// integer millisecond timestamps. It is pure: no clock, no I/O.
package grid

import "fmt"

// Spec is a channel's grid configuration.
type Spec struct {
	// BlockMinutes is grid_block_minutes, typically 30.
	BlockMinutes int
	// StartOffsets are the allowed start-minute offsets within an hour,
	// e.g. []int{0, 30} for a half-hour grid.
	StartOffsets []int
	// DayStartHour is programming_day_start_hour (default 6).
	DayStartHour int
}

// DefaultSpec is the half-hour grid on a 06:00 broadcast day.
var DefaultSpec = Spec{
	BlockMinutes: 30,
	StartOffsets: []int{0, 30},
	DayStartHour: 6,
}

// Validate rejects a grid configuration that cannot produce any aligned
// boundary; such a configuration is fatal at startup.
func (s Spec) Validate() error {
	if s.BlockMinutes <= 0 {
		return fmt.Errorf("grid: block_minutes must be positive, got %d", s.BlockMinutes)
	}
	if len(s.StartOffsets) == 0 {
		return fmt.Errorf("grid: at least one start offset is required")
	}
	for _, off := range s.StartOffsets {
		if off < 0 || off >= 60 {
			return fmt.Errorf("grid: start offset %d out of range [0,60)", off)
		}
	}
	if s.DayStartHour < 0 || s.DayStartHour > 23 {
		return fmt.Errorf("grid: day_start_hour %d out of range [0,23]", s.DayStartHour)
	}
	return nil
}

// IsAligned reports whether utcMs falls on a grid boundary: its minute-of-
// hour is one of the allowed start offsets. The broadcast-day origin only
// shifts which instant is minute 0 of day 0; it does not change which
// minutes-of-hour are legal, so alignment is a pure function of the minute
// value, independent of DayStartHour.
func IsAligned(utcMs int64, s Spec) bool {
	if utcMs%60000 != 0 {
		return false
	}
	minuteOfHour := (utcMs / 60000) % 60
	for _, off := range s.StartOffsets {
		if int64(off) == minuteOfHour {
			return true
		}
	}
	return false
}

// BroadcastDayStartMs returns the UTC-ms instant of the start of the
// broadcast day containing utcMs.
func BroadcastDayStartMs(utcMs int64, s Spec) int64 {
	const dayMs = 24 * 3600 * 1000
	const hourMs = 3600 * 1000
	originOffset := int64(s.DayStartHour) * hourMs
	shifted := utcMs - originOffset
	dayIndex := floorDiv(shifted, dayMs)
	return dayIndex*dayMs + originOffset
}

// BlockMs returns the grid's block length in milliseconds.
func (s Spec) BlockMs() int64 {
	return int64(s.BlockMinutes) * 60000
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
