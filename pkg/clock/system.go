package clock

import (
	"fmt"
	"time"
)

// SystemClock is the production Clock, backed by time.Now. The monotonic
// reading is derived from time.Now's monotonic component measured against a
// fixed process-start reference, so it is immune to wall-clock adjustments.
type SystemClock struct {
	start time.Time
}

// NewSystemClock constructs a SystemClock and verifies the host provides a
// usable monotonic clock. A non-monotonic host is a configuration fault and
// is fatal at startup.
func NewSystemClock() (*SystemClock, error) {
	c := &SystemClock{start: time.Now()}
	first := c.MonotonicNS()
	second := c.MonotonicNS()
	if second < first {
		return nil, fmt.Errorf("clock: monotonic source is not non-decreasing (%d then %d)", first, second)
	}
	return c, nil
}

func (c *SystemClock) NowUTCMs() int64 {
	return time.Now().UTC().UnixMilli()
}

func (c *SystemClock) MonotonicNS() int64 {
	return time.Since(c.start).Nanoseconds()
}

func (c *SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (c *SystemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{t: time.NewTimer(d)}
}

func (c *SystemClock) Sleep(d time.Duration) {
	time.Sleep(d)
}

type systemTimer struct {
	t *time.Timer
}

func (s *systemTimer) C() <-chan time.Time        { return s.t.C }
func (s *systemTimer) Stop() bool                 { return s.t.Stop() }
func (s *systemTimer) Reset(d time.Duration) bool { return s.t.Reset(d) }
