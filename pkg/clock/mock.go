package clock

import (
	"time"

	"github.com/benbjohnson/clock"
)

// MockClock is the deterministic variant used by pkg/schedule, pkg/horizon,
// pkg/orchestrator, and pkg/playout test suites to drive fence transitions
// and horizon extension without real sleeps. It wraps benbjohnson/clock's
// mock and adds the AdvanceMs/Set helpers this codebase's tests actually
// want.
type MockClock struct {
	mock  *clock.Mock
	start time.Time
}

// NewMockClock creates a MockClock set to the given UTC milliseconds.
func NewMockClock(startUTCMs int64) *MockClock {
	m := clock.NewMock()
	start := time.UnixMilli(startUTCMs).UTC()
	m.Set(start)
	return &MockClock{mock: m, start: start}
}

// AdvanceMs moves the clock forward by n milliseconds, firing any timers and
// After channels whose deadline has passed.
func (m *MockClock) AdvanceMs(n int64) {
	m.mock.Add(time.Duration(n) * time.Millisecond)
}

// Set moves the clock to an absolute UTC instant. It must not move
// backwards; callers that need to rewind should construct a fresh MockClock.
func (m *MockClock) Set(utcMs int64) {
	m.mock.Set(time.UnixMilli(utcMs).UTC())
}

func (m *MockClock) NowUTCMs() int64 {
	return m.mock.Now().UTC().UnixMilli()
}

func (m *MockClock) MonotonicNS() int64 {
	return m.mock.Now().Sub(m.start).Nanoseconds()
}

func (m *MockClock) After(d time.Duration) <-chan time.Time {
	return m.mock.After(d)
}

func (m *MockClock) NewTimer(d time.Duration) Timer {
	return &mockTimer{t: m.mock.Timer(d)}
}

func (m *MockClock) Sleep(d time.Duration) {
	m.mock.Sleep(d)
}

type mockTimer struct {
	t *clock.Timer
}

func (t *mockTimer) C() <-chan time.Time        { return t.t.C }
func (t *mockTimer) Stop() bool                 { return t.t.Stop() }
func (t *mockTimer) Reset(d time.Duration) bool { return t.t.Reset(d) }
