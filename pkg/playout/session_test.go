package playout

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrovue/broadcast-core/pkg/clock"
	"github.com/retrovue/broadcast-core/pkg/horizon"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

const testFPS = 10

func testSink() *telemetry.Sink {
	return telemetry.NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// fakeProvider maps a finished block id to its successor.
type fakeProvider struct {
	mu   sync.Mutex
	next map[string]horizon.ExecutionEntry
}

func (p *fakeProvider) FenceTransition(channelID, finishedBlockID string) (horizon.ExecutionEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.next[finishedBlockID]
	return e, ok
}

func (p *fakeProvider) PreloadCandidate(channelID, executingBlockID string) (horizon.ExecutionEntry, bool) {
	return p.FenceTransition(channelID, executingBlockID)
}

func makeEntry(id string, startUtcMs int64, segs ...horizon.Segment) horizon.ExecutionEntry {
	var dur int64
	for i := range segs {
		segs[i].SegmentIndex = i
		dur += segs[i].SegmentDurationMs
	}
	return horizon.ExecutionEntry{
		BlockID:      id,
		ChannelID:    "ch1",
		StartUtcMs:   startUtcMs,
		EndUtcMs:     startUtcMs + dur,
		GenerationID: 1,
		Segments:     segs,
	}
}

func seg(uri string, offsetMs, durMs int64) horizon.Segment {
	return horizon.Segment{AssetURI: uri, AssetStartOffsetMs: offsetMs, SegmentDurationMs: durMs}
}

// newTestSession builds a session wired to synthetic decoders with the
// given asset durations, paced by a mock clock, ticked by hand.
func newTestSession(t *testing.T, durations map[string]int64, provider BlockProvider) (*Session, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(0)
	sink := testSink()
	newSource := func(entry horizon.ExecutionEntry) Source {
		return NewSyntheticSource(entry, testFPS, durations, sink)
	}
	s := New("ch1", Config{FPS: testFPS, RingFrames: 8}, clk, sink, provider, newSource, nopSink{})
	return s, clk
}

type nopSink struct{}

func (nopSink) WriteFrame(f *Frame) error { return nil }
func (nopSink) Close() error              { return nil }

// prime puts the session directly into EXECUTING on the given block,
// bypassing the goroutines so tests control every tick.
func prime(t *testing.T, s *Session, entry horizon.ExecutionEntry, startCtMs int64) {
	t.Helper()
	src := s.newSource(entry)
	require.NoError(t, src.Probe(context.Background()))
	if startCtMs > 0 {
		require.NoError(t, src.Seek(startCtMs))
	}
	s.activeEntry = entry
	s.active = src
	s.frameIndex = startCtMs * int64(s.cfg.FPS) / 1000
	s.epochWallMs = entry.StartUtcMs
	s.st.Store(stExecuting)
}

// drive ticks the session n times, draining the ring after every tick.
func drive(s *Session, n int) []Frame {
	var out []Frame
	var f Frame
	for i := 0; i < n; i++ {
		if !s.tick() {
			break
		}
		for s.ring.Pop(&f) {
			cp := Frame{}
			f.copyInto(&cp)
			out = append(out, cp)
		}
	}
	return out
}

// waitPreload blocks until any in-flight preload probe has settled, so
// fence behavior in tests does not depend on goroutine scheduling.
func waitPreload(s *Session) {
	s.mu.Lock()
	p := s.preload
	s.mu.Unlock()
	if p != nil {
		<-p.done
	}
}

func TestUnderrunPadsToSegmentBoundary(t *testing.T) {
	// Two 30s segments; the second asset runs dry 25s in. The gap from
	// CT 55s to 60s is covered by pad frames at the normal cadence and the
	// block still emits exactly 60s worth of frames.
	entry := makeEntry("b1", 0,
		seg("a.mp4", 0, 30000),
		seg("b.mp4", 0, 30000),
	)
	durations := map[string]int64{"a.mp4": 3_600_000, "b.mp4": 25000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}
	s, _ := newTestSession(t, durations, provider)
	prime(t, s, entry, 0)

	frames := drive(s, 700)
	require.Len(t, frames, 60*testFPS)

	for i, f := range frames {
		ct := int64(i) * 1000 / testFPS
		if ct < 55000 {
			assert.False(t, f.Pad, "frame at ct=%d should be content", ct)
		} else {
			assert.True(t, f.Pad, "frame at ct=%d should be pad", ct)
		}
	}
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, telemetry.LookaheadExhausted, s.TerminalCode())
}

func TestOverrunTruncatedAtSegmentBoundary(t *testing.T) {
	// The second asset has 120s of content; only its first 30s fit the
	// segment. No frame at or past CT 60s exists because the fence ends
	// the session.
	entry := makeEntry("b1", 0,
		seg("a.mp4", 0, 30000),
		seg("b.mp4", 0, 30000),
	)
	durations := map[string]int64{"a.mp4": 3_600_000, "b.mp4": 120000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}
	s, _ := newTestSession(t, durations, provider)
	prime(t, s, entry, 0)

	frames := drive(s, 700)
	require.Len(t, frames, 60*testFPS)
	for _, f := range frames {
		assert.False(t, f.Pad)
	}
	assert.Equal(t, telemetry.LookaheadExhausted, s.TerminalCode())
}

func TestPTSStrictlyMonotoneAcrossBlockFence(t *testing.T) {
	b1 := makeEntry("b1", 0, seg("a.mp4", 0, 10000))
	b2 := makeEntry("b2", 10000, seg("b.mp4", 0, 10000))
	durations := map[string]int64{"a.mp4": 3_600_000, "b.mp4": 3_600_000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{"b1": b2}}
	s, _ := newTestSession(t, durations, provider)
	prime(t, s, b1, 0)

	// Run the first block past the preload trigger, then let the probe
	// settle before crossing the fence.
	frames := drive(s, 60)
	waitPreload(s)
	frames = append(frames, drive(s, 80)...)

	require.Len(t, frames, 140)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].PTS90k, frames[i-1].PTS90k, "pts must rise at frame %d", i)
	}
	// The fence frame and its successor are one frame duration apart.
	assert.Equal(t, int64(100*90000/testFPS), frames[100].PTS90k)
	assert.Equal(t, StateExecuting, s.State())
}

func TestLookaheadExhaustionAtFence(t *testing.T) {
	b1 := makeEntry("b1", 0, seg("a.mp4", 0, 5000))
	durations := map[string]int64{"a.mp4": 3_600_000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}
	s, _ := newTestSession(t, durations, provider)
	prime(t, s, b1, 0)

	frames := drive(s, 200)
	// Exactly the block's frames, not one more: no pad beyond the fence.
	require.Len(t, frames, 5*testFPS)
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, telemetry.LookaheadExhausted, s.TerminalCode())

	// Ticking a terminated session emits nothing.
	assert.False(t, s.tick())
	assert.Zero(t, s.ring.Len())
}

func TestSegmentTransitionSwitchesAssetWithoutCtReset(t *testing.T) {
	entry := makeEntry("b1", 0,
		seg("x.mp4", 0, 3000),
		seg("y.mp4", 15000, 3000),
	)
	durations := map[string]int64{"x.mp4": 3_600_000, "y.mp4": 3_600_000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}
	s, _ := newTestSession(t, durations, provider)
	prime(t, s, entry, 0)

	frames := drive(s, 100)
	require.Len(t, frames, 6*testFPS)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].PTS90k, frames[i-1].PTS90k)
	}
	// Content frames on both sides of the 3s boundary; CT keeps counting.
	assert.False(t, frames[29].Pad)
	assert.False(t, frames[30].Pad)
	assert.Equal(t, int64(3000), frames[30].CtMs)
}

func TestMidBlockStartEmitsFromJoinCt(t *testing.T) {
	entry := makeEntry("b1", 100000,
		seg("x.mp4", 0, 30000),
		seg("y.mp4", 0, 30000),
	)
	durations := map[string]int64{"x.mp4": 3_600_000, "y.mp4": 3_600_000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}
	s, _ := newTestSession(t, durations, provider)
	prime(t, s, entry, 45000)

	frames := drive(s, 10)
	require.NotEmpty(t, frames)
	// First frame's PTS corresponds to CT 45s into the block.
	assert.Equal(t, int64(45000)*90000/1000, frames[0].PTS90k)
	assert.Equal(t, int64(45000), frames[0].CtMs)
	assert.False(t, frames[0].Pad)
}

func TestDriftBeyondToleranceTerminates(t *testing.T) {
	entry := makeEntry("b1", 0, seg("a.mp4", 0, 60000))
	durations := map[string]int64{"a.mp4": 3_600_000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}

	clk := clock.NewMockClock(0)
	sink := testSink()
	newSource := func(e horizon.ExecutionEntry) Source {
		return NewSyntheticSource(e, testFPS, durations, sink)
	}
	s := New("ch1", Config{FPS: testFPS, RingFrames: 8, DriftToleranceMs: 500}, clk, sink, provider, newSource, nopSink{})
	prime(t, s, entry, 0)

	// The wall clock never advances, so session CT runs ahead of wall
	// elapsed until the tolerance trips.
	frames := drive(s, 200)
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, telemetry.DriftExceeded, s.TerminalCode())
	assert.Less(t, len(frames), 200)
}

func TestDeterministicPTSSequence(t *testing.T) {
	run := func() []int64 {
		entry := makeEntry("b1", 0,
			seg("a.mp4", 0, 4000),
			seg("b.mp4", 2000, 4000),
		)
		durations := map[string]int64{"a.mp4": 3_600_000, "b.mp4": 5000}
		provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}
		s, _ := newTestSession(t, durations, provider)
		prime(t, s, entry, 0)
		var pts []int64
		for _, f := range drive(s, 100) {
			pts = append(pts, f.PTS90k)
		}
		return pts
	}
	first := run()
	second := run()
	require.NotEmpty(t, first)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("pts sequences differ across identical runs:\n%s", diff)
	}
}

func TestLatePreloadPadsThenPromotes(t *testing.T) {
	// The successor exists at the fence but its probe has not finished:
	// the engine pads, then adopts the source once the probe lands,
	// seeking it to the CT the pads covered.
	b1 := makeEntry("b1", 0, seg("a.mp4", 0, 2000))
	b2 := makeEntry("b2", 2000, seg("b.mp4", 0, 2000))
	durations := map[string]int64{"a.mp4": 3_600_000, "b.mp4": 3_600_000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{"b1": b2}}

	clk := clock.NewMockClock(0)
	sink := testSink()
	gate := make(chan struct{})
	newSource := func(e horizon.ExecutionEntry) Source {
		src := NewSyntheticSource(e, testFPS, durations, sink)
		if e.BlockID == "b2" {
			return &gatedSource{Source: src, gate: gate}
		}
		return src
	}
	s := New("ch1", Config{FPS: testFPS, RingFrames: 8}, clk, sink, provider, newSource, nopSink{})
	prime(t, s, b1, 0)

	frames := drive(s, 25) // crosses the fence at frame 20 with the probe gated
	for _, f := range frames[20:] {
		assert.True(t, f.Pad, "pre-promotion frames must be pads")
	}
	close(gate)
	waitPreload(s)
	frames = append(frames, drive(s, 5)...)
	last := frames[len(frames)-1]
	assert.False(t, last.Pad, "content resumes once the late preload promotes")
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].PTS90k, frames[i-1].PTS90k)
	}
}

// gatedSource delays Probe until the gate opens.
type gatedSource struct {
	Source
	gate <-chan struct{}
}

func (g *gatedSource) Probe(ctx context.Context) error {
	<-g.gate
	return g.Source.Probe(ctx)
}

func TestStopIsIdempotent(t *testing.T) {
	b1 := makeEntry("b1", 0, seg("a.mp4", 0, 2000))
	durations := map[string]int64{"a.mp4": 3_600_000}
	provider := &fakeProvider{next: map[string]horizon.ExecutionEntry{}}
	s, _ := newTestSession(t, durations, provider)
	prime(t, s, b1, 0)

	s.Stop()
	s.Stop()
	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, telemetry.SessionTerminated, s.TerminalCode())
}
