package playout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/broadcast-core/pkg/clock"
	"github.com/retrovue/broadcast-core/pkg/horizon"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// State is the session lifecycle. TERMINATED is absorbing.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateExecuting    State = "EXECUTING"
	StateTerminated   State = "TERMINATED"
)

const (
	stInit int32 = iota
	stExecuting
	stTerminated
)

// Config is the engine's tuning block. New replaces zero RingFrames,
// PreloadTriggerFraction, TeardownBudgetMs, PadVideoLen and PadAudioLen
// with defaults; FPS has no default, and a zero DriftToleranceMs or
// LateFrameThresholdMs disables that check.
type Config struct {
	FPS                    int
	RingFrames             int
	PreloadTriggerFraction float64
	DriftToleranceMs       int64
	LateFrameThresholdMs   int64
	TeardownBudgetMs       int64
	PadVideoLen            int
	PadAudioLen            int
	// EmitAvailCues marks the first frame after each fence so the
	// transport can signal the boundary to a downstream splicer. Content
	// is never swapped because of a cue.
	EmitAvailCues bool
}

func (c Config) withDefaults() Config {
	if c.RingFrames == 0 {
		c.RingFrames = 60
	}
	if c.PreloadTriggerFraction == 0 {
		c.PreloadTriggerFraction = 0.5
	}
	if c.TeardownBudgetMs == 0 {
		c.TeardownBudgetMs = 500
	}
	if c.PadVideoLen == 0 {
		c.PadVideoLen = 64
	}
	if c.PadAudioLen == 0 {
		c.PadAudioLen = 16
	}
	return c
}

// JoinParams fixes where a fresh session starts inside its first block.
// EpochWallMs is always the block's start fence, never the join instant;
// StartCtMs is the content time of the first emitted frame.
type JoinParams struct {
	EpochWallMs int64
	StartCtMs   int64
}

// BlockProvider is the session's one upstream dependency: at a fence it
// asks for the block following the one it just finished, and at the
// preload trigger it peeks at the same block without committing the
// transition. No other control traffic crosses into the session while a
// block executes.
type BlockProvider interface {
	FenceTransition(channelID, finishedBlockID string) (horizon.ExecutionEntry, bool)
	PreloadCandidate(channelID, executingBlockID string) (horizon.ExecutionEntry, bool)
}

// SourceFactory builds the producer for one block. The concrete variant
// (file, synthetic) is fixed here, at construction.
type SourceFactory func(entry horizon.ExecutionEntry) Source

// TransportSink consumes emitted frames in PTS order. The tsmux muxer
// satisfies it; tests use an in-memory recorder.
type TransportSink interface {
	WriteFrame(f *Frame) error
	Close() error
}

// AvailSignaler is the optional transport capability for boundary cues. A
// sink without it silently drops cue marks.
type AvailSignaler interface {
	WriteAvailCue(pts90k int64) error
}

// preloadState tracks one in-flight background probe of the next block's
// source.
type preloadState struct {
	entry horizon.ExecutionEntry
	src   Source
	done  chan struct{}
	err   error
}

// Session is one channel's playout engine: the output tick and frame
// router on one goroutine, a transport consumer on another, and background
// preload goroutines per upcoming source. A session emits continuously
// from Start until a fence with no successor, a terminal fault, or Stop.
type Session struct {
	channelID  string
	corrID     string // one correlation id for the session's whole life
	cfg        Config
	clk        clock.Clock
	sink       *telemetry.Sink
	provider   BlockProvider
	newSource  SourceFactory
	out        TransportSink
	ring       *FrameRing
	frameDurNs int64

	st atomic.Int32 // stInit/stExecuting/stTerminated; read lock-free by other goroutines

	mu          sync.Mutex
	termCode    telemetry.Code
	epochWallMs int64
	frameIndex  int64 // session frame counter; drives PTS and CT
	blockBaseCt int64 // session CT at which the active block began
	activeEntry horizon.ExecutionEntry
	active      Source
	preload     *preloadState
	pendingCue  bool

	stopCh    chan struct{}
	stopOnce  sync.Once
	routerWG  sync.WaitGroup
	consumeWG sync.WaitGroup
	scratch   Frame
	dropped   int64
}

// New builds a session for one channel. Nothing runs until Start.
func New(channelID string, cfg Config, clk clock.Clock, sink *telemetry.Sink, provider BlockProvider, newSource SourceFactory, out TransportSink) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		channelID:  channelID,
		corrID:     uuid.NewString(),
		cfg:        cfg,
		clk:        clk,
		sink:       sink,
		provider:   provider,
		newSource:  newSource,
		out:        out,
		ring:       NewFrameRing(cfg.RingFrames),
		frameDurNs: int64(time.Second) / int64(cfg.FPS),
		stopCh:     make(chan struct{}),
	}
}

// Start primes the session with its first one or two blocks and launches
// the router and consumer goroutines. It returns immediately; the router
// probes (and, for a mid-block join, seeks) the first source before its
// first tick, so no frame is emitted until that completes.
func (s *Session) Start(blocks []horizon.ExecutionEntry, jp JoinParams) {
	s.mu.Lock()
	s.epochWallMs = jp.EpochWallMs
	s.frameIndex = jp.StartCtMs * int64(s.cfg.FPS) / 1000
	s.activeEntry = blocks[0]
	s.active = s.newSource(blocks[0])
	if len(blocks) > 1 {
		s.startPreloadLocked(blocks[1])
	}
	s.mu.Unlock()

	s.consumeWG.Add(1)
	go s.consume()

	s.routerWG.Add(1)
	go s.run(jp)
}

// State reports the current lifecycle state. It is lock-free so the
// channel runtime can poll it while holding its own locks.
func (s *Session) State() State {
	switch s.st.Load() {
	case stExecuting:
		return StateExecuting
	case stTerminated:
		return StateTerminated
	default:
		return StateInitializing
	}
}

// TerminalCode reports why a terminated session stopped; empty while live.
func (s *Session) TerminalCode() telemetry.Code {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termCode
}

// DroppedFrames reports frames discarded either because the ring was full
// when the tick pushed them or because the consumer found them past the
// late-frame threshold.
func (s *Session) DroppedFrames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop requests cooperative teardown: the router exits after the tick in
// flight, then background goroutines are waited on up to the teardown
// budget. A goroutine that misses the budget is detached; its resources
// free when it finally returns. Stop is idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	done := make(chan struct{})
	go func() {
		s.routerWG.Wait()
		s.consumeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(s.cfg.TeardownBudgetMs) * time.Millisecond):
	}

	s.mu.Lock()
	if s.st.Swap(stTerminated) != stTerminated && s.termCode == "" {
		s.termCode = telemetry.SessionTerminated
	}
	s.mu.Unlock()
}

// run is the output controller: probe the first source, wait for the
// epoch if the join was early, then tick at the frame cadence until
// terminated or stopped.
func (s *Session) run(jp JoinParams) {
	defer s.routerWG.Done()
	defer func() {
		s.mu.Lock()
		if s.active != nil {
			_ = s.active.Close()
			s.active = nil
		}
		s.mu.Unlock()
	}()

	ctx := context.Background()
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if err := active.Probe(ctx); err != nil {
		s.terminate(sourceCode(err))
		return
	}
	if jp.StartCtMs > 0 {
		if err := active.Seek(jp.StartCtMs); err != nil {
			s.terminate(sourceCode(err))
			return
		}
	}

	// An early join waits for the block's start fence before the first tick.
	if wait := jp.EpochWallMs - s.clk.NowUTCMs(); wait > 0 {
		s.clk.Sleep(time.Duration(wait) * time.Millisecond)
	}

	s.st.CompareAndSwap(stInit, stExecuting)
	s.sink.Emit(telemetry.Event{
		ChannelID:     s.channelID,
		CorrelationID: s.corrID,
		BlockID:       s.activeEntry.BlockID,
		Code:          telemetry.OK,
		GenerationID:  s.activeEntry.GenerationID,
		EffectiveMs:   s.epochWallMs,
		Detail:        "session executing",
	})

	next := s.clk.MonotonicNS()
	for {
		select {
		case <-s.stopCh:
			s.terminate(telemetry.SessionTerminated)
			return
		default:
		}
		if !s.tick() {
			return
		}
		next += s.frameDurNs
		if sleep := next - s.clk.MonotonicNS(); sleep > 0 {
			s.clk.Sleep(time.Duration(sleep))
		}
	}
}

// tick emits exactly one frame (content or pad) and advances the session
// frame counter. It returns false once the session has terminated.
func (s *Session) tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.Load() == stTerminated {
		return false
	}

	sessionCt := s.frameIndex * 1000 / int64(s.cfg.FPS)
	blockCt := sessionCt - s.blockBaseCt
	blockDur := s.activeEntry.DurationMs()

	// Fence: the active block's final CT has been reached. Either the next
	// block promotes, or the session ends; there is no third outcome and
	// no frame is emitted past the fence without a successor.
	if blockCt >= blockDur {
		if !s.fenceLocked() {
			return false
		}
		sessionCt = s.frameIndex * 1000 / int64(s.cfg.FPS)
		blockCt = sessionCt - s.blockBaseCt
	}

	if s.cfg.DriftToleranceMs > 0 {
		wallElapsed := s.clk.NowUTCMs() - s.epochWallMs
		if diff := wallElapsed - sessionCt; diff > s.cfg.DriftToleranceMs || -diff > s.cfg.DriftToleranceMs {
			s.terminateLocked(telemetry.DriftExceeded)
			return false
		}
	}

	// Kick off the next block's preload once the active block is past the
	// trigger fraction.
	if s.preload == nil && blockDur > 0 &&
		blockCt >= int64(float64(blockDur)*s.cfg.PreloadTriggerFraction) {
		if entry, ok := s.provider.PreloadCandidate(s.channelID, s.activeEntry.BlockID); ok {
			s.startPreloadLocked(entry)
		}
	}

	pts := s.frameIndex * 90000 / int64(s.cfg.FPS)
	got := false
	if s.active != nil {
		ok, err := s.active.NextFrame(&s.scratch)
		if err != nil {
			s.terminateLocked(sourceCode(err))
			return false
		}
		got = ok
	} else if s.promoteLateLocked(blockCt) {
		ok, err := s.active.NextFrame(&s.scratch)
		if err != nil {
			s.terminateLocked(sourceCode(err))
			return false
		}
		got = ok
	}

	if got {
		s.scratch.PTS90k = pts
		s.scratch.Pad = false
	} else {
		s.scratch.makePad(pts, blockCt, s.cfg.PadVideoLen, s.cfg.PadAudioLen)
	}
	s.scratch.Cue = s.cfg.EmitAvailCues && s.pendingCue
	s.pendingCue = false
	if !s.ring.Push(&s.scratch) {
		// Consumer is behind by a full ring; this frame is late beyond
		// salvage and is dropped rather than stalling the tick.
		s.dropped++
	}
	s.frameIndex++
	return true
}

// fenceLocked runs the block transition at the active block's final CT.
// It reports false if the session terminated.
func (s *Session) fenceLocked() bool {
	finished := s.activeEntry
	next, ok := s.provider.FenceTransition(s.channelID, finished.BlockID)
	if !ok {
		s.sink.Emit(telemetry.Event{
			ChannelID:     s.channelID,
			CorrelationID: s.corrID,
			BlockID:       finished.BlockID,
			Code:          telemetry.LookaheadExhausted,
			GenerationID:  finished.GenerationID,
			EffectiveMs:   finished.EndUtcMs,
		})
		s.terminateLocked(telemetry.LookaheadExhausted)
		return false
	}

	if s.active != nil {
		_ = s.active.Close()
		s.active = nil
	}
	s.blockBaseCt += finished.DurationMs()
	s.activeEntry = next
	s.pendingCue = true

	if p := s.preload; p != nil && p.entry.BlockID == next.BlockID {
		select {
		case <-p.done:
			s.preload = nil
			if p.err != nil {
				s.terminateLocked(sourceCode(p.err))
				return false
			}
			s.active = p.src
		default:
			// Preload still in flight at the fence: pad until it lands.
			s.sink.EmitClamp(s.channelID, next.BlockID, s.blockBaseCt)
		}
	}

	s.sink.Emit(telemetry.Event{
		ChannelID:     s.channelID,
		CorrelationID: s.corrID,
		BlockID:       next.BlockID,
		Code:          telemetry.OK,
		GenerationID:  next.GenerationID,
		EffectiveMs:   next.StartUtcMs,
		Detail:        "fence promoted",
	})
	return true
}

// promoteLateLocked adopts a preload that finished after its fence,
// seeking it forward to the block CT the pads have already covered.
func (s *Session) promoteLateLocked(blockCt int64) bool {
	p := s.preload
	if p == nil || p.entry.BlockID != s.activeEntry.BlockID {
		return false
	}
	select {
	case <-p.done:
	default:
		return false
	}
	s.preload = nil
	if p.err != nil {
		s.terminateLocked(sourceCode(p.err))
		return false
	}
	if blockCt > 0 {
		if err := p.src.Seek(blockCt); err != nil {
			s.terminateLocked(sourceCode(err))
			return false
		}
	}
	s.active = p.src
	return s.st.Load() != stTerminated
}

// startPreloadLocked launches the background probe for an upcoming block.
func (s *Session) startPreloadLocked(entry horizon.ExecutionEntry) {
	p := &preloadState{
		entry: entry,
		src:   s.newSource(entry),
		done:  make(chan struct{}),
	}
	s.preload = p
	go func() {
		p.err = p.src.Probe(context.Background())
		close(p.done)
	}()
}

func (s *Session) terminate(code telemetry.Code) {
	s.mu.Lock()
	s.terminateLocked(code)
	s.mu.Unlock()
}

func (s *Session) terminateLocked(code telemetry.Code) {
	if s.st.Swap(stTerminated) == stTerminated {
		return
	}
	s.termCode = code
	if code != telemetry.SessionTerminated && code != telemetry.LookaheadExhausted {
		s.sink.Emit(telemetry.Event{
			ChannelID:     s.channelID,
			CorrelationID: s.corrID,
			BlockID:       s.activeEntry.BlockID,
			Code:          code,
			GenerationID:  s.activeEntry.GenerationID,
			CompletionMs:  s.clk.NowUTCMs(),
		})
	}
	if s.active != nil {
		_ = s.active.Close()
		s.active = nil
	}
}

// consume is the transport side: it drains the ring into the sink in
// arrival order. Frames cross only through the ring, so the final frame of
// one block and the first of the next reach the sink back to back.
func (s *Session) consume() {
	defer s.consumeWG.Done()
	defer func() { _ = s.out.Close() }()
	signaler, _ := s.out.(AvailSignaler)
	var f Frame
	for {
		if s.ring.Pop(&f) {
			if s.cfg.LateFrameThresholdMs > 0 {
				expectedWall := s.epochWallMs + f.PTS90k/90
				if s.clk.NowUTCMs()-expectedWall > s.cfg.LateFrameThresholdMs {
					s.mu.Lock()
					s.dropped++
					s.mu.Unlock()
					continue
				}
			}
			if f.Cue && signaler != nil {
				_ = signaler.WriteAvailCue(f.PTS90k)
			}
			if err := s.out.WriteFrame(&f); err != nil {
				s.terminate(telemetry.AssetError)
				return
			}
			continue
		}
		select {
		case <-s.stopCh:
			// Drain what is already queued, then exit.
			for s.ring.Pop(&f) {
				_ = s.out.WriteFrame(&f)
			}
			return
		default:
		}
		if s.State() == StateTerminated && s.ring.Len() == 0 {
			return
		}
		s.clk.Sleep(time.Duration(s.frameDurNs / 2))
	}
}

// sourceCode maps a terminal source failure onto its block-level result
// code.
func sourceCode(err error) telemetry.Code {
	if se, ok := err.(*SourceError); ok {
		return se.Code
	}
	return telemetry.AssetError
}
