package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/retrovue/broadcast-core/pkg/clock"
	"github.com/retrovue/broadcast-core/pkg/horizon"
	"github.com/retrovue/broadcast-core/pkg/playout"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// Session is the runtime's handle on one playout engine. playout.Session
// satisfies it; tests substitute a recorder.
type Session interface {
	Start(blocks []horizon.ExecutionEntry, jp playout.JoinParams)
	Stop()
	State() playout.State
}

// SessionFactory builds the engine for one channel. The provider passed in
// is the channel itself, which answers fence and preload queries.
type SessionFactory func(channelID string, provider playout.BlockProvider) Session

// Config tunes the runtime.
type Config struct {
	// JoinBudget bounds the viewer-join path; a join that cannot complete
	// within it fails with no session created. Zero means 2s.
	JoinBudget time.Duration
}

func (c Config) withDefaults() Config {
	if c.JoinBudget == 0 {
		c.JoinBudget = 2 * time.Second
	}
	return c
}

// Fault is the runtime's typed error carrying a closed result code.
type Fault struct {
	Code      telemetry.Code
	ChannelID string
	Detail    string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("orchestrator: %s: channel %q: %s", f.Code, f.ChannelID, f.Detail)
}

func faultf(code telemetry.Code, channelID, format string, args ...any) *Fault {
	return &Fault{Code: code, ChannelID: channelID, Detail: fmt.Sprintf(format, args...)}
}

// Runtime is the channel runtime: per channel it holds the two block slots
// (executing, pending), the live session if any, and the window store it
// reads blocks from. All state is per channel behind that channel's own
// lock, so one channel's fence never blocks another's join.
type Runtime struct {
	mu         sync.Mutex
	channels   map[string]*Channel
	clk        clock.Clock
	sink       *telemetry.Sink
	newSession SessionFactory
	cfg        Config
}

// NewRuntime builds a Runtime. newSession is called once per fresh join.
func NewRuntime(clk clock.Clock, sink *telemetry.Sink, newSession SessionFactory, cfg Config) *Runtime {
	return &Runtime{
		channels:   make(map[string]*Channel),
		clk:        clk,
		sink:       sink,
		newSession: newSession,
		cfg:        cfg.withDefaults(),
	}
}

// Channel is one channel's runtime state. It satisfies
// playout.BlockProvider for its own session.
type Channel struct {
	id string
	rt *Runtime

	mu        sync.Mutex // serializes transitions; two cannot interleave
	store     *horizon.WindowStore
	executing *horizon.ExecutionEntry
	pending   *horizon.ExecutionEntry
	session   Session
	seen      map[string]struct{}
}

// RegisterChannel attaches a window store to a channel id. Idempotent for
// the same store.
func (r *Runtime) RegisterChannel(channelID string, store *horizon.WindowStore) *Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[channelID]; ok {
		return ch
	}
	ch := &Channel{id: channelID, rt: r, store: store, seen: make(map[string]struct{})}
	r.channels[channelID] = ch
	return ch
}

// Channel returns a registered channel.
func (r *Runtime) Channel(channelID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	return ch, ok
}

// ComputeJoinParams classifies a join instant against a block and derives
// where playback starts. Pure; the epoch is always the block's start
// fence, never the join instant.
func ComputeJoinParams(b horizon.ExecutionEntry, tJoinMs int64) (JoinClass, JoinParams) {
	if tJoinMs >= b.EndUtcMs {
		return JoinStale, JoinParams{}
	}
	if tJoinMs < b.StartUtcMs {
		var offset int64
		if len(b.Segments) > 0 {
			offset = b.Segments[0].AssetStartOffsetMs
		}
		return JoinEarly, JoinParams{EpochWallMs: b.StartUtcMs, AssetOffsetMs: offset}
	}
	elapsed := tJoinMs - b.StartUtcMs
	var startCt int64
	for i, seg := range b.Segments {
		endCt := startCt + seg.SegmentDurationMs
		if elapsed < endCt {
			return JoinMidBlock, JoinParams{
				EpochWallMs:   b.StartUtcMs,
				StartCtMs:     elapsed,
				SegmentIndex:  i,
				AssetOffsetMs: seg.AssetStartOffsetMs + (elapsed - startCt),
			}
		}
		startCt = endCt
	}
	// Unreachable for a block honoring the duration-sum invariant.
	return JoinStale, JoinParams{}
}

// Join handles a viewer tune-in: find the block containing now, compute
// join parameters, and start (or reuse) the channel's session. The spawn
// itself is offloaded to its own goroutine; Join returns as soon as the
// parameters are known. The context bounds the whole operation.
func (r *Runtime) Join(ctx context.Context, channelID string) (JoinResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.JoinBudget)
	defer cancel()

	ch, ok := r.Channel(channelID)
	if !ok {
		return JoinResult{}, faultf(telemetry.ProtocolViolation, channelID, "channel not registered")
	}
	now := r.clk.NowUTCMs()

	block, ok := ch.store.ActiveBlock(now)
	if !ok {
		// No block contains now; an upcoming block makes this an early
		// join, otherwise the horizon has run out.
		upcoming := ch.store.Snapshot(now, now+24*3600*1000)
		if len(upcoming) == 0 {
			return JoinResult{}, faultf(telemetry.LookaheadExhausted, channelID, "no active or upcoming block at %d", now)
		}
		block = upcoming[0]
	}

	class, params := ComputeJoinParams(block, now)
	if class == JoinStale {
		return JoinResult{}, faultf(telemetry.StaleBlockFromCore, channelID, "block %s ended before join at %d", block.BlockID, now)
	}
	if err := ctx.Err(); err != nil {
		return JoinResult{}, faultf(telemetry.ProtocolViolation, channelID, "join budget exceeded: %v", err)
	}

	corr := uuid.NewString()
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.session != nil && ch.session.State() != playout.StateTerminated {
		r.sink.Emit(telemetry.Event{
			ChannelID: channelID, CorrelationID: corr, BlockID: block.BlockID, Code: telemetry.OK,
			GenerationID: block.GenerationID, ReceiptMs: now, Detail: "join reused session",
		})
		return JoinResult{Class: class, Params: params, BlockID: block.BlockID, Reused: true}, nil
	}

	// Prefill the two slots with the active block and its contiguous
	// successor, if published.
	first := block
	ch.executing = &first
	ch.pending = nil
	ch.seen = map[string]struct{}{block.BlockID: {}}
	blocks := []horizon.ExecutionEntry{block}
	if next, ok := ch.store.NextAfter(block.BlockID); ok {
		n := next
		ch.pending = &n
		ch.seen[next.BlockID] = struct{}{}
		blocks = append(blocks, next)
	}

	sess := r.newSession(channelID, ch)
	ch.session = sess
	jp := playout.JoinParams{EpochWallMs: params.EpochWallMs, StartCtMs: params.StartCtMs}
	go sess.Start(blocks, jp)

	r.sink.Emit(telemetry.Event{
		ChannelID: channelID, CorrelationID: corr, BlockID: block.BlockID, Code: telemetry.OK,
		GenerationID: block.GenerationID, ReceiptMs: now, EffectiveMs: params.EpochWallMs,
		Detail: "join started session",
	})
	return JoinResult{Class: class, Params: params, BlockID: block.BlockID}, nil
}

// DeliverNextBlock ingests a block into the pending slot. Rejections carry
// a closed code and leave state untouched.
func (r *Runtime) DeliverNextBlock(channelID string, entry horizon.ExecutionEntry) error {
	ch, ok := r.Channel(channelID)
	if !ok {
		return faultf(telemetry.ProtocolViolation, channelID, "channel not registered")
	}
	now := r.clk.NowUTCMs()
	corr := uuid.NewString()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	reject := func(code telemetry.Code, format string, args ...any) error {
		f := faultf(code, channelID, format, args...)
		r.sink.Emit(telemetry.Event{
			ChannelID: channelID, CorrelationID: corr, BlockID: entry.BlockID, Code: code,
			GenerationID: entry.GenerationID, ReceiptMs: now, Detail: f.Detail,
		})
		return f
	}

	if ch.session != nil && ch.session.State() == playout.StateTerminated {
		return reject(telemetry.SessionTerminated, "session already terminated")
	}
	if entry.EndUtcMs <= now {
		return reject(telemetry.StaleBlockFromCore, "block %s ended at %d, now %d", entry.BlockID, entry.EndUtcMs, now)
	}
	tail := ch.executing
	if ch.pending != nil {
		tail = ch.pending
	}
	if tail == nil {
		return reject(telemetry.ProtocolViolation, "no executing block to append to")
	}
	if entry.StartUtcMs != tail.EndUtcMs {
		return reject(telemetry.BlockNotContiguous, "block %s starts at %d, tail ends at %d", entry.BlockID, entry.StartUtcMs, tail.EndUtcMs)
	}
	if _, dup := ch.seen[entry.BlockID]; dup {
		return reject(telemetry.DuplicateBlock, "block %s already delivered", entry.BlockID)
	}
	if ch.pending != nil {
		return reject(telemetry.QueueFull, "pending slot occupied by %s", ch.pending.BlockID)
	}

	e := entry
	ch.pending = &e
	ch.seen[entry.BlockID] = struct{}{}
	r.sink.Emit(telemetry.Event{
		ChannelID: channelID, CorrelationID: corr, BlockID: entry.BlockID, Code: telemetry.OK,
		GenerationID: entry.GenerationID, ReceiptMs: now, Detail: "block accepted",
	})
	return nil
}

// StopChannel stops the channel's session if one is live. Idempotent;
// channel state (and the horizon behind it) stays registered so a later
// join starts fresh.
func (r *Runtime) StopChannel(channelID string) error {
	ch, ok := r.Channel(channelID)
	if !ok {
		return faultf(telemetry.ProtocolViolation, channelID, "channel not registered")
	}
	ch.mu.Lock()
	sess := ch.session
	ch.session = nil
	ch.executing = nil
	ch.pending = nil
	ch.seen = make(map[string]struct{})
	ch.mu.Unlock()

	if sess != nil {
		sess.Stop()
	}
	r.sink.Emit(telemetry.Event{
		ChannelID: channelID, CorrelationID: uuid.NewString(), Code: telemetry.OK,
		ReceiptMs: r.clk.NowUTCMs(), Detail: "channel stopped",
	})
	return nil
}

// Status is the ops view of one channel.
type Status struct {
	ChannelID        string
	ExecutingBlockID string
	PendingBlockID   string
	GenerationID     uint64
	SessionState     playout.State
}

// Status reports the channel's slots and session state.
func (r *Runtime) Status(channelID string) (Status, error) {
	ch, ok := r.Channel(channelID)
	if !ok {
		return Status{}, faultf(telemetry.ProtocolViolation, channelID, "channel not registered")
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	st := Status{ChannelID: channelID}
	if ch.executing != nil {
		st.ExecutingBlockID = ch.executing.BlockID
		st.GenerationID = ch.executing.GenerationID
	}
	if ch.pending != nil {
		st.PendingBlockID = ch.pending.BlockID
	}
	if ch.session != nil {
		st.SessionState = ch.session.State()
	}
	return st, nil
}

// FenceTransition promotes pending to executing at a block fence. If the
// pending slot is empty it falls back to the window store, so a horizon
// that published ahead keeps the channel running without an explicit
// deliver call. Returns false when no successor exists; the session then
// records the exhaustion and terminates.
func (ch *Channel) FenceTransition(channelID, finishedBlockID string) (horizon.ExecutionEntry, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.executing == nil || ch.executing.BlockID != finishedBlockID {
		// The session is ahead of our bookkeeping; resync from the store.
		if e, ok := ch.store.NextAfter(finishedBlockID); ok {
			ch.setExecutingLocked(e)
			return e, true
		}
		return horizon.ExecutionEntry{}, false
	}

	if ch.pending != nil {
		next := *ch.pending
		ch.setExecutingLocked(next)
		return next, true
	}
	if e, ok := ch.store.NextAfter(finishedBlockID); ok {
		ch.setExecutingLocked(e)
		return e, true
	}
	return horizon.ExecutionEntry{}, false
}

// setExecutingLocked installs a new executing block and refills the
// pending slot from the store when a contiguous successor is already
// published.
func (ch *Channel) setExecutingLocked(e horizon.ExecutionEntry) {
	ch.executing = &e
	ch.pending = nil
	ch.seen[e.BlockID] = struct{}{}
	if next, ok := ch.store.NextAfter(e.BlockID); ok {
		n := next
		ch.pending = &n
		ch.seen[n.BlockID] = struct{}{}
	}
}

// PreloadCandidate peeks at the block that would promote at the next
// fence, without committing anything.
func (ch *Channel) PreloadCandidate(channelID, executingBlockID string) (horizon.ExecutionEntry, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.pending != nil {
		return *ch.pending, true
	}
	return ch.store.NextAfter(executingBlockID)
}
