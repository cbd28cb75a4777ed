package horizon

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/retrovue/broadcast-core/pkg/catalog"
	"github.com/retrovue/broadcast-core/pkg/clock"
	"github.com/retrovue/broadcast-core/pkg/grid"
	"github.com/retrovue/broadcast-core/pkg/schedule"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// ChannelConfig bundles what the horizon manager needs to keep one
// channel's window store extended.
type ChannelConfig struct {
	Grid            grid.Spec
	Catalog         catalog.Catalog
	Filler          catalog.FillerPolicy
	Resolved        *schedule.ResolvedStore
	LookaheadBlocks int // default 2
	// Plans, Cursors, and LeadDays drive day materialization. A nil Plans
	// means resolved days arrive from outside and Materialize is a no-op.
	Plans    *schedule.PlanHistory
	Cursors  schedule.CursorStore
	LeadDays int // calendar days of resolved-day lead, default 3
}

// channelHorizon is the per-channel state a Manager owns: the window
// store, an atomic generation-id allocator, and a cancel func for the
// background loop goroutine.
type channelHorizon struct {
	mu     sync.Mutex // serializes Extend/Materialize for this channel
	store  *WindowStore
	cfg    ChannelConfig
	nr     atomic.Uint64 // last-assigned generation id
	cancel context.CancelFunc

	// carry is the un-cuttable program crossing into the broadcast day
	// starting at carryIntoDayStart, produced by the last compiled day.
	carry             *schedule.CarryState
	carryIntoDayStart int64
}

// Manager keeps every registered channel's WindowStore populated with at
// least its configured lookahead of blocks. It holds no
// process-wide mutable state beyond the channel map itself; the time
// authority and telemetry sink are injected at construction.
type Manager struct {
	mu             sync.Mutex
	channels       map[string]*channelHorizon
	clk            clock.Clock
	sink           *telemetry.Sink
	extendInterval time.Duration
}

// NewManager builds a Manager. extendInterval is how often the background
// loop re-evaluates each channel's lookahead.
func NewManager(clk clock.Clock, sink *telemetry.Sink, extendInterval time.Duration) *Manager {
	return &Manager{
		channels:       make(map[string]*channelHorizon),
		clk:            clk,
		sink:           sink,
		extendInterval: extendInterval,
	}
}

// Register adds a channel to the manager and returns its WindowStore so
// callers (the orchestrator, the ops API) can read from it directly.
func (m *Manager) Register(channelID string, cfg ChannelConfig) *WindowStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Cursors == nil {
		cfg.Cursors = schedule.NewMapCursorStore()
	}
	store := NewWindowStore()
	m.channels[channelID] = &channelHorizon{store: store, cfg: cfg}
	return store
}

// Store returns the WindowStore for a registered channel.
func (m *Manager) Store(channelID string) (*WindowStore, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, false
	}
	return ch.store, true
}

// Start launches one background extension-loop goroutine per registered
// channel; each suspends on the time authority and, on wake, materializes
// missing days and extends the window.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.channels {
		loopCtx, cancel := context.WithCancel(ctx)
		ch.cancel = cancel
		go m.runLoop(loopCtx, id)
	}
}

// Stop cancels every channel's extension loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.channels {
		if ch.cancel != nil {
			ch.cancel()
		}
	}
}

func (m *Manager) runLoop(ctx context.Context, channelID string) {
	timer := m.clk.NewTimer(m.extendInterval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C():
		}
		if _, err := m.Materialize(ctx, channelID); err != nil {
			m.sink.Emit(telemetry.Event{ChannelID: channelID, Code: errCode(err), Detail: err.Error()})
		}
		if _, err := m.Extend(ctx, channelID); err != nil {
			m.sink.Emit(telemetry.Event{ChannelID: channelID, Code: errCode(err), Detail: err.Error()})
		}
		timer.Reset(m.extendInterval)
	}
}

func errCode(err error) telemetry.Code {
	if f, ok := err.(*Fault); ok {
		return f.Code
	}
	return telemetry.ProtocolViolation
}

func (m *Manager) channel(channelID string) (*channelHorizon, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	return ch, ok
}

// Extend is the exported, directly callable extension step:
// it derives and publishes as many additional blocks as needed to bring
// the channel's lookahead up to its configured target, starting from the
// current time. It is exported (not only reachable via the background
// loop) so tests can drive it deterministically with a MockClock. It
// returns the number of blocks published. If a resolved day the horizon
// needs has not been compiled yet, Extend stops without error: the next
// call (or loop tick) will pick up where it left off once the schedule
// layer catches up.
func (m *Manager) Extend(ctx context.Context, channelID string) (int, error) {
	ch, ok := m.channel(channelID)
	if !ok {
		return 0, faultf(telemetry.ProtocolViolation, channelID, "channel not registered with the horizon manager")
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	now := m.clk.NowUTCMs()
	lookahead := ch.cfg.LookaheadBlocks
	if lookahead <= 0 {
		lookahead = 2
	}
	targetEnd := now + int64(lookahead)*ch.cfg.Grid.BlockMs()

	tail, ok := ch.store.TailEnd()
	if !ok {
		tail = grid.BroadcastDayStartMs(now, ch.cfg.Grid)
	}

	published := 0
	for tail < targetEnd {
		select {
		case <-ctx.Done():
			return published, ctx.Err()
		default:
		}

		dayStart := grid.BroadcastDayStartMs(tail, ch.cfg.Grid)
		date := schedule.NewDateKey(time.UnixMilli(dayStart).UTC())
		day, ok := ch.cfg.Resolved.Get(channelID, date)
		if !ok {
			break // not compiled yet; retry on the next Extend call
		}

		blocks, err := DeriveBlocks(day, dayStart, ch.cfg.Grid.BlockMs(), ch.cfg.Catalog, ch.cfg.Filler, m.sink)
		if err != nil {
			return published, err
		}

		toPublish := blocks[:0:0]
		for _, b := range blocks {
			if b.StartUtcMs >= tail {
				toPublish = append(toPublish, b)
			}
		}
		if len(toPublish) == 0 {
			tail = dayStart + dayMs
			continue
		}

		genID := ch.nextGeneration()
		res, err := ch.store.Publish(PublishRequest{
			ChannelID:       channelID,
			GenerationID:    genID,
			RangeStartUtcMs: toPublish[0].StartUtcMs,
			RangeEndUtcMs:   toPublish[len(toPublish)-1].EndUtcMs,
			Entries:         toPublish,
		})
		if err != nil {
			return published, err
		}
		published += res.Published
		tail = toPublish[len(toPublish)-1].EndUtcMs
	}
	return published, nil
}

// nextGeneration allocates the next generation id via a CAS loop.
func (ch *channelHorizon) nextGeneration() uint64 {
	for {
		prev := ch.nr.Load()
		next := prev + 1
		if ch.nr.CompareAndSwap(prev, next) {
			return next
		}
	}
}
