package horizon

import (
	"sort"
	"sync"

	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// PublishRequest is the horizon publish contract: a channel, a
// newly assigned generation id, the covered range, and the entries that
// fill it.
type PublishRequest struct {
	ChannelID       string
	GenerationID    uint64
	RangeStartUtcMs int64
	RangeEndUtcMs   int64
	Entries         []ExecutionEntry
}

// PublishResult reports what a successful Publish did.
type PublishResult struct {
	GenerationID uint64
	Published    int
	Removed      int
}

// WindowStore is the per-channel ordered set of blocks keyed by
// StartUtcMs. All mutation happens under a single mutex; reads
// take a snapshot copy so callers never observe a store mid-mutation.
type WindowStore struct {
	mu         sync.Mutex
	entries    []ExecutionEntry // sorted ascending by StartUtcMs
	generation uint64
}

// NewWindowStore builds an empty WindowStore.
func NewWindowStore() *WindowStore {
	return &WindowStore{}
}

// Publish performs the atomic publish protocol: under a
// single critical section it removes any existing entries overlapping
// [RangeStartUtcMs, RangeEndUtcMs) and inserts the new entries stamped
// with GenerationID. It rejects (with no side effect) if the request
// violates any of the closed invariants: generation monotonicity,
// entry-to-entry contiguity across exactly the requested range, or a
// per-entry duration-sum mismatch.
func (w *WindowStore) Publish(req PublishRequest) (PublishResult, error) {
	if req.RangeEndUtcMs <= req.RangeStartUtcMs {
		return PublishResult{}, faultf(telemetry.NonContiguousEntries, req.ChannelID, "empty or inverted publish range")
	}
	if err := validateEntries(req); err != nil {
		return PublishResult{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if req.GenerationID <= w.generation {
		return PublishResult{}, faultf(telemetry.NonMonotoneGeneration, req.ChannelID,
			"generation %d is not greater than last-seen generation %d", req.GenerationID, w.generation)
	}

	kept := make([]ExecutionEntry, 0, len(w.entries))
	removed := 0
	for _, e := range w.entries {
		if e.EndUtcMs <= req.RangeStartUtcMs || e.StartUtcMs >= req.RangeEndUtcMs {
			kept = append(kept, e)
			continue
		}
		removed++
	}

	stamped := make([]ExecutionEntry, len(req.Entries))
	copy(stamped, req.Entries)
	for i := range stamped {
		stamped[i].GenerationID = req.GenerationID
	}
	kept = append(kept, stamped...)
	sort.Slice(kept, func(i, j int) bool { return kept[i].StartUtcMs < kept[j].StartUtcMs })

	w.entries = kept
	w.generation = req.GenerationID

	return PublishResult{GenerationID: req.GenerationID, Published: len(stamped), Removed: removed}, nil
}

func validateEntries(req PublishRequest) error {
	if len(req.Entries) == 0 {
		return faultf(telemetry.NonContiguousEntries, req.ChannelID, "publish with no entries")
	}
	if req.Entries[0].StartUtcMs != req.RangeStartUtcMs {
		return faultf(telemetry.NonContiguousEntries, req.ChannelID,
			"first entry starts at %d, range starts at %d", req.Entries[0].StartUtcMs, req.RangeStartUtcMs)
	}
	last := req.Entries[len(req.Entries)-1]
	if last.EndUtcMs != req.RangeEndUtcMs {
		return faultf(telemetry.NonContiguousEntries, req.ChannelID,
			"last entry ends at %d, range ends at %d", last.EndUtcMs, req.RangeEndUtcMs)
	}
	for i, e := range req.Entries {
		if e.EndUtcMs <= e.StartUtcMs {
			return faultf(telemetry.NonContiguousEntries, req.ChannelID, "entry %s has non-positive span", e.BlockID)
		}
		if e.segmentDurationSum() != e.DurationMs() {
			return faultf(telemetry.DurationSumMismatch, req.ChannelID,
				"entry %s: segments sum to %dms, want %dms", e.BlockID, e.segmentDurationSum(), e.DurationMs())
		}
		for si, s := range e.Segments {
			if s.SegmentIndex != si {
				return faultf(telemetry.DurationSumMismatch, req.ChannelID, "entry %s: segment index %d out of order", e.BlockID, si)
			}
		}
		if i > 0 && req.Entries[i-1].EndUtcMs != e.StartUtcMs {
			return faultf(telemetry.NonContiguousEntries, req.ChannelID,
				"entry %s ends at %d, entry %s starts at %d", req.Entries[i-1].BlockID, req.Entries[i-1].EndUtcMs, e.BlockID, e.StartUtcMs)
		}
	}
	return nil
}

// ActiveBlock returns the entry whose [StartUtcMs, EndUtcMs) contains now,
// if any — the lookup the channel runtime performs on viewer join.
func (w *WindowStore) ActiveBlock(nowUtcMs int64) (ExecutionEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.entries {
		if nowUtcMs >= e.StartUtcMs && nowUtcMs < e.EndUtcMs {
			return e, true
		}
	}
	return ExecutionEntry{}, false
}

// NextAfter returns the entry immediately following the given block, if
// contiguous and present — the lookup C5 performs at a fence to find the
// pending block at a fence transition.
func (w *WindowStore) NextAfter(blockID string) (ExecutionEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, e := range w.entries {
		if e.BlockID == blockID && i+1 < len(w.entries) {
			next := w.entries[i+1]
			if next.StartUtcMs == e.EndUtcMs {
				return next, true
			}
			return ExecutionEntry{}, false
		}
	}
	return ExecutionEntry{}, false
}

// Snapshot returns a copy of every entry whose span overlaps
// [startUtcMs, endUtcMs), in ascending StartUtcMs order.
func (w *WindowStore) Snapshot(startUtcMs, endUtcMs int64) []ExecutionEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]ExecutionEntry, 0, len(w.entries))
	for _, e := range w.entries {
		if e.EndUtcMs > startUtcMs && e.StartUtcMs < endUtcMs {
			out = append(out, e)
		}
	}
	return out
}

// Generation returns the last-applied generation id, 0 if none yet.
func (w *WindowStore) Generation() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation
}

// TailEnd returns the EndUtcMs of the last block in the store, or
// (0, false) if the store is empty — used by the horizon manager to decide
// how much further the trailing edge needs to grow.
func (w *WindowStore) TailEnd() (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return 0, false
	}
	return w.entries[len(w.entries)-1].EndUtcMs, true
}
