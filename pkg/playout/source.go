package playout

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/retrovue/broadcast-core/pkg/horizon"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// Source is a container for one block: it owns the decoder for the
// currently playing segment and yields frames in content-time order.
// The variant set is closed — file-backed, synthetic, and pad — and the
// concrete producer is chosen at construction, so the tick path never
// inspects types.
//
// NextFrame returns (true, nil) with dst filled for a content frame,
// (false, nil) when the source has no frame for this tick (underrun inside
// a segment, or the block is complete) and the caller should pad, and a
// non-nil error for a terminal asset or decode failure.
type Source interface {
	Probe(ctx context.Context) error
	Seek(ctMs int64) error
	NextFrame(dst *Frame) (bool, error)
	Close() error
}

// segmentBounds is a segment's content-time window, computed once when the
// source is built. Boundaries are cumulative sums of segment durations.
type segmentBounds struct {
	startCtMs int64
	endCtMs   int64
	uri       string
	offsetMs  int64
}

// blockSource executes one block: it walks the block's segments in
// content-time order, switching the decoder to the next asset exactly when
// its internal CT crosses a segment boundary. Underrun inside a segment
// (asset EOF early) yields pad ticks until the boundary; overrun (asset
// longer than the segment) is truncated by the boundary switch itself.
type blockSource struct {
	entry      horizon.ExecutionEntry
	bounds     []segmentBounds
	fps        int
	newDecoder DecoderFactory
	sink       *telemetry.Sink

	dec     Decoder
	segIdx  int
	pulled  int64 // frames yielded (content or pad), drives CT
	startCt int64
	eof     bool // current segment's asset ran dry before its boundary
	clamped bool // clamp event already emitted for this underrun
	probed  bool
}

// SourceError is a terminal source failure carrying the block-level result
// code the session will terminate with.
type SourceError struct {
	Code    telemetry.Code
	BlockID string
	Err     error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("playout: %s: block %s: %v", e.Code, e.BlockID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NewFileSource builds a source for a block whose segments reference
// file-backed assets, decoded through the injected factory.
func NewFileSource(entry horizon.ExecutionEntry, fps int, newDecoder DecoderFactory, sink *telemetry.Sink) Source {
	return newBlockSource(entry, fps, newDecoder, sink)
}

// NewSyntheticSource builds a source whose segments are generated rather
// than demuxed, used for programmatic content such as test channels and
// slates. It shares the block-walking logic with the file producer; only
// the decoder differs, fixed here at construction.
func NewSyntheticSource(entry horizon.ExecutionEntry, fps int, durations map[string]int64, sink *telemetry.Sink) Source {
	return newBlockSource(entry, fps, NewSyntheticDecoderFactory(fps, durations), sink)
}

func newBlockSource(entry horizon.ExecutionEntry, fps int, newDecoder DecoderFactory, sink *telemetry.Sink) *blockSource {
	bounds := make([]segmentBounds, len(entry.Segments))
	var ct int64
	for i, seg := range entry.Segments {
		bounds[i] = segmentBounds{
			startCtMs: ct,
			endCtMs:   ct + seg.SegmentDurationMs,
			uri:       seg.AssetURI,
			offsetMs:  seg.AssetStartOffsetMs,
		}
		ct = bounds[i].endCtMs
	}
	return &blockSource{
		entry:      entry,
		bounds:     bounds,
		fps:        fps,
		newDecoder: newDecoder,
		sink:       sink,
	}
}

// Entry exposes the block this source executes.
func (s *blockSource) Entry() horizon.ExecutionEntry { return s.entry }

// Probe opens the first segment's asset and seeks to its start offset.
// Run off the tick thread (preload); the tick thread only swaps a probed
// source in.
func (s *blockSource) Probe(ctx context.Context) error {
	if len(s.bounds) == 0 {
		return &SourceError{Code: telemetry.AssetError, BlockID: s.entry.BlockID, Err: errors.New("block has no segments")}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.openSegment(0); err != nil {
		return err
	}
	s.probed = true
	return nil
}

// Seek positions the source at an arbitrary block CT, used for mid-block
// joins and late promotion. The decoder lands at the owning segment's
// asset offset plus the CT remainder.
func (s *blockSource) Seek(ctMs int64) error {
	idx := len(s.bounds) - 1
	for i, b := range s.bounds {
		if ctMs < b.endCtMs {
			idx = i
			break
		}
	}
	if idx != s.segIdx || s.dec == nil {
		if err := s.openSegment(idx); err != nil {
			return err
		}
	}
	b := s.bounds[idx]
	if err := s.dec.Seek(b.offsetMs + (ctMs - b.startCtMs)); err != nil {
		return &SourceError{Code: telemetry.AssetError, BlockID: s.entry.BlockID, Err: err}
	}
	s.startCt = ctMs
	s.pulled = 0
	s.eof = false
	s.clamped = false
	return nil
}

func (s *blockSource) openSegment(idx int) error {
	if s.dec != nil {
		_ = s.dec.Close()
		s.dec = nil
	}
	b := s.bounds[idx]
	dec := s.newDecoder()
	if err := dec.Open(b.uri); err != nil {
		return &SourceError{Code: telemetry.AssetError, BlockID: s.entry.BlockID, Err: err}
	}
	if err := dec.Seek(b.offsetMs); err != nil {
		_ = dec.Close()
		return &SourceError{Code: telemetry.AssetError, BlockID: s.entry.BlockID, Err: err}
	}
	s.dec = dec
	s.segIdx = idx
	s.eof = false
	s.clamped = false
	return nil
}

// ct returns the source's current content time, derived from the yield
// counter so it advances exactly one frame per tick.
func (s *blockSource) ct() int64 {
	return s.startCt + s.pulled*1000/int64(s.fps)
}

func (s *blockSource) NextFrame(dst *Frame) (bool, error) {
	ct := s.ct()
	blockEnd := s.bounds[len(s.bounds)-1].endCtMs
	if ct >= blockEnd {
		return false, nil // block complete; the controller handles the fence
	}

	// Crossing a segment boundary switches decoder input. Any content the
	// outgoing asset still had is discarded with it.
	for ct >= s.bounds[s.segIdx].endCtMs && s.segIdx+1 < len(s.bounds) {
		if err := s.openSegment(s.segIdx + 1); err != nil {
			return false, err
		}
	}

	s.pulled++
	if s.eof {
		// Asset ran out before its boundary; the controller pads this tick.
		return false, nil
	}

	err := s.dec.NextFrame(dst)
	switch {
	case err == nil:
		dst.CtMs = ct
		return true, nil
	case errors.Is(err, io.EOF):
		s.eof = true
		if !s.clamped && s.sink != nil {
			s.sink.EmitClamp(s.entry.ChannelID, s.entry.BlockID, s.bounds[s.segIdx].endCtMs)
			s.clamped = true
		}
		return false, nil
	default:
		return false, &SourceError{Code: telemetry.DecodeError, BlockID: s.entry.BlockID, Err: err}
	}
}

func (s *blockSource) Close() error {
	if s.dec != nil {
		err := s.dec.Close()
		s.dec = nil
		return err
	}
	return nil
}

// padSource yields no content frames at all; every tick pads. The session
// does not use it: it pads on its own whenever it has no active source.
type padSource struct{}

// NewPadSource returns the always-pad producer.
func NewPadSource() Source { return padSource{} }

func (padSource) Probe(ctx context.Context) error    { return nil }
func (padSource) Seek(ctMs int64) error              { return nil }
func (padSource) NextFrame(dst *Frame) (bool, error) { return false, nil }
func (padSource) Close() error                       { return nil }
