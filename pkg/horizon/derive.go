package horizon

import (
	"fmt"

	"github.com/retrovue/broadcast-core/pkg/catalog"
	"github.com/retrovue/broadcast-core/pkg/schedule"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

const dayMs = 24 * 3600 * 1000

// DefaultFillerZone is the zone key used to request filler substitution at
// derivation time. A ResolvedSlot no longer carries its originating zone
// id by the time it reaches the horizon manager, so filler substitution
// here is keyed by a single reserved zone rather than per-zone content;
// operators wanting per-zone filler at this layer configure a FillerPolicy
// that treats this key as its catch-all entry.
const DefaultFillerZone catalog.ZoneID = "__default__"

// DeriveBlocks clusters a ResolvedScheduleDay's slots into fixed-size,
// grid-aligned ExecutionEntry blocks, splitting a slot across a block
// boundary into multiple segments that reference the same asset at
// different offsets (the program itself is never cut; only the handoff
// unit is partitioned). It is pure given its inputs — no clock, no I/O
// beyond in-memory catalog lookups — so it is exhaustively unit-testable.
// dayStartUtcMs is the absolute UTC ms
// of this broadcast day's origin (grid.BroadcastDayStartMs).
func DeriveBlocks(day schedule.ResolvedScheduleDay, dayStartUtcMs, blockMs int64, cat catalog.Catalog, filler catalog.FillerPolicy, sink *telemetry.Sink) ([]ExecutionEntry, error) {
	if blockMs <= 0 || dayMs%blockMs != 0 {
		return nil, faultf(telemetry.GridMisalignment, day.ChannelID, "block size %dms does not evenly divide the broadcast day", blockMs)
	}
	dateStr := day.Date.Format("2006-01-02")
	nBlocks := dayMs / blockMs
	entries := make([]ExecutionEntry, 0, nBlocks)

	for i := int64(0); i < nBlocks; i++ {
		blockStart := i * blockMs
		blockEnd := blockStart + blockMs

		segs, err := segmentsForBlock(day, blockStart, blockEnd, cat, filler, sink)
		if err != nil {
			return nil, err
		}

		entry := ExecutionEntry{
			BlockID:            fmt.Sprintf("%s:%s:%d", day.ChannelID, dateStr, i),
			ChannelID:          day.ChannelID,
			StartUtcMs:         dayStartUtcMs + blockStart,
			EndUtcMs:           dayStartUtcMs + blockEnd,
			ProgrammingDayDate: dateStr,
			Segments:           segs,
		}
		if entry.segmentDurationSum() != entry.DurationMs() {
			return nil, faultf(telemetry.DurationSumMismatch, day.ChannelID,
				"block %s: segments sum to %dms, want %dms", entry.BlockID, entry.segmentDurationSum(), entry.DurationMs())
		}
		entries = append(entries, entry)
	}

	for i := 1; i < len(entries); i++ {
		if entries[i-1].EndUtcMs != entries[i].StartUtcMs {
			return nil, faultf(telemetry.NonContiguousEntries, day.ChannelID,
				"block %s ends at %d, block %s starts at %d", entries[i-1].BlockID, entries[i-1].EndUtcMs, entries[i].BlockID, entries[i].StartUtcMs)
		}
	}
	return entries, nil
}

func segmentsForBlock(day schedule.ResolvedScheduleDay, blockStart, blockEnd int64, cat catalog.Catalog, filler catalog.FillerPolicy, sink *telemetry.Sink) ([]Segment, error) {
	var segs []Segment
	for _, slot := range day.Slots {
		slotStart := slot.StartOffsetMs
		slotEnd := slotStart + slot.DurationMs
		segStart := max64(blockStart, slotStart)
		segEnd := min64(blockEnd, slotEnd)
		if segEnd <= segStart {
			continue
		}

		assetID := slot.AssetID
		a, ok := cat.Lookup(assetID)
		if !ok {
			return nil, faultf(telemetry.UnresolvedAssetRef, day.ChannelID, "slot references unknown asset %q", slot.AssetID)
		}
		if !a.IsEligible() {
			if filler == nil {
				return nil, faultf(telemetry.IneligibleAsset, day.ChannelID, "asset %q is no longer eligible and no filler policy is configured", slot.AssetID)
			}
			f, ok := filler.SelectFiller(DefaultFillerZone)
			if !ok {
				return nil, faultf(telemetry.IneligibleAsset, day.ChannelID, "asset %q is no longer eligible and no default filler is configured", slot.AssetID)
			}
			if sink != nil {
				sink.Emit(telemetry.Event{
					ChannelID: day.ChannelID,
					Code:      telemetry.IneligibleAsset,
					Detail:    fmt.Sprintf("asset %q ineligible at derivation time, substituted filler %q", slot.AssetID, f.ID),
				})
			}
			assetID = f.ID
			a = f
			// Filler always starts from its own beginning; it carries no
			// play-offset relationship to the slot it replaces.
			segs = append(segs, Segment{
				SegmentIndex:       len(segs),
				AssetID:            assetID,
				AssetURI:           a.URI,
				AssetStartOffsetMs: segStart - slotStart,
				SegmentDurationMs:  segEnd - segStart,
			})
			continue
		}

		assetOffset := slot.PlayOffsetMs + (segStart - slotStart)
		segs = append(segs, Segment{
			SegmentIndex:       len(segs),
			AssetID:            assetID,
			AssetURI:           a.URI,
			AssetStartOffsetMs: assetOffset,
			SegmentDurationMs:  segEnd - segStart,
		})
	}
	return segs, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
