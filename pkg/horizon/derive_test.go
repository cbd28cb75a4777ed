package horizon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retrovue/broadcast-core/pkg/catalog"
	"github.com/retrovue/broadcast-core/pkg/schedule"
)

const blockMs = 30 * 60000

func dayOf(channelID string, slots ...schedule.ResolvedSlot) schedule.ResolvedScheduleDay {
	return schedule.ResolvedScheduleDay{
		ChannelID: channelID,
		Date:      time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		PlanID:    "p1",
		Slots:     slots,
	}
}

func slot(assetID string, startOffsetMs, durationMs int64) schedule.ResolvedSlot {
	return schedule.ResolvedSlot{AssetID: assetID, StartOffsetMs: startOffsetMs, DurationMs: durationMs}
}

func TestDeriveBlocksExactGridFill(t *testing.T) {
	cat := catalog.NewStaticCatalog([]catalog.Asset{
		{ID: "a1", URI: "file:///a1.mp4", DurationMs: 1440 * 60000, State: catalog.StateReady, ApprovedForBroadcast: true},
	})
	day := dayOf("ch1", slot("a1", 0, 1440*60000))

	entries, err := DeriveBlocks(day, 0, blockMs, cat, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 48) // 1440min / 30min

	for i, e := range entries {
		require.Equal(t, int64(i)*blockMs, e.StartUtcMs)
		require.Equal(t, int64(i+1)*blockMs, e.EndUtcMs)
		require.Len(t, e.Segments, 1)
		require.Equal(t, "a1", e.Segments[0].AssetID)
		require.Equal(t, int64(i)*blockMs, e.Segments[0].AssetStartOffsetMs)
		require.Equal(t, int64(blockMs), e.Segments[0].SegmentDurationMs)
	}
	for i := 1; i < len(entries); i++ {
		require.Equal(t, entries[i-1].EndUtcMs, entries[i].StartUtcMs)
	}
}

// An asset spanning 40 minutes from the day origin (kept whole, per
// schedule's no-mid-program-cut invariant) must appear as two segments
// across the two blocks it overlaps, each referencing the same asset at
// a different offset.
func TestDeriveBlocksSplitsLongSlotAcrossBlocks(t *testing.T) {
	cat := catalog.NewStaticCatalog([]catalog.Asset{
		{ID: "long", URI: "file:///long.mp4", DurationMs: 40 * 60000, State: catalog.StateReady, ApprovedForBroadcast: true},
		{ID: "rest", URI: "file:///rest.mp4", DurationMs: 1400 * 60000, State: catalog.StateReady, ApprovedForBroadcast: true},
	})
	day := dayOf("ch1", slot("long", 0, 40*60000), slot("rest", 40*60000, 1400*60000))

	entries, err := DeriveBlocks(day, 0, blockMs, cat, nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 48)

	require.Len(t, entries[0].Segments, 1)
	require.Equal(t, "long", entries[0].Segments[0].AssetID)
	require.Equal(t, int64(0), entries[0].Segments[0].AssetStartOffsetMs)
	require.Equal(t, int64(blockMs), entries[0].Segments[0].SegmentDurationMs)

	require.Len(t, entries[1].Segments, 2)
	require.Equal(t, "long", entries[1].Segments[0].AssetID)
	require.Equal(t, int64(blockMs), entries[1].Segments[0].AssetStartOffsetMs)
	require.Equal(t, int64(10*60000), entries[1].Segments[0].SegmentDurationMs)
	require.Equal(t, "rest", entries[1].Segments[1].AssetID)
	require.Equal(t, int64(0), entries[1].Segments[1].AssetStartOffsetMs)
	require.Equal(t, int64(20*60000), entries[1].Segments[1].SegmentDurationMs)
}

func TestDeriveBlocksUnresolvedAssetFaults(t *testing.T) {
	cat := catalog.NewStaticCatalog(nil)
	day := dayOf("ch1", slot("ghost", 0, 1440*60000))

	_, err := DeriveBlocks(day, 0, blockMs, cat, nil, nil)
	require.Error(t, err)
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, "UNRESOLVED_ASSET_REFERENCE", string(f.Code))
}

func TestDeriveBlocksIneligibleNoFillerFaults(t *testing.T) {
	cat := catalog.NewStaticCatalog([]catalog.Asset{
		{ID: "bad", URI: "file:///bad.mp4", DurationMs: 1440 * 60000, State: catalog.StateRejected, ApprovedForBroadcast: false},
	})
	day := dayOf("ch1", slot("bad", 0, 1440*60000))

	_, err := DeriveBlocks(day, 0, blockMs, cat, nil, nil)
	require.Error(t, err)
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, "INELIGIBLE_ASSET", string(f.Code))
}

func TestDeriveBlocksIneligibleFallsBackToFiller(t *testing.T) {
	cat := catalog.NewStaticCatalog([]catalog.Asset{
		{ID: "bad", URI: "file:///bad.mp4", DurationMs: 1440 * 60000, State: catalog.StateRejected, ApprovedForBroadcast: false},
		{ID: "filler", URI: "file:///filler.mp4", DurationMs: 1440 * 60000, State: catalog.StateReady, ApprovedForBroadcast: true},
	})
	fillerAsset, _ := cat.Lookup("filler")
	policy := catalog.NewStaticFillerPolicy(map[catalog.ZoneID]catalog.Asset{DefaultFillerZone: fillerAsset})
	day := dayOf("ch1", slot("bad", 0, 1440*60000))

	entries, err := DeriveBlocks(day, 0, blockMs, cat, policy, nil)
	require.NoError(t, err)
	require.Equal(t, "filler", entries[0].Segments[0].AssetID)
}

func TestDeriveBlocksRejectsBadBlockSize(t *testing.T) {
	cat := catalog.NewStaticCatalog(nil)
	day := dayOf("ch1")
	_, err := DeriveBlocks(day, 0, 7*60000, cat, nil, nil)
	require.Error(t, err)
}
