package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/retrovue/broadcast-core/pkg/catalog"
	"github.com/retrovue/broadcast-core/pkg/grid"
)

func newCatalogFor(t *testing.T, assets ...catalog.Asset) *catalog.StaticCatalog {
	t.Helper()
	return catalog.NewStaticCatalog(assets)
}

func asset(id string, durMs int64, breakpoints ...int64) catalog.Asset {
	return catalog.Asset{
		ID:                   id,
		DurationMs:           durMs,
		State:                catalog.StateReady,
		ApprovedForBroadcast: true,
		Breakpoints:          breakpoints,
	}
}

func baseReq(plan SchedulePlan, cat catalog.Catalog) CompileRequest {
	return CompileRequest{
		Plan:     plan,
		Date:     dateKey{2026, 1, 5}, // a Monday
		DayStart: 6 * 3600 * 1000,
		Grid:     grid.Spec{BlockMinutes: 30, StartOffsets: []int{0, 30}, DayStartHour: 6},
		Catalog:  cat,
		Cursors:  NewMapCursorStore(),
	}
}

// S1 — coverage gap is rejected and no day is emitted.
func TestCompileRejectsCoverageGap(t *testing.T) {
	cat := newCatalogFor(t, asset("a1", 30000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 18 * 60, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
			{ID: "z2", StartMin: 20 * 60, EndMin: 24 * 60, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
		},
	}
	_, _, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.Error(t, err)
	var pf *PlanningFault
	require.ErrorAs(t, err, &pf)
	require.Equal(t, "[1080,1200)", pf.Interval)
}

func TestCompileRejectsOverlap(t *testing.T) {
	cat := newCatalogFor(t, asset("a1", 30000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 700, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
			{ID: "z2", StartMin: 690, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
		},
	}
	_, _, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.Error(t, err)
	var pf *PlanningFault
	require.ErrorAs(t, err, &pf)
}

func TestCompileRejectsGridMisalignment(t *testing.T) {
	cat := newCatalogFor(t, asset("a1", 30000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 100, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
			{ID: "z2", StartMin: 100, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
		},
	}
	_, _, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.Error(t, err)
	var pf *PlanningFault
	require.ErrorAs(t, err, &pf)
	require.Equal(t, "GRID_MISALIGNMENT", string(pf.Code))
}

// Fully covered, grid-aligned single zone, asset exactly fills the day.
func TestCompileSingleZoneExactFill(t *testing.T) {
	cat := newCatalogFor(t, asset("a1", 1440*60000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
		},
	}
	day, carryOut, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.NoError(t, err)
	require.Nil(t, carryOut)
	require.Len(t, day.Slots, 1)
	require.Equal(t, int64(1440*60000), day.Slots[0].DurationMs)
}

// An un-cuttable program that doesn't fit a zone absorbs the next block(s).
func TestCompileUncuttableAssetAbsorbsNextBlock(t *testing.T) {
	// Zone z1 is exactly one 30-min grid block [0,30); asset is 40 minutes
	// and has no breakpoints, so it must absorb into z2's first block.
	cat := newCatalogFor(t,
		asset("long", 40*60000),
		asset("filler", 1400*60000),
	)
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 30, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"long"}}},
			{ID: "z2", StartMin: 30, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"filler"}}},
		},
	}
	day, carryOut, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.NoError(t, err)
	require.Nil(t, carryOut)
	require.Equal(t, "long", day.Slots[0].AssetID)
	require.Equal(t, int64(40*60000), day.Slots[0].DurationMs)
	require.Equal(t, "filler", day.Slots[1].AssetID)
	require.Equal(t, int64(40*60000), day.Slots[1].StartOffsetMs)
}

// A program overrunning the broadcast day produces a carry-out for the next day.
func TestCompileCarryOutAtDayEnd(t *testing.T) {
	cat := newCatalogFor(t, asset("a1", 10*60000), asset("tail", 20*60000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 1410, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
			{ID: "z2", StartMin: 1410, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"tail"}}},
		},
	}
	req := baseReq(plan, cat)
	day, carryOut, err := Compile(req, CivilWeekday)
	require.NoError(t, err)
	require.NotNil(t, carryOut)
	require.Equal(t, "tail", carryOut.AssetID)
	require.Equal(t, int64(10*60000), carryOut.RemainingMs)
	last := day.Slots[len(day.Slots)-1]
	require.Equal(t, int64(10*60000), last.DurationMs) // truncated to day end
}

// CarryIn from the previous day is consumed before normal zone processing.
func TestCompileConsumesCarryIn(t *testing.T) {
	cat := newCatalogFor(t, asset("tail", 20*60000), asset("a1", 1430*60000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a1"}}},
		},
	}
	req := baseReq(plan, cat)
	req.CarryIn = &CarryState{AssetID: "tail", ResumeOffsetMs: 10 * 60000, RemainingMs: 10 * 60000}
	day, carryOut, err := Compile(req, CivilWeekday)
	require.NoError(t, err)
	require.Nil(t, carryOut)
	require.True(t, day.CarryInFromPrevDay)
	require.Equal(t, "tail", day.Slots[0].AssetID)
	require.Equal(t, int64(10*60000), day.Slots[0].PlayOffsetMs)
	require.Equal(t, int64(10*60000), day.Slots[0].DurationMs)
	require.Equal(t, "a1", day.Slots[1].AssetID)
	require.Equal(t, int64(10*60000), day.Slots[1].StartOffsetMs)
}

// A day-of-week filter excludes a zone not active for that weekday.
func TestCompileDayOfWeekFilter(t *testing.T) {
	cat := newCatalogFor(t, asset("weekday", 1440*60000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{
				ID: "z1", StartMin: 0, EndMin: 1440,
				DaysOfWeek: []time.Weekday{time.Tuesday}, // Monday in baseReq, so inactive
				Rule:       SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"weekday"}},
			},
		},
	}
	_, _, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.Error(t, err)
}

// Sequence selection persists its cursor across compiles via CursorStore.
func TestSequenceCursorPersistsAcrossCompiles(t *testing.T) {
	cat := newCatalogFor(t, asset("a", 1440*60000), asset("b", 1440*60000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"a", "b"}}},
		},
	}
	cursors := NewMapCursorStore()
	req1 := baseReq(plan, cat)
	req1.Cursors = cursors
	day1, _, err := Compile(req1, CivilWeekday)
	require.NoError(t, err)
	require.Equal(t, "a", day1.Slots[0].AssetID)

	req2 := baseReq(plan, cat)
	req2.Date = dateKey{2026, 1, 6}
	req2.Cursors = cursors
	day2, _, err := Compile(req2, CivilWeekday)
	require.NoError(t, err)
	require.Equal(t, "b", day2.Slots[0].AssetID)
}

// Determinism: identical inputs produce identical output.
func TestCompileDeterministic(t *testing.T) {
	cat := newCatalogFor(t, asset("x", 720*60000), asset("y", 720*60000))
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 720, Rule: SelectionRule{Kind: SelectionRotation, AssetIDs: []string{"x", "y"}}},
			{ID: "z2", StartMin: 720, EndMin: 1440, Rule: SelectionRule{Kind: SelectionRotation, AssetIDs: []string{"x", "y"}}},
		},
	}
	day1, _, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.NoError(t, err)
	day2, _, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.NoError(t, err)
	require.Equal(t, day1.Slots, day2.Slots)
}

// Ineligible asset with no filler is a planning fault.
func TestCompileIneligibleAssetNoFillerFaults(t *testing.T) {
	cat := newCatalogFor(t, catalog.Asset{ID: "bad", State: catalog.StateReady, ApprovedForBroadcast: false, DurationMs: 1440 * 60000})
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"bad"}}},
		},
	}
	_, _, err := Compile(baseReq(plan, cat), CivilWeekday)
	require.Error(t, err)
	var pf *PlanningFault
	require.ErrorAs(t, err, &pf)
	require.Equal(t, "INELIGIBLE_ASSET", string(pf.Code))
}

// Ineligible asset with a filler policy substitutes filler and records a violation.
func TestCompileIneligibleAssetFallsBackToFiller(t *testing.T) {
	bad := catalog.Asset{ID: "bad", State: catalog.StateReady, ApprovedForBroadcast: false}
	fillerAsset := asset("filler", 1440*60000)
	cat := newCatalogFor(t, bad, fillerAsset)
	policy := catalog.NewStaticFillerPolicy(map[catalog.ZoneID]catalog.Asset{"z1": fillerAsset})
	plan := SchedulePlan{
		ChannelID: "ch1",
		Zones: []Zone{
			{ID: "z1", StartMin: 0, EndMin: 1440, Rule: SelectionRule{Kind: SelectionSequence, AssetIDs: []string{"bad"}}},
		},
	}
	req := baseReq(plan, cat)
	req.Filler = policy
	day, _, err := Compile(req, CivilWeekday)
	require.NoError(t, err)
	require.Equal(t, "filler", day.Slots[0].AssetID)
}
