package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/retrovue/broadcast-core/pkg/catalog"
	"github.com/retrovue/broadcast-core/pkg/grid"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

const dayMs = 24 * 3600 * 1000

// CompileRequest bundles the compiler's inputs for one (channel, date).
type CompileRequest struct {
	Plan     SchedulePlan
	Date     dateKey
	DayStart int64 // absolute UTC ms of this broadcast day's start (grid.BroadcastDayStartMs)
	Grid     grid.Spec
	Catalog  catalog.Catalog
	Filler   catalog.FillerPolicy
	// CarryIn is the un-cuttable program continuing from the previous day's
	// terminal slot, or nil if the previous day ended exactly on a boundary.
	CarryIn *CarryState
	Cursors CursorStore
	Sink    *telemetry.Sink
}

// dateKey is a plain civil date used only to seed Rotation determinism and
// to stamp ResolvedScheduleDay.Date; it carries no timezone semantics
// beyond what the caller already resolved into DayStart.
type dateKey struct {
	Year, Month, Day int
}

func (d dateKey) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Compile materializes one broadcast day from a plan and returns the
// resolved day plus the carry-out state for the following day (nil if the
// day ended exactly on the grid). It is side-effect-free except for
// CursorStore advancement (Sequence bookkeeping) and Sink emission
// (filler-substitution violations); it never partially constructs a day on
// fault.
func Compile(req CompileRequest, weekday weekdayFn) (ResolvedScheduleDay, *CarryState, error) {
	zones := activeZones(req.Plan.Zones, weekday(req.Date))
	if err := checkCoverage(zones); err != nil {
		return ResolvedScheduleDay{}, nil, err
	}
	if err := checkGridAlignment(zones, req.DayStart, req.Grid); err != nil {
		return ResolvedScheduleDay{}, nil, err
	}

	sc := selectionContext{
		Catalog:   req.Catalog,
		Filler:    req.Filler,
		Cursors:   req.Cursors,
		Sink:      req.Sink,
		ChannelID: req.Plan.ChannelID,
		Seed:      fmt.Sprintf("%s|%s", req.Plan.ChannelID, req.Date.String()),
	}

	var slots []ResolvedSlot
	var cursor int64
	carryIn := req.CarryIn != nil

	if req.CarryIn != nil {
		dur := req.CarryIn.RemainingMs
		if dur > dayMs {
			dur = dayMs // pathological input guard; never expected in practice
		}
		slots = append(slots, ResolvedSlot{
			AssetID:       req.CarryIn.AssetID,
			PlayOffsetMs:  req.CarryIn.ResumeOffsetMs,
			DurationMs:    dur,
			StartOffsetMs: 0,
		})
		cursor = dur
	}

	var carryOut *CarryState
	for _, z := range zones {
		zoneEndMs := int64(z.EndMin) * 60000
		if cursor >= zoneEndMs {
			continue // fully absorbed by an earlier zone's uncuttable program
		}
		callIndex := 0
		for cursor < zoneEndMs {
			asset, err := sc.pickAsset(z, callIndex)
			callIndex++
			if err != nil {
				return ResolvedScheduleDay{}, nil, faultf(telemetry.IneligibleAsset,
					fmt.Sprintf("[%d,%d)", z.StartMin, z.EndMin), "zone %q: %v", z.ID, err)
			}
			dur := asset.DurationMs
			if asset.HasBreakpoints() {
				if remaining := zoneEndMs - cursor; dur > remaining {
					dur = remaining
				}
			}
			startOffset := cursor
			cursor += dur

			if cursor > dayMs {
				if asset.HasBreakpoints() {
					// Should not happen: breakpoint duration was already
					// capped to the zone, and the day's final zone ends at
					// dayMs, so this branch guards a logic error rather
					// than a real schedule condition.
					return ResolvedScheduleDay{}, nil, faultf(telemetry.SeamOverlap, "",
						"zone %q: breakpointed asset overran day end unexpectedly", z.ID)
				}
				inDay := dayMs - startOffset
				slots = append(slots, ResolvedSlot{
					AssetID:       asset.ID,
					PlayOffsetMs:  0,
					DurationMs:    inDay,
					StartOffsetMs: startOffset,
				})
				carryOut = &CarryState{
					AssetID:        asset.ID,
					ResumeOffsetMs: inDay,
					RemainingMs:    dur - inDay,
				}
				cursor = dayMs
				break
			}

			slots = append(slots, ResolvedSlot{
				AssetID:       asset.ID,
				PlayOffsetMs:  0,
				DurationMs:    dur,
				StartOffsetMs: startOffset,
			})
		}
		if carryOut != nil {
			break
		}
	}

	if cursor != dayMs {
		return ResolvedScheduleDay{}, nil, faultf(telemetry.CoverageGap,
			fmt.Sprintf("[%d,%d)", cursor, dayMs), "resolved slots did not reach day end")
	}

	day := ResolvedScheduleDay{
		ChannelID:          req.Plan.ChannelID,
		Date:               req.Date.Time(),
		PlanID:             req.Plan.PlanID,
		Slots:              slots,
		CarryInFromPrevDay: carryIn,
	}
	return day, carryOut, nil
}

// weekdayFn resolves a dateKey to the weekday the compiler should filter
// zones against. Callers normally supply CivilWeekday, defined alongside
// dateKey's construction helpers.
type weekdayFn func(dateKey) time.Weekday

func activeZones(zones []Zone, weekday time.Weekday) []Zone {
	out := make([]Zone, 0, len(zones))
	for _, z := range zones {
		if z.appliesTo(weekday) {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMin < out[j].StartMin })
	return out
}

func checkCoverage(zones []Zone) error {
	if len(zones) == 0 {
		return faultf(telemetry.CoverageGap, "[0,1440)", "no zones active for this date")
	}
	cursor := 0
	for _, z := range zones {
		if z.StartMin > cursor {
			return faultf(telemetry.CoverageGap, fmt.Sprintf("[%d,%d)", cursor, z.StartMin), "gap before zone %q", z.ID)
		}
		if z.StartMin < cursor {
			return faultf(telemetry.Overlap, fmt.Sprintf("[%d,%d)", z.StartMin, cursor), "zone %q overlaps preceding zone", z.ID)
		}
		if z.EndMin <= z.StartMin {
			return faultf(telemetry.Overlap, fmt.Sprintf("[%d,%d)", z.StartMin, z.EndMin), "zone %q has non-positive span", z.ID)
		}
		cursor = z.EndMin
	}
	if cursor != 1440 {
		return faultf(telemetry.CoverageGap, fmt.Sprintf("[%d,1440)", cursor), "zones do not reach end of day")
	}
	return nil
}

func checkGridAlignment(zones []Zone, dayStart int64, spec grid.Spec) error {
	for i, z := range zones {
		if i == 0 {
			continue // zone 0 always starts at the day origin, never re-validated
		}
		utcMs := dayStart + int64(z.StartMin)*60000
		if !grid.IsAligned(utcMs, spec) {
			return faultf(telemetry.GridMisalignment, fmt.Sprintf("minute %d", z.StartMin),
				"zone %q start is not grid-aligned", z.ID)
		}
	}
	return nil
}
