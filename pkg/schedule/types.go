// Package schedule is the plan compiler: it turns a
// channel's editorial SchedulePlan into an immutable ResolvedScheduleDay.
package schedule

import "time"

// SelectionKind is the closed variant for zone asset selection; the
// concrete strategy is fixed when the zone is defined.
type SelectionKind string

const (
	SelectionSequence SelectionKind = "sequence"
	SelectionRotation SelectionKind = "rotation"
	SelectionFiller   SelectionKind = "filler"
)

// SelectionRule picks assets for a zone. Sequence walks AssetIDs in order
// with a cursor persisted across compiles (stable re-compiles). Rotation
// picks a weighted-random entry, seeded from (channel, date, zone) so
// reruns are byte-identical. Filler always defers to
// the catalog's FillerPolicy.
type SelectionRule struct {
	Kind     SelectionKind
	AssetIDs []string
	// Weights parallels AssetIDs for SelectionRotation; a nil/short Weights
	// means uniform weight for the missing entries.
	Weights []int
}

// Zone is an interval within the broadcast day bound to a selection rule.
// StartMin/EndMin are minutes from the broadcast-day start, in [0, 1440].
type Zone struct {
	ID         string
	StartMin   int
	EndMin     int
	DaysOfWeek []time.Weekday // empty means every day
	Rule       SelectionRule
}

// appliesTo reports whether the zone is active on the given weekday.
func (z Zone) appliesTo(day time.Weekday) bool {
	if len(z.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range z.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// SchedulePlan is an ordered set of zones covering the broadcast day for a
// channel; the editorial authority.
type SchedulePlan struct {
	PlanID        string
	ChannelID     string
	Zones         []Zone
	EffectiveFrom time.Time
}

// ResolvedSlot is one materialized slot in a ResolvedScheduleDay: an
// eligible asset with its play offset, duration, and start within the day.
type ResolvedSlot struct {
	AssetID       string
	PlayOffsetMs  int64
	DurationMs    int64
	StartOffsetMs int64 // offset from broadcast-day start, in ms
}

// ResolvedScheduleDay is the immutable, materialized output of the plan
// compiler for one (channel, programming day).
type ResolvedScheduleDay struct {
	ChannelID          string
	Date               time.Time // UTC midnight of the civil date, for weekday/lineage only
	PlanID             string
	Slots              []ResolvedSlot
	CarryInFromPrevDay bool
}

// CarryState describes an un-cuttable program that crosses a broadcast-day
// boundary: the carry-out of one day becomes the carry-in of the next.
type CarryState struct {
	AssetID        string
	ResumeOffsetMs int64 // offset into the asset to resume playing from
	RemainingMs    int64 // remaining duration still owed to this asset
}
