package horizon

import (
	"context"
	"time"

	"github.com/retrovue/broadcast-core/pkg/grid"
	"github.com/retrovue/broadcast-core/pkg/schedule"
	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// Materialize compiles any resolved days the channel is missing between
// today's broadcast day and the configured lead, threading carry state
// from day to day so an un-cuttable program crossing midnight resumes
// where it left off. It returns how many days were compiled. A planning
// fault stops the pass with no day emitted for the faulty date; already
// materialized days are left untouched.
func (m *Manager) Materialize(ctx context.Context, channelID string) (int, error) {
	ch, ok := m.channel(channelID)
	if !ok {
		return 0, faultf(telemetry.ProtocolViolation, channelID, "channel not registered with the horizon manager")
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.cfg.Plans == nil {
		return 0, nil // resolved days are provided externally
	}

	lead := ch.cfg.LeadDays
	if lead <= 0 {
		lead = 3
	}
	todayStart := grid.BroadcastDayStartMs(m.clk.NowUTCMs(), ch.cfg.Grid)

	made := 0
	for d := 0; d <= lead; d++ {
		if err := ctx.Err(); err != nil {
			return made, err
		}
		dayStart := todayStart + int64(d)*dayMs
		date := schedule.NewDateKey(time.UnixMilli(dayStart).UTC())
		if _, exists := ch.cfg.Resolved.Get(channelID, date); exists {
			continue
		}
		plan, ok := ch.cfg.Plans.ActivePlan(date)
		if !ok {
			continue // no editorial authority for this date yet
		}

		var carryIn *schedule.CarryState
		if ch.carry != nil && ch.carryIntoDayStart == dayStart {
			carryIn = ch.carry
		}

		day, carryOut, err := schedule.Compile(schedule.CompileRequest{
			Plan:     plan,
			Date:     date,
			DayStart: dayStart,
			Grid:     ch.cfg.Grid,
			Catalog:  ch.cfg.Catalog,
			Filler:   ch.cfg.Filler,
			CarryIn:  carryIn,
			Cursors:  ch.cfg.Cursors,
			Sink:     m.sink,
		}, schedule.CivilWeekday)
		if err != nil {
			return made, err
		}
		if err := ch.cfg.Resolved.Put(day, schedule.PutOptions{}); err != nil {
			return made, err
		}
		ch.carry = carryOut
		ch.carryIntoDayStart = dayStart + dayMs
		made++
	}
	return made, nil
}
