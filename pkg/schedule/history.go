package schedule

import (
	"sort"
	"sync"
)

// PlanHistory is an effective-dated list of SchedulePlan versions for one
// channel: Compile
// always uses the single plan whose EffectiveFrom is the latest one on or
// before the programming_day_date, so a ResolvedScheduleDay's PlanID is
// always traceable without back-pointers.
type PlanHistory struct {
	mu    sync.Mutex
	plans []SchedulePlan // sorted by EffectiveFrom ascending
}

// NewPlanHistory builds an empty PlanHistory.
func NewPlanHistory() *PlanHistory {
	return &PlanHistory{}
}

// Add inserts a plan version, keeping the history sorted by EffectiveFrom.
func (h *PlanHistory) Add(p SchedulePlan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.plans = append(h.plans, p)
	sort.Slice(h.plans, func(i, j int) bool {
		return h.plans[i].EffectiveFrom.Before(h.plans[j].EffectiveFrom)
	})
}

// ActivePlan returns the plan effective on date, or false if no plan has an
// EffectiveFrom on or before it.
func (h *PlanHistory) ActivePlan(date dateKey) (SchedulePlan, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	at := date.Time()
	var best *SchedulePlan
	for i := range h.plans {
		p := h.plans[i]
		if !p.EffectiveFrom.After(at) {
			best = &h.plans[i]
		}
	}
	if best == nil {
		return SchedulePlan{}, false
	}
	return *best, true
}
