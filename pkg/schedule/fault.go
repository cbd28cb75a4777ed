package schedule

import (
	"fmt"

	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// PlanningFault is the typed error for every planning-fault the compiler can
// raise: coverage gap, overlap, grid misalignment, ineligible
// asset, seam overlap. The day is never partially emitted when this is
// returned; validation gates the single atomic emit.
type PlanningFault struct {
	Code     telemetry.Code
	Interval string // offending interval/slot, for diagnostics
	Detail   string
}

func (f *PlanningFault) Error() string {
	if f.Interval != "" {
		return fmt.Sprintf("planning fault %s: %s (%s)", f.Code, f.Detail, f.Interval)
	}
	return fmt.Sprintf("planning fault %s: %s", f.Code, f.Detail)
}

func faultf(code telemetry.Code, interval, format string, args ...any) *PlanningFault {
	return &PlanningFault{Code: code, Interval: interval, Detail: fmt.Sprintf(format, args...)}
}
