package horizon

import (
	"fmt"

	"github.com/retrovue/broadcast-core/pkg/telemetry"
)

// Fault is the horizon layer's typed error: a publish rejection or
// derivation failure carrying one of the closed result codes. Mutation
// never partially applies on a Fault; rejection is synchronous with no
// side effect.
type Fault struct {
	Code      telemetry.Code
	ChannelID string
	Detail    string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("horizon: %s: channel %q: %s", f.Code, f.ChannelID, f.Detail)
}

func faultf(code telemetry.Code, channelID, format string, args ...any) *Fault {
	return &Fault{Code: code, ChannelID: channelID, Detail: fmt.Sprintf(format, args...)}
}
