package telemetry

import "log/slog"

// Event is the structured telemetry record: every intent
// (start, deliver, stop, fence, fail) produces one of these, carrying enough
// correlation data for an operator to reconstruct what happened to a block
// without consulting any other system.
type Event struct {
	ChannelID     string
	CorrelationID string
	BlockID       string
	Code          Code
	GenerationID  uint64
	ReceiptMs     int64
	EffectiveMs   int64
	CompletionMs  int64
	Detail        string
}

// Sink emits events and keeps the matching prometheus counters up to
// date. A Sink is constructed once per session/component and passed in,
// never reached through a package-level global.
type Sink struct {
	logger *slog.Logger
	metric *resultCounters
}

// NewSink builds a Sink bound to the given logger. Pass a distinct logger
// per channel/session (e.g. logger.With("channel_id", id)) so events from
// concurrent sessions interleave cleanly in structured output.
func NewSink(logger *slog.Logger) *Sink {
	return &Sink{logger: logger, metric: defaultCounters}
}

// Emit logs the event at the severity implied by its code and increments
// the matching prometheus counter.
func (s *Sink) Emit(ev Event) {
	attrs := []any{
		"channel_id", ev.ChannelID,
		"correlation_id", ev.CorrelationID,
		"code", string(ev.Code),
	}
	if ev.BlockID != "" {
		attrs = append(attrs, "block_id", ev.BlockID)
	}
	if ev.GenerationID != 0 {
		attrs = append(attrs, "generation_id", ev.GenerationID)
	}
	if ev.ReceiptMs != 0 {
		attrs = append(attrs, "receipt_ms", ev.ReceiptMs)
	}
	if ev.EffectiveMs != 0 {
		attrs = append(attrs, "effective_ms", ev.EffectiveMs)
	}
	if ev.CompletionMs != 0 {
		attrs = append(attrs, "completion_ms", ev.CompletionMs)
	}
	if ev.Detail != "" {
		attrs = append(attrs, "detail", ev.Detail)
	}
	switch ev.Code.severity() {
	case "WARN":
		s.logger.Warn("event", attrs...)
	case "ERROR":
		s.logger.Error("event", attrs...)
	default:
		s.logger.Info("event", attrs...)
	}
	if s.metric != nil {
		s.metric.resultsTotal.WithLabelValues(ev.ChannelID, string(ev.Code)).Inc()
	}
}

// EmitClamp is the dedicated event emitted for every pad-to-CT
// clamp at a segment or block fence.
func (s *Sink) EmitClamp(channelID string, blockID string, boundaryCtMs int64) {
	s.logger.Info("clamp",
		"channel_id", channelID,
		"block_id", blockID,
		"boundary_ct_ms", boundaryCtMs)
	if s.metric != nil {
		s.metric.clampsTotal.WithLabelValues(channelID).Inc()
	}
}
