// Package telemetry defines the closed result-code vocabulary and the
// structured-event surface shared by the core. Every layer (schedule,
// horizon, orchestrator, playout) emits from this vocabulary rather than
// constructing ad hoc strings, so a reader of the logs or metrics never has
// to guess what a code means.
package telemetry

// Code is a result code from the closed vocabulary. It backs both
// telemetry events and the typed errors returned across component
// boundaries.
type Code string

const (
	OK                    Code = "OK"
	ProtocolViolation     Code = "PROTOCOL_VIOLATION"
	StaleBlockFromCore    Code = "STALE_BLOCK_FROM_CORE"
	BlockNotContiguous    Code = "BLOCK_NOT_CONTIGUOUS"
	DuplicateBlock        Code = "DUPLICATE_BLOCK"
	QueueFull             Code = "QUEUE_FULL"
	AssetError            Code = "ASSET_ERROR"
	DecodeError           Code = "DECODE_ERROR"
	LookaheadExhausted    Code = "LOOKAHEAD_EXHAUSTED"
	DriftExceeded         Code = "DRIFT_EXCEEDED"
	SessionTerminated     Code = "SESSION_TERMINATED"
	NonMonotoneGeneration Code = "NON_MONOTONE_GENERATION"
	NonContiguousEntries  Code = "NON_CONTIGUOUS_ENTRIES"
	DurationSumMismatch   Code = "DURATION_SUM_MISMATCH"
	UnresolvedAssetRef    Code = "UNRESOLVED_ASSET_REFERENCE"
	IneligibleAsset       Code = "INELIGIBLE_ASSET"

	// Planning-fault codes, not part of the playout-control
	// closed set above but drawn from the same package so pkg/schedule
	// shares one vocabulary with the rest of the core.
	CoverageGap      Code = "COVERAGE_GAP"
	Overlap          Code = "OVERLAP"
	GridMisalignment Code = "GRID_MISALIGNMENT"
	SeamOverlap      Code = "SEAM_OVERLAP"
)

// severity returns the slog level a code should be logged at.
func (c Code) severity() string {
	switch c {
	case OK:
		return "INFO"
	case ProtocolViolation, StaleBlockFromCore, BlockNotContiguous, DuplicateBlock, QueueFull,
		CoverageGap, Overlap, GridMisalignment, SeamOverlap, UnresolvedAssetRef, IneligibleAsset:
		return "WARN"
	default:
		return "ERROR"
	}
}
