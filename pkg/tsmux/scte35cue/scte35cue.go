// Package scte35cue builds SCTE-35 splice_info_section payloads for the
// avail markers emitted at block fences. The engine never acts on a cue
// itself; the section only tells a downstream splicer where a boundary
// falls.
package scte35cue

import (
	"github.com/Comcast/gots/v2"
	"github.com/Comcast/gots/v2/scte35"
)

// SpliceInsertParams carries the fields of one splice_insert command.
type SpliceInsertParams struct {
	PtsTime                    uint64
	Duration                   uint64
	SpliceEventID              uint32
	Tier                       uint16
	UniqueProgramID            uint16
	AvailNum                   uint8
	AvailsExpected             uint8
	SpliceEventCancelIndicator bool
	OutOfNetworkIndicator      bool
	SpliceImmediateFlag        bool
	AutoReturn                 bool
}

// SpliceInsertPayload builds a complete splice_info_section, CRC included.
func SpliceInsertPayload(p SpliceInsertParams) []byte {
	s := scte35.CreateSCTE35()
	s.SetTier(p.Tier)
	cmd := scte35.CreateSpliceInsertCommand()
	cmd.SetUniqueProgramId(p.UniqueProgramID)
	cmd.SetEventID(p.SpliceEventID)
	cmd.SetAvailNum(p.AvailNum)
	cmd.SetAvailsExpected(p.AvailsExpected)
	cmd.SetIsEventCanceled(p.SpliceEventCancelIndicator)
	if p.Duration != 0 {
		cmd.SetHasDuration(true)
		cmd.SetDuration(gots.PTS(p.Duration))
		cmd.SetIsAutoReturn(p.AutoReturn)
	}
	cmd.SetHasPTS(true)
	cmd.SetPTS(gots.PTS(p.PtsTime))
	cmd.SetIsOut(p.OutOfNetworkIndicator)
	cmd.SetSpliceImmediate(p.SpliceImmediateFlag)
	s.SetCommandInfo(cmd)
	return s.UpdateData()
}

// FenceCue builds the default boundary marker: an out-of-network
// splice_insert at the given 90 kHz instant with no fixed duration, so the
// downstream splicer returns on the next cue.
func FenceCue(pts90k uint64, eventID uint32) []byte {
	return SpliceInsertPayload(SpliceInsertParams{
		PtsTime:               pts90k % (1 << 33),
		SpliceEventID:         eventID,
		Tier:                  4095,
		OutOfNetworkIndicator: true,
	})
}
