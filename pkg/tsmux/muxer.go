// Package tsmux packetizes emitted frames into MPEG-TS: 188-byte packets,
// PES with PTS/DTS, periodic PCR on the video PID, and PAT/PMT refreshed
// frequently enough for fast tune-in. A Muxer is opened once per session
// and never reinitialized across block boundaries; continuity counters and
// table versions run uninterrupted for the session's whole life.
package tsmux

import (
	"fmt"
	"io"

	"github.com/retrovue/broadcast-core/pkg/playout"
	"github.com/retrovue/broadcast-core/pkg/tsmux/scte35cue"
)

const (
	// PacketSize is the fixed MPEG-TS packet length.
	PacketSize = 188
	// SyncByte opens every packet.
	SyncByte = 0x47

	patPID   = 0x0000
	pmtPID   = 0x1000
	videoPID = 0x0100
	audioPID = 0x0101
	cuePID   = 0x01F0

	streamTypeH264   = 0x1B
	streamTypeAAC    = 0x0F
	streamTypeSCTE35 = 0x86

	videoStreamID = 0xE0
	audioStreamID = 0xC0
)

// Config tunes transport cadences. Zero values take the defaults noted per
// field.
type Config struct {
	// PCRIntervalMs spaces PCR stamps on the video PID; default 40,
	// clamped to [20, 100].
	PCRIntervalMs int64
	// PSIIntervalMs spaces PAT/PMT refreshes; default 100.
	PSIIntervalMs int64
	// EnableCues adds an SCTE-35 stream to the PMT and allows
	// WriteAvailCue.
	EnableCues bool
}

func (c Config) withDefaults() Config {
	if c.PCRIntervalMs == 0 {
		c.PCRIntervalMs = 40
	}
	if c.PCRIntervalMs < 20 {
		c.PCRIntervalMs = 20
	}
	if c.PCRIntervalMs > 100 {
		c.PCRIntervalMs = 100
	}
	if c.PSIIntervalMs == 0 {
		c.PSIIntervalMs = 100
	}
	return c
}

// pmtStream is one elementary-stream entry in the PMT.
type pmtStream struct {
	streamType byte
	pid        uint16
}

// Muxer writes one program's transport stream. Not safe for concurrent
// use; the session's consumer goroutine is the single writer.
type Muxer struct {
	w       io.Writer
	cfg     Config
	streams []pmtStream
	cc      map[uint16]uint8

	started    bool
	lastPSIPts int64
	lastPCRPts int64
	cueSeq     uint32
	packets    int64
}

// NewMuxer builds a Muxer writing to w.
func NewMuxer(w io.Writer, cfg Config) *Muxer {
	cfg = cfg.withDefaults()
	streams := []pmtStream{
		{streamTypeH264, videoPID},
		{streamTypeAAC, audioPID},
	}
	if cfg.EnableCues {
		streams = append(streams, pmtStream{streamTypeSCTE35, cuePID})
	}
	return &Muxer{
		w:       w,
		cfg:     cfg,
		streams: streams,
		cc:      make(map[uint16]uint8),
	}
}

// WriteFrame emits one frame: PSI if due, then the video PES (carrying PCR
// when due) and the audio PES. DTS equals PTS — the encode model emits in
// presentation order — which keeps DTS monotone and never above PTS.
func (m *Muxer) WriteFrame(f *playout.Frame) error {
	if !m.started || f.PTS90k-m.lastPSIPts >= m.cfg.PSIIntervalMs*90 {
		if err := m.writePSI(); err != nil {
			return err
		}
		m.lastPSIPts = f.PTS90k
	}
	withPCR := false
	if !m.started || f.PTS90k-m.lastPCRPts >= m.cfg.PCRIntervalMs*90 {
		withPCR = true
		m.lastPCRPts = f.PTS90k
	}
	m.started = true

	if err := m.writePES(videoPID, videoStreamID, f.PTS90k, f.PTS90k, withPCR, f.Video); err != nil {
		return err
	}
	return m.writePES(audioPID, audioStreamID, f.PTS90k, f.PTS90k, false, f.Audio)
}

// WriteAvailCue emits an SCTE-35 splice_insert section marking a block
// fence at the given PTS. It is a no-op unless cues are enabled.
func (m *Muxer) WriteAvailCue(pts90k int64) error {
	if !m.cfg.EnableCues {
		return nil
	}
	m.cueSeq++
	section := scte35cue.FenceCue(uint64(pts90k), m.cueSeq)
	return m.writeSection(cuePID, section)
}

// Close flushes nothing (packets are written eagerly) and exists to let
// the Muxer satisfy the transport-sink contract.
func (m *Muxer) Close() error { return nil }

// Packets reports how many 188-byte packets have been written.
func (m *Muxer) Packets() int64 { return m.packets }

func (m *Muxer) nextCC(pid uint16) uint8 {
	cc := m.cc[pid]
	m.cc[pid] = (cc + 1) & 0x0F
	return cc
}

func (m *Muxer) writePacket(pkt *[PacketSize]byte) error {
	n, err := m.w.Write(pkt[:])
	if err != nil {
		return err
	}
	if n != PacketSize {
		return fmt.Errorf("tsmux: short write: %d of %d bytes", n, PacketSize)
	}
	m.packets++
	return nil
}

// writePSI emits one PAT packet and one PMT packet.
func (m *Muxer) writePSI() error {
	pat := m.sectionPacket(patPID, buildPATSection())
	if err := m.writePacket(&pat); err != nil {
		return err
	}
	pmt := m.sectionPacket(pmtPID, buildPMTSection(m.streams))
	return m.writePacket(&pmt)
}

func (m *Muxer) writeSection(pid uint16, section []byte) error {
	pkt := m.sectionPacket(pid, section)
	return m.writePacket(&pkt)
}

// sectionPacket wraps a PSI/SI section into a single payload-only packet:
// PUSI set, pointer_field 0, 0xFF stuffing after the section.
func (m *Muxer) sectionPacket(pid uint16, section []byte) [PacketSize]byte {
	var pkt [PacketSize]byte
	pkt[0] = SyncByte
	pkt[1] = byte(0x40 | (pid>>8)&0x1F)
	pkt[2] = byte(pid & 0xFF)
	pkt[3] = 0x10 | m.nextCC(pid)
	pkt[4] = 0x00 // pointer_field
	n := copy(pkt[5:], section)
	for i := 5 + n; i < PacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// writePES packetizes one PES packet across as many TS packets as needed.
// The first packet sets PUSI and carries the PCR when requested; a final
// partial packet is topped up with adaptation-field stuffing so every
// packet is exactly 188 bytes.
func (m *Muxer) writePES(pid uint16, streamID byte, pts, dts int64, withPCR bool, payload []byte) error {
	pes := buildPESHeader(streamID, pts, dts, len(payload))
	pes = append(pes, payload...)

	first := true
	for len(pes) > 0 {
		var pkt [PacketSize]byte
		pkt[0] = SyncByte
		pkt[1] = byte((pid >> 8) & 0x1F)
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid & 0xFF)

		var af []byte
		afPresent := false
		if first && withPCR {
			af = appendPCR(nil, uint64(dts))
			afPresent = true
		}

		space := PacketSize - 4 - adaptationWireLen(af, afPresent)
		if stuff := space - len(pes); stuff > 0 {
			af, afPresent = stuffAdaptation(af, afPresent, stuff)
			space = len(pes)
		}

		idx := 4
		if afPresent {
			pkt[3] = 0x30 | m.nextCC(pid) // adaptation field + payload
			pkt[4] = byte(len(af))
			copy(pkt[5:], af)
			idx = 5 + len(af)
		} else {
			pkt[3] = 0x10 | m.nextCC(pid) // payload only
		}
		copy(pkt[idx:], pes[:space])
		pes = pes[space:]
		first = false
		if err := m.writePacket(&pkt); err != nil {
			return err
		}
	}
	return nil
}

// adaptationWireLen is the on-wire cost of an adaptation field: its length
// byte plus contents, or nothing when absent.
func adaptationWireLen(af []byte, present bool) int {
	if !present {
		return 0
	}
	return 1 + len(af)
}

// stuffAdaptation grows (or creates) an adaptation field so that exactly
// `need` fewer payload bytes fit in the packet. A zero-length field costs
// one byte; a non-empty one needs its flags byte before any 0xFF stuffing.
func stuffAdaptation(af []byte, present bool, need int) ([]byte, bool) {
	if !present {
		if need == 1 {
			return nil, true // zero-length field: just the length byte
		}
		af = append(af, 0x00) // flags, no indicators
		need -= 2             // length byte + flags byte
	}
	for i := 0; i < need; i++ {
		af = append(af, 0xFF)
	}
	return af, true
}

// appendPCR writes the adaptation flags byte plus a 6-byte PCR whose base
// is the given 90 kHz value (extension 0).
func appendPCR(af []byte, base90k uint64) []byte {
	base := base90k % (1 << 33)
	af = append(af, 0x10) // PCR flag
	af = append(af,
		byte(base>>25),
		byte(base>>17),
		byte(base>>9),
		byte(base>>1),
		byte(base<<7)|0x7E, // low bit of base, 6 reserved bits
		0x00,               // extension low byte
	)
	return af
}

// buildPESHeader assembles the PES start code, length, and PTS/DTS fields.
// Video carries both PTS and DTS; audio (and any stream where pts == dts
// suffices) still writes both for uniformity.
func buildPESHeader(streamID byte, pts, dts int64, payloadLen int) []byte {
	const headerDataLen = 10 // PTS + DTS, 5 bytes each
	h := make([]byte, 0, 9+headerDataLen)
	h = append(h, 0x00, 0x00, 0x01, streamID)

	pesLen := 3 + headerDataLen + payloadLen
	if pesLen > 0xFFFF {
		pesLen = 0 // unbounded, permitted for video
	}
	h = append(h, byte(pesLen>>8), byte(pesLen))
	h = append(h, 0x80)          // '10', no scrambling, no priority
	h = append(h, 0xC0)          // PTS_DTS_flags = '11'
	h = append(h, headerDataLen) // PES_header_data_length
	h = appendTimestamp(h, 0x3, pts)
	h = appendTimestamp(h, 0x1, dts)
	return h
}

// appendTimestamp writes a 33-bit timestamp in the 5-byte PES encoding
// with the given 4-bit prefix marker.
func appendTimestamp(b []byte, prefix byte, ts int64) []byte {
	v := uint64(ts) % (1 << 33)
	return append(b,
		byte(prefix<<4)|byte((v>>29)&0x0E)|0x01,
		byte(v>>22),
		byte((v>>14)&0xFE)|0x01,
		byte(v>>7),
		byte(v<<1)|0x01,
	)
}
