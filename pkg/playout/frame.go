// Package playout is the per-channel playout engine: a tick-driven output
// controller that pulls decoded frames from an active source, pads with
// black and silence when no frame is available, and hands every frame to a
// transport sink with a PTS derived from the session frame counter. Output
// never stalls and never rewinds; a session that cannot continue terminates.
package playout

// Frame is one decoded frame of audio+video in the target raster. The ring
// buffer pre-allocates the byte slices once; frames move between producer
// and consumer by copying into a slot, never by handing over pointers.
type Frame struct {
	PTS90k int64
	CtMs   int64
	// Pad marks a black+silence frame emitted where no content frame was
	// available (underrun, fence wait).
	Pad bool
	// Cue marks the first frame of a newly promoted block; the transport
	// side turns it into an avail marker when cue signaling is on.
	Cue   bool
	Video []byte
	Audio []byte
}

// copyInto copies f's contents into dst, reusing dst's buffers.
func (f *Frame) copyInto(dst *Frame) {
	dst.PTS90k = f.PTS90k
	dst.CtMs = f.CtMs
	dst.Pad = f.Pad
	dst.Cue = f.Cue
	dst.Video = append(dst.Video[:0], f.Video...)
	dst.Audio = append(dst.Audio[:0], f.Audio...)
}

// makePad overwrites f with a black+silence pad frame at the given PTS/CT.
// Video and audio payloads are zeroed in place, keeping their capacity.
func (f *Frame) makePad(pts90k, ctMs int64, videoLen, audioLen int) {
	f.PTS90k = pts90k
	f.CtMs = ctMs
	f.Pad = true
	f.Video = zeroed(f.Video, videoLen)
	f.Audio = zeroed(f.Audio, audioLen)
}

func zeroed(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}
	b = b[:n]
	for i := range b {
		b[i] = 0
	}
	return b
}
