package playout

import (
	"fmt"
	"hash/fnv"
	"io"
)

// Decoder is the narrow interface behind which the real demux/decode/scale
// toolchain sits. The engine never sees codec detail: it opens an asset,
// seeks to a millisecond offset, and pulls raster frames until io.EOF.
// Implementations must decode only when asked (pull model).
type Decoder interface {
	Open(uri string) error
	Seek(offsetMs int64) error
	// NextFrame decodes one frame into dst, returning io.EOF when the asset
	// is out of content. dst's buffers are reused across calls.
	NextFrame(dst *Frame) error
	Close() error
}

// DecoderFactory builds one Decoder per asset open. A source calls it each
// time a segment transition switches to a new asset URI.
type DecoderFactory func() Decoder

// SyntheticDecoder generates deterministic pseudo-random video and audio
// bytes seeded from the asset URI and frame number, so the engine can run end to end without a
// real codec toolchain. Asset lengths come from the Durations table; a URI
// missing from the table decodes forever.
type SyntheticDecoder struct {
	FPS       int
	VideoLen  int
	AudioLen  int
	Durations map[string]int64

	uri    string
	posMs  int64
	frames int64
	open   bool
}

// NewSyntheticDecoderFactory returns a DecoderFactory producing
// SyntheticDecoders sharing one duration table.
func NewSyntheticDecoderFactory(fps int, durations map[string]int64) DecoderFactory {
	return func() Decoder {
		return &SyntheticDecoder{FPS: fps, VideoLen: 64, AudioLen: 16, Durations: durations}
	}
}

func (d *SyntheticDecoder) Open(uri string) error {
	if uri == "" {
		return fmt.Errorf("synthetic decoder: empty uri")
	}
	d.uri = uri
	d.posMs = 0
	d.frames = 0
	d.open = true
	return nil
}

func (d *SyntheticDecoder) Seek(offsetMs int64) error {
	if !d.open {
		return fmt.Errorf("synthetic decoder: seek before open")
	}
	if offsetMs < 0 {
		return fmt.Errorf("synthetic decoder: negative seek offset %d", offsetMs)
	}
	d.posMs = offsetMs
	d.frames = offsetMs * int64(d.FPS) / 1000
	return nil
}

func (d *SyntheticDecoder) NextFrame(dst *Frame) error {
	if !d.open {
		return fmt.Errorf("synthetic decoder: read before open")
	}
	if dur, ok := d.Durations[d.uri]; ok && d.posMs >= dur {
		return io.EOF
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", d.uri, d.frames)
	seed := h.Sum64()

	dst.Pad = false
	dst.Video = fillPattern(dst.Video, d.VideoLen, seed)
	dst.Audio = fillPattern(dst.Audio, d.AudioLen, seed^0xA5A5A5A5)
	d.frames++
	d.posMs = d.frames * 1000 / int64(d.FPS)
	return nil
}

func (d *SyntheticDecoder) Close() error {
	d.open = false
	return nil
}

// fillPattern writes a deterministic byte pattern, reusing b's capacity.
func fillPattern(b []byte, n int, seed uint64) []byte {
	if cap(b) < n {
		b = make([]byte, n)
	}
	b = b[:n]
	s := seed
	for i := range b {
		s = s*6364136223846793005 + 1442695040888963407
		b[i] = byte(s >> 56)
	}
	return b
}
