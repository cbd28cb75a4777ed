package playout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRingOrderAndCapacity(t *testing.T) {
	r := NewFrameRing(4)
	require.Equal(t, 4, r.Cap())

	for i := 0; i < 4; i++ {
		f := Frame{PTS90k: int64(i), Video: []byte{byte(i)}}
		require.True(t, r.Push(&f))
	}
	// Full ring rejects without overwriting.
	extra := Frame{PTS90k: 99}
	assert.False(t, r.Push(&extra))
	assert.Equal(t, 4, r.Len())

	var f Frame
	for i := 0; i < 4; i++ {
		require.True(t, r.Pop(&f))
		assert.Equal(t, int64(i), f.PTS90k)
		assert.Equal(t, []byte{byte(i)}, f.Video)
	}
	assert.False(t, r.Pop(&f))
}

func TestFrameRingCopiesNotAliases(t *testing.T) {
	r := NewFrameRing(2)
	src := Frame{PTS90k: 1, Video: []byte{1, 2, 3}}
	require.True(t, r.Push(&src))

	// Mutating the producer's frame after Push must not leak through.
	src.Video[0] = 0xFF
	src.PTS90k = 42

	var got Frame
	require.True(t, r.Pop(&got))
	assert.Equal(t, int64(1), got.PTS90k)
	assert.Equal(t, []byte{1, 2, 3}, got.Video)
}

func TestFrameRingRoundsCapacityUp(t *testing.T) {
	assert.Equal(t, 8, NewFrameRing(5).Cap())
	assert.Equal(t, 2, NewFrameRing(1).Cap())
}

func TestFrameRingWrapAround(t *testing.T) {
	r := NewFrameRing(2)
	var f Frame
	for i := 0; i < 10; i++ {
		require.True(t, r.Push(&Frame{PTS90k: int64(i)}))
		require.True(t, r.Pop(&f))
		assert.Equal(t, int64(i), f.PTS90k)
	}
}
