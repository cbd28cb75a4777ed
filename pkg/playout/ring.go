package playout

import "sync/atomic"

// FrameRing is a single-producer/single-consumer ring of pre-allocated
// Frame slots. The frame router is the only writer, the transport consumer
// the only reader. Head and tail are atomic indices into a fixed arena;
// frames move by copying into a slot, so the hot path allocates nothing
// once the slot buffers have grown to frame size. The ring is never
// flushed on a source switch: the final frame of an outgoing block and the
// first frame of the incoming block sit back to back in the arena.
type FrameRing struct {
	slots []Frame
	mask  uint64
	head  atomic.Uint64 // next slot to read
	tail  atomic.Uint64 // next slot to write
}

// NewFrameRing builds a ring with capacity rounded up to a power of two,
// minimum 2.
func NewFrameRing(capacity int) *FrameRing {
	n := uint64(2)
	for n < uint64(capacity) {
		n <<= 1
	}
	return &FrameRing{slots: make([]Frame, n), mask: n - 1}
}

// Push copies f into the next free slot. It returns false (dropping
// nothing, mutating nothing) when the ring is full; the producer decides
// whether a full ring means drop or terminal fault.
func (r *FrameRing) Push(f *Frame) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() >= uint64(len(r.slots)) {
		return false
	}
	f.copyInto(&r.slots[tail&r.mask])
	r.tail.Store(tail + 1)
	return true
}

// Pop copies the oldest frame into dst, returning false if the ring is
// empty.
func (r *FrameRing) Pop(dst *Frame) bool {
	head := r.head.Load()
	if head == r.tail.Load() {
		return false
	}
	r.slots[head&r.mask].copyInto(dst)
	r.head.Store(head + 1)
	return true
}

// Len reports how many frames are queued.
func (r *FrameRing) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap reports the fixed slot count.
func (r *FrameRing) Cap() int {
	return len(r.slots)
}
