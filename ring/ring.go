// ============================================================================
// LOCK-FREE SPSC RING
// ============================================================================
//
// Single-producer/single-consumer ring with sequence-tagged slots, generic
// over its payload. Feeds the journal: the scheduler (one logical producer,
// serialised by the sched lock) pushes events, the flusher goroutine pops
// them.
//
// Sequence semantics:
//   - Producer: slot ready for writing when seq == tail
//   - Producer: publishes with seq = tail + 1
//   - Consumer: data ready when seq == head + 1
//   - Consumer: frees the slot with seq = head + size
//
// Safety model:
//   - SPSC discipline required: one producer, one consumer at a time
//   - Push returns false when full; overflow policy belongs to the caller
//   - Size 1 is rejected: a published slot (seq = t+1) would read as free
//     on the next lap

package ring

import (
	"sync/atomic"
)

// ============================================================================
// CORE DATA STRUCTURES
// ============================================================================

type slot[T any] struct {
	val T
	seq atomic.Uint64
}

// Ring is a fixed-size SPSC queue. Producer and consumer cursors sit on
// separate cache lines.
type Ring[T any] struct {
	_    [64]byte
	head uint64 // consumer cursor

	_    [56]byte
	tail uint64 // producer cursor

	_ [56]byte

	mask uint64
	step uint64
	buf  []slot[T]
}

// ============================================================================
// CONSTRUCTOR
// ============================================================================

// New creates a ring with the given capacity, which must be a power of two
// no smaller than 2.
func New[T any](size int) *Ring[T] {
	if size < 2 || size&(size-1) != 0 {
		panic("ring: size must be >=2 and power of two")
	}

	r := &Ring[T]{
		mask: uint64(size - 1),
		step: uint64(size),
		buf:  make([]slot[T], size),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

// ============================================================================
// PRODUCER OPERATIONS
// ============================================================================

// Push copies v into the next slot. Returns false when the ring is full.
//
//go:nosplit
//go:inline
func (r *Ring[T]) Push(v T) bool {
	t := r.tail
	s := &r.buf[t&r.mask]

	if s.seq.Load() != t {
		return false
	}

	s.val = v
	s.seq.Store(t + 1)
	r.tail = t + 1
	return true
}

// ============================================================================
// CONSUMER OPERATIONS
// ============================================================================

// Pop removes the oldest payload. ok is false when the ring is empty.
//
//go:nosplit
//go:inline
func (r *Ring[T]) Pop() (v T, ok bool) {
	h := r.head
	s := &r.buf[h&r.mask]

	if s.seq.Load() != h+1 {
		return v, false
	}

	v = s.val
	var zero T
	s.val = zero
	s.seq.Store(h + r.step)
	r.head = h + 1
	return v, true
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return int(r.step) }
