package kernel

import "sync/atomic"

// ============================================================================
// SCHEDULING AUTHORITY WORD
// ============================================================================
//
// One 64-bit word arbitrates which core runs the global scheduler:
//
//	bits  0..31  pending request count (bumped by every QueueItem)
//	bits 32..63  owner core id + 1, 0 while nobody owns scheduling
//
// A core takes authority by installing its id while preserving the count and
// gives it back by swapping the exact word it last observed for zero. A
// request queued in between changes the count, the release CAS fails and the
// owner loops again, so no request is stranded.

const ownerShift = 32

// SchedWord is the typed wrapper around the request/owner word.
type SchedWord struct {
	v atomic.Uint64
}

func encodeWord(owner int, count uint32) uint64 {
	if owner < 0 {
		return uint64(count)
	}
	return uint64(owner+1)<<ownerShift | uint64(count)
}

func decodeWord(w uint64) (owner int, count uint32) {
	return int(w>>ownerShift) - 1, uint32(w)
}

// Load returns the owner core (-1 when unowned) and the pending count.
//
//go:nosplit
//go:inline
func (w *SchedWord) Load() (owner int, count uint32) {
	return decodeWord(w.v.Load())
}

// Raw returns the packed word for a later TryRelease.
//
//go:nosplit
//go:inline
func (w *SchedWord) Raw() uint64 { return w.v.Load() }

// AddRequest counts one queued request. The owner bits are untouched; a
// count wrapping past 2^32 would carry into them, which the drain at every
// release keeps out of reach.
//
//go:nosplit
//go:inline
func (w *SchedWord) AddRequest() { w.v.Add(1) }

// TryAcquire installs core as owner. Fails when another core owns the word
// or nothing is pending.
func (w *SchedWord) TryAcquire(core int) bool {
	for {
		old := w.v.Load()
		owner, count := decodeWord(old)
		if owner >= 0 || count == 0 {
			return false
		}
		if w.v.CompareAndSwap(old, encodeWord(core, count)) {
			return true
		}
	}
}

// TryRelease drops ownership if the word still equals observed.
func (w *SchedWord) TryRelease(observed uint64) bool {
	return w.v.CompareAndSwap(observed, 0)
}
