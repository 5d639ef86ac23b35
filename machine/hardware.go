// ════════════════════════════════════════════════════════════════════════════════════════════════
// Simulated Hardware
// Component: clock, scheduling timer and MMU
//
// Description:
//   The pieces of the platform the kernel core consumes through interfaces. Every field is an
//   atomic: the tick source, the core runners and the scheduler owner touch them concurrently.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package machine

import (
	"sync/atomic"
)

// ============================================================================
// CLOCK
// ============================================================================

// Clock counts scheduler ticks since boot.
type Clock struct {
	ticks atomic.Uint64
}

// Now returns the current tick.
//
//go:nosplit
//go:inline
func (c *Clock) Now() uint64 { return c.ticks.Load() }

// Advance moves the clock one tick forward and returns the new tick.
//
//go:nosplit
//go:inline
func (c *Clock) Advance() uint64 { return c.ticks.Add(1) }

// ============================================================================
// SCHEDULING TIMER
// ============================================================================

// disarmed marks an idle comparator. No real deadline reaches it.
const disarmed = ^uint64(0)

// Timer is a one-shot comparator against the clock. The timer queue arms it
// for its head deadline; the tick source polls it.
type Timer struct {
	deadline atomic.Uint64
	fired    atomic.Uint64
}

// NewTimer returns a disarmed timer.
func NewTimer() *Timer {
	t := &Timer{}
	t.deadline.Store(disarmed)
	return t
}

// Arm sets the comparator. A deadline already in the past fires on the next
// poll.
func (t *Timer) Arm(deadline uint64) { t.deadline.Store(deadline) }

// Disarm clears the comparator.
func (t *Timer) Disarm() { t.deadline.Store(disarmed) }

// Deadline returns the armed deadline and whether the timer is armed.
func (t *Timer) Deadline() (uint64, bool) {
	d := t.deadline.Load()
	return d, d != disarmed
}

// Fired returns how many times the comparator matched.
func (t *Timer) Fired() uint64 { return t.fired.Load() }

// Poll reports whether the comparator matched at now and disarms it if so.
// A concurrent re-arm wins over the match.
func (t *Timer) Poll(now uint64) bool {
	d := t.deadline.Load()
	if d == disarmed || now < d {
		return false
	}
	if !t.deadline.CompareAndSwap(d, disarmed) {
		return false
	}
	t.fired.Add(1)
	return true
}

// ============================================================================
// MMU
// ============================================================================

// MMU counts the address-space operations the kernel requests and records
// the last I/O permission bitmap loaded per core.
type MMU struct {
	flushes  atomic.Uint64
	loads    atomic.Uint64
	releases atomic.Uint64
	ports    []atomic.Uint64
}

// NewMMU sizes the per-core permission registers.
func NewMMU(cores int) *MMU {
	return &MMU{ports: make([]atomic.Uint64, cores)}
}

// InvalidateTLB drops the translations of space on core.
func (m *MMU) InvalidateTLB(core int, space uint32) { m.flushes.Add(1) }

// LoadIOPermissions loads the port bitmap of space into core.
func (m *MMU) LoadIOPermissions(core int, space uint32, ports uint64) {
	m.ports[core].Store(ports)
	m.loads.Add(1)
}

// ReleaseSpace frees the address space.
func (m *MMU) ReleaseSpace(space uint32) { m.releases.Add(1) }

// Ports returns the bitmap currently loaded on core.
func (m *MMU) Ports(core int) uint64 { return m.ports[core].Load() }

// Counters returns the flush, load and release counts.
func (m *MMU) Counters() (flushes, loads, releases uint64) {
	return m.flushes.Load(), m.loads.Load(), m.releases.Load()
}
