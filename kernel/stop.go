package kernel

import (
	"sync/atomic"

	"smpcore/dpc"
	"smpcore/ici"
)

// ============================================================================
// PROCESS STOP DPC
// ============================================================================
//
// Stopping a process queues a stop DPC on every core (locally, or through a
// ProcessStop ICI). The DPC takes every thread of the process off the core,
// hands each to the scheduler as an AbortedRunningThread and clears the
// core's bit in the ack mask. The core that clears the last bit queues
// ProcessStopAcked; after that no core holds a reference into the process.

type stopState struct {
	pending atomic.Uint64 // cores that still have to run the stop DPC
	acked   bool          // ProcessStopAcked handled; sched lock
}

// ack clears core's bit and reports whether it was the last one.
func (st *stopState) ack(core int) bool {
	bit := uint64(ici.Bit(core))
	for {
		old := st.pending.Load()
		if old&bit == 0 {
			return false
		}
		if st.pending.CompareAndSwap(old, old&^bit) {
			return old&^bit == 0
		}
	}
}

func (c *Core) stopDpc(d *dpc.DPC) dpc.Result {
	p := d.Arg.(*Process)

	for _, t := range c.inbound.Drain() {
		t.setState(ThreadOnCoreLists)
		c.migrated = append(c.migrated, t)
	}

	c.run = c.evict(c.run, p)
	c.ran = c.evict(c.ran, p)
	c.migrated = c.evict(c.migrated, p)
	if t := c.active; t != nil && t.Process == p {
		c.active = nil
		c.abort(t)
	}

	if p.stop.ack(c.id) {
		c.s.QueueItem(&ProcessStopAcked{Process: p})
	}
	return dpc.Done
}

// evict removes p's threads from list, aborting each.
func (c *Core) evict(list []*Thread, p *Process) []*Thread {
	kept := list[:0]
	for _, t := range list {
		if t.Process == p {
			c.abort(t)
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	return kept
}

func (c *Core) abort(t *Thread) {
	t.setState(ThreadInScheduler)
	c.s.QueueItem(&AbortedRunningThread{Thread: t})
}

func (c *Core) onProcessStop(_ int, arg any) {
	c.QueueDpc(dpc.New(c.stopDpc, arg), dpc.High)
}
