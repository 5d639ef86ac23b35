package kernel

import (
	"smpcore/constants"
	"smpcore/dpc"
)

// ============================================================================
// PER-CORE DISPATCH LOOP
// ============================================================================
//
// One Dispatch call is one pass of the loop:
//
//	drain events ─→ high DPC? ─yes─→ InMonitor
//	                    │no
//	             TrySchedule? ─yes─→ InMonitor
//	                    │no
//	              medium DPC (at most one)
//	                    │
//	               local schedule
//	                    │
//	   masked: new events? ─yes─→ InMonitor
//	                    │no
//	   resume a thread ─→ Running │ low DPC ─→ InMonitor │ Idle
//
// The caller keeps calling while the result is InMonitor, runs the active
// thread on Running and parks the core on Idle until an event arrives. No
// priority loops internally, so one pass is bounded.

// Dispatch runs one pass of the loop.
func (c *Core) Dispatch() CoreState {
	c.state = CoreInMonitor
	c.drainEvents()

	if c.halted {
		c.state = CoreIdle
		return c.state
	}
	if c.dpcs.RunOne(dpc.High) {
		return c.state
	}
	if c.TrySchedule() {
		return c.state
	}
	c.dpcs.RunOne(dpc.Medium)
	c.schedule()

	c.masked.Store(true)
	if !c.events.Empty() {
		c.masked.Store(false)
		return c.state
	}
	if c.resume() {
		c.masked.Store(false)
		c.state = CoreRunning
		return c.state
	}
	c.masked.Store(false)

	if c.dpcs.RunOne(dpc.Low) {
		return c.state
	}
	c.state = CoreIdle
	return c.state
}

// Step runs one Dispatch pass and, if a thread was resumed, one step of its
// program. A syscall returned by the program takes the thread off the core.
func (c *Core) Step() CoreState {
	if c.Dispatch() != CoreRunning {
		return c.state
	}
	t := c.active
	if call := t.prog.Step(t.result); call != nil {
		c.Syscall(call)
	}
	return c.state
}

// TrySchedule enters the global scheduler from this core if work is pending
// and nobody else holds authority.
func (c *Core) TrySchedule() bool {
	return c.s.TryEnterScheduler(c)
}

// ============================================================================
// LOCAL RUN-LIST SCHEDULING
// ============================================================================
//
//	Run       threads still to run this round
//	Ran       threads that used their slice this round
//	Migrated  arrivals from the scheduler, not merged yet
//
// While the active thread has quantum left and Run is non-empty, arrivals
// join Ran and wait for the next round. Once Run empties, Ran and Migrated
// become the new Run and every thread on it gets a fresh slice sized by the
// number of runnable threads.

// Quantum returns the slice for a core with runnable threads.
func Quantum(runnable int) int {
	if runnable <= 0 {
		return constants.QuantumMax
	}
	q := constants.QuantumBudget / runnable
	switch {
	case q < constants.QuantumMin:
		return constants.QuantumMin
	case q > constants.QuantumMax:
		return constants.QuantumMax
	}
	return q
}

func (c *Core) schedule() {
	for _, t := range c.inbound.Drain() {
		t.setState(ThreadOnCoreLists)
		c.migrated = append(c.migrated, t)
	}

	a := c.active
	switch {
	case a != nil && a.quantum > 0 && len(c.run) > 0:
		c.ran = append(c.ran, c.migrated...)
		c.migrated = c.migrated[:0]

	case len(c.run) == 0:
		c.run = append(c.run, c.ran...)
		c.run = append(c.run, c.migrated...)
		c.ran = c.ran[:0]
		c.migrated = c.migrated[:0]

		runnable := len(c.run)
		if a != nil {
			runnable++
		}
		q := Quantum(runnable)
		for _, t := range c.run {
			t.quantum = q
		}
		if a != nil && a.quantum <= 0 && len(c.run) == 0 {
			a.quantum = q
		}
	}

	if a != nil && a.quantum <= 0 && len(c.run) > 0 {
		a.setState(ThreadOnCoreLists)
		c.ran = append(c.ran, a)
		c.active = nil
	}
}

// resume picks the thread to run: the active one, else the head of Run.
func (c *Core) resume() bool {
	if c.active == nil {
		if len(c.run) == 0 {
			return false
		}
		t := c.run[0]
		copy(c.run, c.run[1:])
		c.run[len(c.run)-1] = nil
		c.run = c.run[:len(c.run)-1]

		t.setState(ThreadRunning)
		t.lastCore = c.id
		c.active = t
	}
	c.loadIOPerm(c.active.Process)
	return true
}
