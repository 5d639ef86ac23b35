// ════════════════════════════════════════════════════════════════════════════════════════════════
// 🧠 CORE CONTEXT
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: SMP Kernel Core
// Component: Per-core state and event intake
//
// Description:
//   Everything one core owns: its three DPC queues, the pending event list
//   any producer can push to, the run/ran/migrated lists, the active thread
//   and the inbound list the scheduler pushes migrated threads onto.
//
// Ownership:
//   - events and inbound are lock-free lists; anyone may push.
//   - Every other field belongs to the goroutine currently driving the core.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package kernel

import (
	"sync/atomic"

	"smpcore/dpc"
	"smpcore/ici"
	"smpcore/lfq"
)

// CoreState is what the dispatch loop left the core doing.
type CoreState uint8

const (
	CoreIdle      CoreState = iota // nothing to run; park until the next event
	CoreInMonitor                  // kernel work pending; call Dispatch again
	CoreRunning                    // the active thread is resumed
)

func (s CoreState) String() string {
	switch s {
	case CoreIdle:
		return "idle"
	case CoreInMonitor:
		return "in-monitor"
	case CoreRunning:
		return "running"
	}
	return "invalid"
}

// EventKind tags a pending core event.
type EventKind uint8

const (
	EventTick  EventKind = iota // periodic tick: charges the active thread
	EventICI                    // an ICI slot addressed to this core is full
	EventIRQ                    // device interrupt on Line
	EventTimer                  // the scheduling timer expired
)

// Event is one hardware or software interrupt latched for a core.
type Event struct {
	Kind EventKind
	Line int
}

// Core is one processor.
type Core struct {
	id int
	s  *Scheduler

	dpcs     dpc.Set
	events   lfq.List[Event]
	inbound  lfq.List[*Thread]
	handlers ici.Handlers

	run      []*Thread
	ran      []*Thread
	migrated []*Thread
	active   *Thread

	state     CoreState
	masked    atomic.Bool
	halted    bool
	ticks     uint64
	ioSpace   uint32
	ioVersion uint64

	waker func()
}

func newCore(s *Scheduler, id int) *Core {
	c := &Core{id: id, s: s}
	c.handlers[ici.Wake] = func(int, any) {}
	c.handlers[ici.TLBInvalidate] = c.onTLBInvalidate
	c.handlers[ici.ProcessStop] = c.onProcessStop
	c.handlers[ici.IOPermUpdate] = c.onIOPermUpdate
	c.handlers[ici.DebugCommand] = c.onDebugCommand
	return c
}

// ID returns the core id.
func (c *Core) ID() int { return c.id }

// State returns the state left by the last Dispatch.
func (c *Core) State() CoreState { return c.state }

// Active returns the thread currently resumed on the core, if any.
func (c *Core) Active() *Thread { return c.active }

// Halted reports whether a debug command stopped the core.
func (c *Core) Halted() bool { return c.halted }

// Ticks returns the ticks the core has seen.
func (c *Core) Ticks() uint64 { return c.ticks }

// Queued returns the threads on the run, ran and migrated lists.
func (c *Core) Queued() int { return len(c.run) + len(c.ran) + len(c.migrated) }

// SetWaker installs the callback Raise uses to kick an idle core.
func (c *Core) SetWaker(fn func()) { c.waker = fn }

// Raise latches ev for the core. Safe from any goroutine.
func (c *Core) Raise(ev Event) {
	c.events.Push(ev)
	if c.waker != nil {
		c.waker()
	}
}

// QueueDpc queues d at priority p. Must run on this core.
func (c *Core) QueueDpc(d *dpc.DPC, p dpc.Priority) {
	c.dpcs.Queue(d, p)
}

// Syscall takes the active thread off the core and hands it to the
// scheduler with call attached.
func (c *Core) Syscall(call Syscall) {
	t := c.active
	if t == nil {
		return
	}
	c.active = nil
	t.call = call
	t.setState(ThreadInScheduler)
	c.s.QueueItem(&ThreadSyscall{Thread: t})
}

// drainEvents takes every latched event with interrupts masked and handles
// them unmasked.
func (c *Core) drainEvents() bool {
	c.masked.Store(true)
	evs := c.events.Drain()
	c.masked.Store(false)

	iciRaised := false
	for _, ev := range evs {
		switch ev.Kind {
		case EventTick:
			c.ticks++
			if t := c.active; t != nil {
				t.quantum--
				t.ticks++
			}
		case EventICI:
			iciRaised = true
		case EventIRQ:
			c.s.QueueItem(&Interrupt{Line: ev.Line})
		case EventTimer:
			c.s.QueueItem(&TimerFired{})
		}
	}
	// One receive clears every slot, so raises that arrived together are
	// served once. A raise whose slot an earlier pass already cleared finds
	// nothing pending.
	if iciRaised && c.s.ici.Pending(c.id) {
		c.s.ici.Receive(c.id, &c.handlers)
	}
	return len(evs) > 0
}

// loadIOPerm loads p's port bitmap if the core holds a stale one.
func (c *Core) loadIOPerm(p *Process) {
	v := p.ioVersion.Load()
	if c.ioSpace == p.ID && c.ioVersion == v {
		return
	}
	c.s.mmu.LoadIOPermissions(c.id, p.ID, p.ioPorts.Load())
	c.ioSpace, c.ioVersion = p.ID, v
}
