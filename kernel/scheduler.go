// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚙️ GLOBAL SCHEDULER
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: SMP Kernel Core
// Component: Single-writer scheduler with migrating authority
//
// Description:
//   Any core queues requests onto one lock-free list. Whichever core first
//   installs itself in the SchedWord drains the list, orders the batch by
//   timestamp and handles one item at a time under the sched lock: wait
//   engine, timer queue, thread placement, process lifecycle. Threads made
//   runnable are pushed onto their target core's inbound list; cores that
//   received work are sent a wake ICI once the lock is dropped.
//
// Locking:
//   - mu is only taken by the core holding scheduling authority.
//   - mu is never held while sending ICIs or running DPCs.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package kernel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"smpcore/constants"
	"smpcore/debug"
	"smpcore/dpc"
	"smpcore/ici"
	"smpcore/journal"
	"smpcore/kobj"
	"smpcore/lfq"
	"smpcore/status"
	"smpcore/timerq"
	"smpcore/utils"
)

// Clock returns the current scheduler tick.
type Clock interface {
	Now() uint64
}

// MMU is the memory manager as seen by the scheduler and the cores. Calls
// come from any core.
type MMU interface {
	InvalidateTLB(core int, space uint32)
	LoadIOPermissions(core int, space uint32, ports uint64)
	ReleaseSpace(space uint32)
}

// Sink receives one record per handled scheduling item. Record is called
// under the sched lock, so implementations see a single producer.
type Sink interface {
	Record(ev journal.Event)
}

// Options configures New.
type Options struct {
	Cores          int
	Clock          Clock
	Timer          timerq.Armer
	MMU            MMU
	Journal        Sink
	ObjectCapacity int
	EntryCapacity  int
	Seed           uint64
}

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Queued    uint64 // items queued
	Handled   uint64 // items handled
	Entries   uint64 // successful TryEnterScheduler calls
	TimerHits uint64 // timer items fired
	ICISent   [ici.NumTypes]uint64
	ICIMissed uint64
}

// Scheduler is the process-wide scheduling state. One per boot.
type Scheduler struct {
	word     SchedWord
	requests lfq.List[Item]
	inLoop   atomic.Int32

	clock   Clock
	mmu     MMU
	journal Sink
	objs    *kobj.Table
	ici     *ici.Matrix
	cores   []*Core

	nextThread  atomic.Uint32
	nextProcess atomic.Uint32

	queued    atomic.Uint64
	handled   atomic.Uint64
	entries   atomic.Uint64
	timerHits atomic.Uint64

	// Guarded by mu.
	mu        sync.Mutex
	cur       *Core
	timers    *timerq.Queue
	residents []int
	deferred  map[uint32]*Thread
	threads   map[uint32]*Thread
	procs     map[uint32]*Process
	irqs      map[int]kobj.Handle
	wakeMask  ici.Mask
}

// New builds the scheduler and its cores.
func New(opts Options) (*Scheduler, error) {
	if opts.Cores <= 0 || opts.Cores > constants.MaxCores {
		return nil, fmt.Errorf("kernel: %d cores: %w", opts.Cores, status.ErrBadArgument)
	}
	if opts.Clock == nil {
		return nil, fmt.Errorf("kernel: no clock: %w", status.ErrBadArgument)
	}
	if opts.MMU == nil {
		opts.MMU = nopMMU{}
	}
	if opts.ObjectCapacity == 0 {
		opts.ObjectCapacity = constants.DefaultObjectCapacity
	}
	if opts.EntryCapacity == 0 {
		opts.EntryCapacity = constants.DefaultEntryCapacity
	}

	s := &Scheduler{
		clock:     opts.Clock,
		mmu:       opts.MMU,
		journal:   opts.Journal,
		objs:      kobj.New(opts.ObjectCapacity, opts.EntryCapacity, opts.Seed),
		timers:    timerq.New(opts.Timer, opts.Clock.Now()),
		residents: make([]int, opts.Cores),
		deferred:  make(map[uint32]*Thread),
		threads:   make(map[uint32]*Thread),
		procs:     make(map[uint32]*Process),
		irqs:      make(map[int]kobj.Handle),
	}
	s.cores = make([]*Core, opts.Cores)
	for i := range s.cores {
		s.cores[i] = newCore(s, i)
	}
	s.ici = ici.NewMatrix(opts.Cores, func(target int) {
		s.cores[target].Raise(Event{Kind: EventICI})
	})
	return s, nil
}

// Cores returns the cores in id order.
func (s *Scheduler) Cores() []*Core { return s.cores }

// Core returns core id.
func (s *Scheduler) Core(id int) *Core { return s.cores[id] }

// Objects exposes the object table for kernel-side object creation.
func (s *Scheduler) Objects() *kobj.Table { return s.objs }

// Stats snapshots the counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Queued:    s.queued.Load(),
		Handled:   s.handled.Load(),
		Entries:   s.entries.Load(),
		TimerHits: s.timerHits.Load(),
	}
	st.ICISent, st.ICIMissed = s.ici.Stats()
	return st
}

// Owner returns the core holding scheduling authority, -1 if none.
func (s *Scheduler) Owner() int {
	owner, _ := s.word.Load()
	return owner
}

// SendIci sends typ/arg from core src to the cores in mask and returns the
// cores whose slot accepted it. Must run on core src.
func (s *Scheduler) SendIci(src int, mask ici.Mask, typ ici.Type, arg any) ici.Mask {
	return s.ici.Send(src, mask, typ, arg)
}

// ============================================================================
// ARBITRATION
// ============================================================================

// QueueItem submits a request from any core or goroutine.
func (s *Scheduler) QueueItem(it Item) {
	if it == nil {
		debug.Fatal("kernel.QueueItem", "nil item")
	}
	it.stamp().At = s.clock.Now()
	s.requests.Push(it)
	s.word.AddRequest()
	s.queued.Add(1)
}

// TryEnterScheduler makes c the scheduler if nobody is and work is pending,
// runs the loop to completion and returns true. Returns false without
// effect otherwise. Must run on core c.
func (s *Scheduler) TryEnterScheduler(c *Core) bool {
	if !s.word.TryAcquire(c.id) {
		return false
	}
	if s.inLoop.Add(1) != 1 {
		debug.Fatal("kernel.TryEnterScheduler", "two cores hold scheduling authority")
	}
	s.entries.Add(1)
	s.loop(c)
	s.inLoop.Add(-1)
	return true
}

func (s *Scheduler) loop(c *Core) {
	for {
		observed := s.word.Raw()
		batch := s.requests.Drain()

		if len(batch) == 0 {
			s.mu.Lock()
			s.cur = c
			s.advance()
			s.cur = nil
			s.mu.Unlock()
			s.flushWakes(c)

			if c.dpcs.RunOne(dpc.High) {
				continue
			}
			if s.word.TryRelease(observed) {
				return
			}
			continue
		}

		sortItems(batch)
		for _, it := range batch {
			c.dpcs.RunOne(dpc.High)

			s.mu.Lock()
			s.cur = c
			s.handle(it)
			s.cur = nil
			s.mu.Unlock()
			s.handled.Add(1)
		}
		s.flushWakes(c)
	}
}

// flushWakes sends a wake ICI to every core that received a thread. A busy
// slot already holds an undelivered ICI for that core, which wakes it just
// as well.
func (s *Scheduler) flushWakes(c *Core) {
	s.mu.Lock()
	mask := s.wakeMask
	s.wakeMask = 0
	s.mu.Unlock()
	if mask != 0 {
		s.ici.Send(c.id, mask, ici.Wake, nil)
	}
}

// ============================================================================
// ITEM DISPATCH (sched lock held)
// ============================================================================

func (s *Scheduler) handle(it Item) {
	switch it := it.(type) {
	case *ThreadSyscall:
		s.trace(it, it.Thread, status.OK)
		s.handleSyscall(it.Thread)
	case *AbortedRunningThread:
		s.trace(it, it.Thread, status.Aborted)
		s.leave(it.Thread)
		s.terminate(it.Thread, status.Aborted)
	case *TimerFired:
		s.trace(it, nil, status.OK)
		s.advance()
	case *SignalProxy:
		s.trace(it, nil, s.signalProxy(it.Object))
	case *CrashProcess:
		s.traceProcess(it, it.Process, it.Code)
		s.stopProcess(it.Process, it.Code)
	case *DeferredResumeCompleted:
		s.trace(it, it.Thread, status.OK)
		s.resumeDeferred(it.Thread)
	case *CleanupThread:
		s.trace(it, it.Thread, status.OK)
		s.cleanupThread(it.Thread)
	case *CleanupProcess:
		s.traceProcess(it, it.Process, it.Process.exitCode)
		s.cleanupProcess(it.Process)
	case *Interrupt:
		s.trace(it, nil, s.interrupt(it.Line))
	case *ProcessStopAcked:
		s.traceProcess(it, it.Process, status.OK)
		it.Process.stop.acked = true
		s.maybeStopped(it.Process)
	case *LaunchProcess:
		s.traceProcess(it, it.Process, status.OK)
		s.launch(it.Process)
	default:
		debug.Fatal("kernel.handle", "unknown scheduling item "+itemName(it))
	}
}

func (s *Scheduler) trace(it Item, t *Thread, code status.Code) {
	if s.journal == nil {
		return
	}
	ev := journal.Event{
		Tick:   s.clock.Now(),
		Queued: it.stamp().At,
		Core:   s.cur.id,
		Kind:   itemName(it),
		Status: code.String(),
	}
	if t != nil {
		ev.Thread = t.ID
		ev.Process = t.Process.ID
	}
	s.journal.Record(ev)
}

func (s *Scheduler) traceProcess(it Item, p *Process, code status.Code) {
	if s.journal == nil {
		return
	}
	s.journal.Record(journal.Event{
		Tick:    s.clock.Now(),
		Queued:  it.stamp().At,
		Core:    s.cur.id,
		Kind:    itemName(it),
		Process: p.ID,
		Status:  code.String(),
	})
}

// ============================================================================
// TIMERS (sched lock held)
// ============================================================================

func (s *Scheduler) advance() {
	s.timers.AdvanceTo(s.clock.Now(), s.fire)
}

func (s *Scheduler) fire(it *timerq.Item) {
	s.timerHits.Add(1)
	switch it.Kind {
	case timerq.KindWaitTimeout:
		t := s.threads[it.Owner]
		if t == nil || t.wait == nil || t.state != ThreadWaiting {
			debug.Fatal("kernel.fire", "wait timeout for thread "+utils.Utoa(uint64(it.Owner))+" not waiting")
		}
		s.completeWait(t, status.Timeout, -1)
	case timerq.KindAlarm:
		s.alarmFired(kobj.Handle(it.Owner))
	default:
		debug.Fatal("kernel.fire", "unknown timer kind")
	}
}

// ============================================================================
// INTERRUPTS (sched lock held)
// ============================================================================

func (s *Scheduler) interrupt(line int) status.Code {
	h, ok := s.irqs[line]
	if !ok {
		return status.NotFound
	}
	if s.objs.SetGate(h, true) {
		s.propagate(h)
	}
	return status.OK
}

func (s *Scheduler) signalProxy(tok kobj.Token) status.Code {
	h, err := s.objs.AcquireToken(tok)
	if err != nil {
		return status.FromError(err)
	}
	defer s.objs.Release(h)

	switch s.objs.Kind(h) {
	case kobj.KindNotify:
		s.objs.Signal(h)
		s.propagate(h)
	case kobj.KindGate, kobj.KindIrqGate:
		if s.objs.SetGate(h, true) {
			s.propagate(h)
		}
	default:
		return status.BadArgument
	}
	return status.OK
}

type nopMMU struct{}

func (nopMMU) InvalidateTLB(int, uint32)             {}
func (nopMMU) LoadIOPermissions(int, uint32, uint64) {}
func (nopMMU) ReleaseSpace(uint32)                   {}
