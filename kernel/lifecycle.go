package kernel

import (
	"errors"
	"fmt"

	"smpcore/debug"
	"smpcore/dpc"
	"smpcore/ici"
	"smpcore/kobj"
	"smpcore/status"
)

// ============================================================================
// PROCESS CONSTRUCTION (creator goroutine, before launch)
// ============================================================================
//
// A process is private to its creator until LaunchProcess publishes it, so
// building it needs no sched lock.

var errNotBuilding = errors.New("process is not being built")

// CreateProcess allocates a process in InRawCreate.
func (s *Scheduler) CreateProcess(name string) (*Process, error) {
	id := s.nextProcess.Add(1)
	h, err := s.objs.NewTerminal(kobj.KindProcess, id)
	if err != nil {
		return nil, fmt.Errorf("kernel: create process %q: %w", name, err)
	}
	return &Process{
		ID:      id,
		Name:    name,
		state:   ProcessInRawCreate,
		threads: make(map[uint32]*Thread),
		owned:   make(map[kobj.Handle]struct{}),
		obj:     h,
		token:   s.objs.Token(h),
	}, nil
}

// AddThread adds a thread to a process that has not been launched. A zero
// affinity permits every core.
func (s *Scheduler) AddThread(p *Process, prog Program, affinity ici.Mask) (*Thread, error) {
	if p.state != ProcessInRawCreate && p.state != ProcessInBuild {
		return nil, fmt.Errorf("kernel: add thread to %q: %w", p.Name, errNotBuilding)
	}
	if p.state == ProcessInRawCreate {
		p.setState(ProcessInBuild)
	}
	t, err := s.newThread(p, prog, affinity)
	if err != nil {
		return nil, fmt.Errorf("kernel: add thread to %q: %w", p.Name, err)
	}
	return t, nil
}

// Launch hands a built process to the scheduler.
func (s *Scheduler) Launch(p *Process) error {
	if p.state == ProcessInRawCreate {
		p.setState(ProcessInBuild)
	}
	if p.state != ProcessInBuild {
		return fmt.Errorf("kernel: launch %q: %w", p.Name, errNotBuilding)
	}
	p.setState(ProcessLaunching)
	s.QueueItem(&LaunchProcess{Process: p})
	return nil
}

func (s *Scheduler) newThread(p *Process, prog Program, affinity ici.Mask) (*Thread, error) {
	if prog == nil {
		return nil, status.ErrBadArgument
	}
	affinity &= ici.All(len(s.cores))
	if affinity == 0 {
		affinity = ici.All(len(s.cores))
	}
	id := s.nextThread.Add(1)
	h, err := s.objs.NewTerminal(kobj.KindThread, id)
	if err != nil {
		return nil, err
	}
	t := &Thread{
		ID:       id,
		Process:  p,
		state:    ThreadCreated,
		affinity: affinity,
		lastCore: -1,
		core:     -1,
		prog:     prog,
		obj:      h,
		token:    s.objs.Token(h),
	}
	t.cleanup = dpc.New(s.cleanupThreadDpc, t)
	p.threads[id] = t
	p.all = append(p.all, t)
	return t, nil
}

// ============================================================================
// LAUNCH (sched lock held)
// ============================================================================

func (s *Scheduler) launch(p *Process) {
	s.procs[p.ID] = p
	for _, t := range p.all {
		s.threads[t.ID] = t
	}
	p.setState(ProcessStarting)
	for _, t := range p.all {
		s.makeThreadRun(t)
	}
	p.setState(ProcessRunning)
	if len(p.threads) == 0 {
		s.stopProcess(p, status.OK)
	}
}

// ============================================================================
// THREAD TERMINATION (sched lock held)
// ============================================================================

// terminate exits t from any off-core state. A waiting thread is dismounted
// first, a deferred one dropped from the deferred list. Resource cleanup
// runs later from a DPC.
func (s *Scheduler) terminate(t *Thread, code status.Code) {
	switch t.state {
	case ThreadWaiting:
		s.abortWait(t)
	case ThreadResumeDeferred:
		delete(s.deferred, t.ID)
		t.setState(ThreadInScheduler)
	case ThreadCreated, ThreadInScheduler:
	default:
		debug.Fatal("kernel.terminate", "thread "+t.state.String()+" is still owned by a core")
	}

	t.setState(ThreadExited)
	t.result = Result{Status: code, Index: -1}
	s.objs.SetTerminal(t.obj)
	s.propagate(t.obj)
	s.cur.dpcs.Queue(t.cleanup, dpc.Medium)

	p := t.Process
	delete(p.threads, t.ID)
	switch {
	case p.state == ProcessRunning && len(p.threads) == 0:
		s.stopProcess(p, code)
	case p.state == ProcessStopping:
		s.maybeStopped(p)
	}
}

func (s *Scheduler) cleanupThreadDpc(d *dpc.DPC) dpc.Result {
	s.QueueItem(&CleanupThread{Thread: d.Arg.(*Thread)})
	return dpc.Done
}

func (s *Scheduler) cleanupThread(t *Thread) {
	if t.state != ThreadExited {
		debug.Fatal("kernel.cleanupThread", "cleaning up a live thread")
	}
	delete(s.threads, t.ID)
	s.objs.Release(t.obj)
	t.obj = kobj.Nil
}

// leave drops t's residency on the core it came from.
func (s *Scheduler) leave(t *Thread) {
	if t.core < 0 {
		return
	}
	s.residents[t.core]--
	t.core = -1
}

// ============================================================================
// PROCESS STOP (sched lock held)
// ============================================================================

// stopProcess moves p to Stopping. Threads the scheduler owns are exited
// here; threads on cores are pulled off by a stop DPC on every core. The
// last core to run it queues ProcessStopAcked.
func (s *Scheduler) stopProcess(p *Process, code status.Code) {
	if p.state.dying() {
		return
	}
	p.setState(ProcessStopping)
	p.exitCode = code
	debug.DropMessage("STOP", p.Name+" ("+code.String()+")")

	for _, t := range p.all {
		switch t.state {
		case ThreadCreated, ThreadWaiting, ThreadResumeDeferred:
			s.terminate(t, status.Aborted)
		}
	}

	all := ici.All(len(s.cores))
	p.stop.pending.Store(uint64(all))
	s.cur.QueueDpc(dpc.New(s.cur.stopDpc, p), dpc.High)
	if others := all &^ ici.Bit(s.cur.id); others != 0 {
		s.cur.broadcast(others, ici.ProcessStop, p)
	}
}

// maybeStopped completes the stop once every thread exited and every core
// ran the stop DPC.
func (s *Scheduler) maybeStopped(p *Process) {
	if p.state != ProcessStopping || !p.stop.acked || len(p.threads) != 0 {
		return
	}
	p.setState(ProcessStopped)
	s.objs.SetTerminal(p.obj)
	s.propagate(p.obj)
	s.cur.QueueDpc(dpc.New(s.releaseSpaceDpc, p), dpc.Medium)
}

func (s *Scheduler) releaseSpaceDpc(d *dpc.DPC) dpc.Result {
	p := d.Arg.(*Process)
	s.mmu.ReleaseSpace(p.ID)
	s.QueueItem(&CleanupProcess{Process: p})
	return dpc.Done
}

func (s *Scheduler) cleanupProcess(p *Process) {
	if p.state != ProcessStopped {
		debug.Fatal("kernel.cleanupProcess", "cleaning up a live process")
	}
	for h := range p.owned {
		s.dropOwned(p, h)
	}
	delete(s.procs, p.ID)
	s.objs.Release(p.obj)
	p.obj = kobj.Nil
}

// dropOwned releases the process's creation reference to h and unbinds an
// interrupt gate.
func (s *Scheduler) dropOwned(p *Process, h kobj.Handle) {
	delete(p.owned, h)
	if s.objs.Kind(h) == kobj.KindIrqGate {
		line := s.objs.Line(h)
		if s.irqs[line] == h {
			delete(s.irqs, line)
			s.objs.Release(h)
		}
	}
	s.objs.Release(h)
}

// LiveThreads returns the number of registered threads. Diagnostic only.
func (s *Scheduler) LiveThreads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.threads)
}

// LiveProcesses returns the number of launched processes not yet cleaned
// up. Diagnostic only.
func (s *Scheduler) LiveProcesses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
