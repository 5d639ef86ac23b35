package kernel

import (
	"smpcore/debug"
	"smpcore/ici"
	"smpcore/kobj"
	"smpcore/status"
)

// ============================================================================
// THREAD SYSCALL HANDLER (sched lock held)
// ============================================================================

func (s *Scheduler) handleSyscall(t *Thread) {
	if t.state != ThreadInScheduler {
		debug.Fatal("kernel.handleSyscall", "syscall from a thread in "+t.state.String())
	}
	s.leave(t)

	call := t.call
	t.call = nil

	// The process may have died after the call was queued. Its address
	// space may be gone, so the thread exits instead of returning.
	if t.Process.state.dying() {
		s.terminate(t, status.Aborted)
		return
	}

	switch c := call.(type) {
	case *Wait:
		s.wait(t, c)
	case *Sleep:
		if c.Ticks == 0 {
			s.finish(t, Result{Index: -1})
			return
		}
		s.wait(t, &Wait{Timeout: c.Ticks})
	case *Create:
		s.create(t, c)
	case *CloseHandle:
		s.done(t, s.closeHandle(t.Process, c.Object))
	case *SignalNotify:
		s.done(t, s.signalNotify(c.Object))
	case *SetGate:
		s.done(t, s.setGate(c.Object, c.Open))
	case *SemRelease:
		s.done(t, s.semRelease(c.Object, c.Count))
	case *SetAlarm:
		s.done(t, s.setAlarm(c.Object, c.Delay, c.Period))
	case *CancelAlarm:
		s.done(t, s.cancelAlarm(c.Object))
	case *MailboxPost:
		s.done(t, s.mailboxPost(c.Object))
	case *MailboxClose:
		s.mailboxClose(t, c.Object)
	case *BindIrq:
		s.bindIrq(t, c.Line)
	case *SpawnThread:
		s.spawn(t, c)
	case *SetAffinity:
		s.setAffinity(t, c.Mask)
	case *SetIOPermissions:
		s.setIOPermissions(t, c.Ports)
	case *ExitThread:
		s.terminate(t, c.Code)
	case *ExitProcess:
		p := t.Process
		s.terminate(t, c.Code)
		s.stopProcess(p, c.Code)
	case *Yield:
		s.done(t, status.OK)
	default:
		debug.Fatal("kernel.handleSyscall", "unknown syscall")
	}
}

// done finishes a call that produced only a status.
func (s *Scheduler) done(t *Thread, code status.Code) {
	s.finish(t, Result{Status: code, Index: -1})
}

// ============================================================================
// OBJECT LIFETIME
// ============================================================================

func (s *Scheduler) create(t *Thread, c *Create) {
	var (
		h   kobj.Handle
		err error
	)
	switch c.Kind {
	case kobj.KindNotify:
		h, err = s.objs.NewNotify()
	case kobj.KindGate:
		h, err = s.objs.NewGate(c.Open)
	case kobj.KindSemaphore:
		h, err = s.objs.NewSemaphore(c.Initial, c.Max)
	case kobj.KindMailbox:
		h, err = s.objs.NewMailbox()
	case kobj.KindAlarm:
		h, err = s.objs.NewAlarm()
	default:
		err = status.ErrBadArgument
	}
	if err != nil {
		s.done(t, status.FromError(err))
		return
	}
	t.Process.owned[h] = struct{}{}
	s.finish(t, Result{Index: -1, Token: s.objs.Token(h)})
}

func (s *Scheduler) closeHandle(p *Process, tok kobj.Token) status.Code {
	h, err := s.objs.Resolve(tok)
	if err != nil {
		return status.FromError(err)
	}
	if _, ok := p.owned[h]; !ok {
		return status.NotFound
	}
	if s.objs.Kind(h) == kobj.KindAlarm && s.timers.Remove(&s.objs.Object(h).Timer) {
		s.objs.Release(h)
	}
	s.dropOwned(p, h)
	return status.OK
}

// bindIrq creates an interrupt gate for line. The binding table holds its
// own reference until the owner closes the gate.
func (s *Scheduler) bindIrq(t *Thread, line int) {
	if _, ok := s.irqs[line]; ok {
		s.done(t, status.AlreadyExists)
		return
	}
	h, err := s.objs.NewIrqGate(line)
	if err != nil {
		s.done(t, status.FromError(err))
		return
	}
	s.objs.Acquire(h)
	s.irqs[line] = h
	t.Process.owned[h] = struct{}{}
	s.finish(t, Result{Index: -1, Token: s.objs.Token(h)})
}

// ============================================================================
// MAILBOX CLOSE: DEFERRED RESUME
// ============================================================================

// mailboxClose wakes every waiter with Closed and parks the caller until a
// TLB shootdown for the mailbox buffers has completed on every core.
func (s *Scheduler) mailboxClose(t *Thread, tok kobj.Token) {
	code := s.withObject(tok, func(h kobj.Handle) status.Code {
		if !s.objs.CloseMailbox(h) {
			return status.Closed
		}
		s.propagate(h)
		return status.OK
	}, kobj.KindMailbox)
	if code != status.OK {
		s.done(t, code)
		return
	}

	t.setState(ThreadResumeDeferred)
	t.result = Result{Index: -1}
	s.deferred[t.ID] = t
	s.cur.startShootdown(t.Process.ID, func() {
		s.QueueItem(&DeferredResumeCompleted{Thread: t})
	})
}

func (s *Scheduler) resumeDeferred(t *Thread) {
	if t.state != ThreadResumeDeferred {
		// Terminated while the chain ran.
		return
	}
	delete(s.deferred, t.ID)
	t.setState(ThreadInScheduler)
	s.makeThreadRun(t)
}

// Deferred returns the number of threads parked for a deferred resume.
// Diagnostic only.
func (s *Scheduler) Deferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// ============================================================================
// THREAD AND PROCESS CONTROL
// ============================================================================

func (s *Scheduler) spawn(t *Thread, c *SpawnThread) {
	nt, err := s.newThread(t.Process, c.Program, c.Affinity)
	if err != nil {
		s.done(t, status.FromError(err))
		return
	}
	s.threads[nt.ID] = nt
	s.makeThreadRun(nt)
	s.finish(t, Result{Index: -1, Token: nt.token})
}

func (s *Scheduler) setAffinity(t *Thread, mask ici.Mask) {
	mask &= ici.All(len(s.cores))
	if mask == 0 {
		s.done(t, status.BadArgument)
		return
	}
	t.affinity = mask
	s.done(t, status.OK)
}

// setIOPermissions publishes the new bitmap and tells every other core to
// reload it if it is running the process. The local core reloads on its
// next resume.
func (s *Scheduler) setIOPermissions(t *Thread, ports uint64) {
	p := t.Process
	p.ioPorts.Store(ports)
	p.ioVersion.Add(1)
	if others := ici.All(len(s.cores)) &^ ici.Bit(s.cur.id); others != 0 {
		s.cur.broadcast(others, ici.IOPermUpdate, p)
	}
	s.done(t, status.OK)
}
