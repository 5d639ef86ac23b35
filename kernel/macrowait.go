package kernel

import (
	"smpcore/constants"
	"smpcore/debug"
	"smpcore/kobj"
	"smpcore/status"
	"smpcore/timerq"
)

// ============================================================================
// MACRO-WAIT ENGINE (sched lock held)
// ============================================================================
//
// Lifecycle:
//
//	build ─→ tryImmediate ─┬─ satisfied / failed ─→ release
//	                       └─ mount ─→ (signal | timeout | abort) ─→ dismount ─→ release
//
// Every entry owns one object reference from build until release. release
// runs exactly once on every path; a second mount, dismount or release is a
// kernel panic.

// WaitMode selects wait-any or wait-all completion.
type WaitMode uint8

const (
	WaitAny WaitMode = iota
	WaitAll
)

type waitEntry struct {
	obj kobj.Handle
	id  kobj.EntryID
}

// MacroWait is one thread's wait on 0..N objects.
type MacroWait struct {
	thread   *Thread
	entries  []waitEntry
	mode     WaitMode
	timeout  uint64
	sleep    bool
	timer    timerq.Item
	mounted  bool
	released bool
}

// buildWait resolves the tokens and reserves the wait entries. On failure
// every reference taken so far is dropped again.
func (s *Scheduler) buildWait(t *Thread, call *Wait) (*MacroWait, status.Code) {
	n := len(call.Objects)
	if n > constants.MaxWaitEntries {
		return nil, status.BadArgument
	}
	if n == 0 && call.Timeout == constants.InfiniteTimeout {
		return nil, status.BadArgument
	}

	w := &MacroWait{
		thread:  t,
		entries: make([]waitEntry, 0, n),
		timeout: call.Timeout,
		sleep:   n == 0,
		timer:   timerq.Item{Kind: timerq.KindWaitTimeout, Owner: t.ID},
	}
	if call.All {
		w.mode = WaitAll
	}

	fail := func(code status.Code) (*MacroWait, status.Code) {
		s.release(w)
		return nil, code
	}

	for i, tok := range call.Objects {
		h, err := s.objs.AcquireToken(tok)
		if err != nil {
			return fail(status.FromError(err))
		}
		id, err := s.objs.AllocEntry(h, t.ID, i)
		if err != nil {
			s.objs.Release(h)
			return fail(status.FromError(err))
		}
		w.entries = append(w.entries, waitEntry{obj: h, id: id})

		for _, e := range w.entries[:i] {
			if e.obj == h {
				return fail(status.BadArgument)
			}
		}
		if s.objs.Kind(h) == kobj.KindMailbox && (i != n-1 || w.mode == WaitAll) {
			return fail(status.BadArgument)
		}
	}
	return w, status.OK
}

// tryImmediate completes w without blocking if it can. Returns false when w
// has to be mounted.
func (s *Scheduler) tryImmediate(w *MacroWait) (done bool, code status.Code, index int) {
	switch w.mode {
	case WaitAny:
		for i, e := range w.entries {
			if s.objs.Satisfied(e.obj) {
				s.objs.Consume(e.obj)
				return true, status.OK, i
			}
		}
	case WaitAll:
		if len(w.entries) > 0 && s.allSatisfied(w) {
			for _, e := range w.entries {
				s.objs.Consume(e.obj)
			}
			return true, status.OK, -1
		}
	}

	if n := len(w.entries); n > 0 && s.objs.Closed(w.entries[n-1].obj) {
		return true, status.Closed, n - 1
	}
	if w.timeout == 0 {
		return true, status.Timeout, -1
	}
	return false, status.OK, -1
}

func (s *Scheduler) allSatisfied(w *MacroWait) bool {
	for _, e := range w.entries {
		if !s.objs.Satisfied(e.obj) {
			return false
		}
	}
	return true
}

// mount registers w on every object and, for a finite timeout, in the timer
// queue.
func (s *Scheduler) mount(w *MacroWait) {
	if w.mounted || w.released {
		debug.Fatal("kernel.mount", "macro-wait mounted twice")
	}
	for _, e := range w.entries {
		s.objs.Mount(e.id)
	}
	if w.timeout != constants.InfiniteTimeout {
		s.timers.InsertAt(&w.timer, s.clock.Now()+w.timeout)
	}
	w.mounted = true
}

// dismount undoes mount and releases the references.
func (s *Scheduler) dismount(w *MacroWait) {
	if !w.mounted {
		debug.Fatal("kernel.dismount", "macro-wait not mounted")
	}
	for _, e := range w.entries {
		s.objs.Unmount(e.id)
	}
	s.timers.Remove(&w.timer)
	w.mounted = false
	s.release(w)
}

// release frees the entries and drops one reference per entry.
func (s *Scheduler) release(w *MacroWait) {
	if w.released {
		debug.Fatal("kernel.release", "macro-wait released twice")
	}
	if w.mounted {
		debug.Fatal("kernel.release", "releasing a mounted macro-wait")
	}
	for _, e := range w.entries {
		s.objs.FreeEntry(e.id)
		s.objs.Release(e.obj)
	}
	w.released = true
}

// ============================================================================
// WAIT SYSCALL AND COMPLETION
// ============================================================================

// wait runs the wait syscall for t. t is InScheduler.
func (s *Scheduler) wait(t *Thread, call *Wait) {
	w, code := s.buildWait(t, call)
	if code != status.OK {
		s.finish(t, Result{Status: code, Index: -1})
		return
	}

	if done, code, index := s.tryImmediate(w); done {
		s.release(w)
		if w.sleep && code == status.Timeout {
			code = status.OK
		}
		s.finish(t, Result{Status: code, Index: index})
		return
	}

	s.mount(w)
	t.wait = w
	t.setState(ThreadWaiting)
}

// completeWait dismounts t's wait and makes t runnable with the outcome.
func (s *Scheduler) completeWait(t *Thread, code status.Code, index int) {
	w := t.wait
	s.dismount(w)
	t.wait = nil
	t.setState(ThreadInScheduler)
	if w.sleep && code == status.Timeout {
		code = status.OK
	}
	s.finish(t, Result{Status: code, Index: index})
}

// abortWait dismounts t's wait on the termination path. t stays in the
// scheduler.
func (s *Scheduler) abortWait(t *Thread) {
	s.dismount(t.wait)
	t.wait = nil
	t.setState(ThreadInScheduler)
}

// finish stores r and makes t runnable.
func (s *Scheduler) finish(t *Thread, r Result) {
	t.result = r
	s.makeThreadRun(t)
}

// tryCompleteAll completes a wait-all whose predicates now all hold. The
// check re-evaluates every entry under the sched lock, so no partial side
// effect is ever applied.
func (s *Scheduler) tryCompleteAll(w *MacroWait) bool {
	if !s.allSatisfied(w) {
		return false
	}
	for _, e := range w.entries {
		s.objs.Consume(e.obj)
	}
	s.completeWait(w.thread, status.OK, -1)
	return true
}
