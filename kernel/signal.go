package kernel

import (
	"smpcore/kobj"
	"smpcore/status"
)

// ============================================================================
// SIGNAL PROPAGATION (sched lock held)
// ============================================================================
//
// A state change on an object walks its wait list in insertion order:
//
//   - wait-any entry: consume, dismount, resume, and stop. One discrete
//     event releases at most one waiter.
//   - wait-all entry: complete only if every predicate of that wait holds
//     right now.
//   - level events (alarm expiry, process or thread termination) and a
//     closed mailbox release every eligible waiter.

func (s *Scheduler) propagate(h kobj.Handle) {
	level := s.objs.Level(h)

	for _, id := range s.objs.Waiters(h) {
		if !s.objs.Mounted(id) {
			continue
		}
		closed := s.objs.Closed(h)
		if !closed && !s.objs.Satisfied(h) {
			return
		}

		_, tid, index := s.objs.Entry(id)
		t := s.threads[tid]
		w := t.wait

		switch {
		case closed:
			s.completeWait(t, status.Closed, index)
		case w.mode == WaitAny:
			s.objs.Consume(h)
			s.completeWait(t, status.OK, index)
			if !level {
				return
			}
		default:
			if s.tryCompleteAll(w) && !level {
				return
			}
		}
	}
}

// alarmFired expires an alarm, releases its waiters and re-queues a
// periodic alarm. The queued timer owns one object reference.
func (s *Scheduler) alarmFired(h kobj.Handle) {
	period := s.objs.ExpireAlarm(h)
	s.propagate(h)
	if period == 0 {
		s.objs.Release(h)
		return
	}
	s.objs.ClearAlarm(h)
	s.timers.InsertAt(&s.objs.Object(h).Timer, s.timers.Last()+period)
}

// ============================================================================
// OBJECT SYSCALLS
// ============================================================================

// withObject resolves tok to an object of one of kinds and runs fn with a
// reference held.
func (s *Scheduler) withObject(tok kobj.Token, fn func(h kobj.Handle) status.Code, kinds ...kobj.Kind) status.Code {
	h, err := s.objs.AcquireToken(tok)
	if err != nil {
		return status.FromError(err)
	}
	defer s.objs.Release(h)

	k := s.objs.Kind(h)
	for _, want := range kinds {
		if k == want {
			return fn(h)
		}
	}
	return status.BadArgument
}

func (s *Scheduler) signalNotify(tok kobj.Token) status.Code {
	return s.withObject(tok, func(h kobj.Handle) status.Code {
		s.objs.Signal(h)
		s.propagate(h)
		return status.OK
	}, kobj.KindNotify)
}

func (s *Scheduler) setGate(tok kobj.Token, open bool) status.Code {
	return s.withObject(tok, func(h kobj.Handle) status.Code {
		if s.objs.SetGate(h, open) {
			s.propagate(h)
		}
		return status.OK
	}, kobj.KindGate)
}

// semRelease adds permits one at a time so each permit is one event.
func (s *Scheduler) semRelease(tok kobj.Token, n int64) status.Code {
	return s.withObject(tok, func(h kobj.Handle) status.Code {
		if err := s.objs.SemAdd(h, n); err != nil {
			return status.FromError(err)
		}
		for i := int64(0); i < n && s.objs.WaiterCount(h) > 0; i++ {
			s.propagate(h)
		}
		return status.OK
	}, kobj.KindSemaphore)
}

func (s *Scheduler) setAlarm(tok kobj.Token, delay, period uint64) status.Code {
	return s.withObject(tok, func(h kobj.Handle) status.Code {
		o := s.objs.Object(h)
		if !s.timers.Remove(&o.Timer) {
			s.objs.Acquire(h)
		}
		s.objs.ArmAlarm(h, period)
		s.timers.InsertAt(&o.Timer, s.clock.Now()+delay)
		return status.OK
	}, kobj.KindAlarm)
}

func (s *Scheduler) cancelAlarm(tok kobj.Token) status.Code {
	return s.withObject(tok, func(h kobj.Handle) status.Code {
		if !s.timers.Remove(&s.objs.Object(h).Timer) {
			return status.NotFound
		}
		s.objs.Release(h)
		return status.OK
	}, kobj.KindAlarm)
}

func (s *Scheduler) mailboxPost(tok kobj.Token) status.Code {
	return s.withObject(tok, func(h kobj.Handle) status.Code {
		if err := s.objs.Post(h); err != nil {
			return status.FromError(err)
		}
		s.propagate(h)
		return status.OK
	}, kobj.KindMailbox)
}
