package kernel

import (
	"testing"

	"smpcore/constants"
	"smpcore/kobj"
	"smpcore/status"
)

const forever = constants.InfiniteTimeout

// ============================================================================
// GATE / NOTIFY SCENARIO
// ============================================================================

func TestGateOpenResumesWaiterAndReleasesUnusedRefs(t *testing.T) {
	k := newTestKernel(t, 1)
	g, gTok := k.gate(t, false)
	n, nTok := k.notify(t)

	t1 := &Script{Calls: []Syscall{waitAny(forever, gTok, nTok)}}
	t2 := &Script{Calls: []Syscall{&SetGate{Object: gTok, Open: true}}}
	k.launch(t, "scenario", 0, t1, t2)
	k.pump(200)

	if !t1.Done() || !t2.Done() {
		t.Fatalf("scripts incomplete: t1=%v t2=%v", t1.Results, t2.Results)
	}
	if r := t1.Results[0]; r.Status != status.OK || r.Index != 0 {
		t.Fatalf("t1 result = %+v, want ok at index 0", r)
	}
	if t2.Results[0].Status != status.OK {
		t.Fatalf("SetGate = %v", t2.Results[0].Status)
	}
	if k.objs.Refs(n) != 1 || k.objs.Refs(g) != 1 {
		t.Errorf("refs after wake: notify=%d gate=%d, want 1", k.objs.Refs(n), k.objs.Refs(g))
	}
	if k.objs.WaiterCount(n) != 0 || k.objs.WaiterCount(g) != 0 {
		t.Error("entries left mounted")
	}
	if !k.objs.Satisfied(g) {
		t.Error("gate closed again after releasing a waiter")
	}
	if k.objs.LiveEntries() != 0 {
		t.Errorf("leaked %d wait entries", k.objs.LiveEntries())
	}

	t3 := &Script{Calls: []Syscall{waitAny(0, gTok)}}
	k.launch(t, "late", 0, t3)
	k.pump(300)
	if !t3.Done() || t3.Results[0].Status != status.OK {
		t.Errorf("later waiter on open gate: %+v", t3.Results)
	}
}

func TestGateCloseNeverWakes(t *testing.T) {
	k := newTestKernel(t, 1)
	_, gTok := k.gate(t, false)

	w := &Script{Calls: []Syscall{waitAny(forever, gTok)}}
	c := &Script{Calls: []Syscall{&SetGate{Object: gTok, Open: false}}}
	p := k.launch(t, "closers", 0, w, c)
	k.pump(200)

	if w.Done() || waitingCount(p) != 1 {
		t.Fatal("closing a gate released a waiter")
	}
}

// ============================================================================
// WAIT EXCLUSIVITY
// ============================================================================

func TestNotifyReleasesExactlyOneWaiter(t *testing.T) {
	k := newTestKernel(t, 2)
	n, nTok := k.notify(t)

	var scripts []Program
	for i := 0; i < 5; i++ {
		scripts = append(scripts, &Script{Calls: []Syscall{waitAny(forever, nTok)}})
	}
	p := k.launch(t, "waiters", 0, scripts...)
	k.pump(300)
	if waitingCount(p) != 5 {
		t.Fatalf("waiting = %d, want 5", waitingCount(p))
	}

	for want := 4; want >= 2; want-- {
		k.QueueItem(&SignalProxy{Object: nTok})
		k.pump(100)
		if got := waitingCount(p); got != want {
			t.Fatalf("after signal: waiting = %d, want %d", got, want)
		}
		if k.objs.Satisfied(n) {
			t.Fatal("signal left the notify set while waiters remained")
		}
	}
	if k.objs.Refs(n) != 1+2 {
		t.Errorf("refs = %d, want creator plus two waiters", k.objs.Refs(n))
	}
}

func TestNotifyWithoutWaiterLatches(t *testing.T) {
	k := newTestKernel(t, 1)
	n, nTok := k.notify(t)
	k.QueueItem(&SignalProxy{Object: nTok})
	k.pump(4)
	if !k.objs.Satisfied(n) {
		t.Fatal("signal with no waiter was lost")
	}

	s := &Script{Calls: []Syscall{waitAny(0, nTok), waitAny(0, nTok)}}
	k.launch(t, "poller", 0, s)
	k.pump(100)
	if s.Results[0].Status != status.OK || s.Results[1].Status != status.Timeout {
		t.Fatalf("results = %+v", s.Results)
	}
}

// ============================================================================
// WAIT-ALL ATOMICITY
// ============================================================================

func TestWaitAllAppliesSideEffectsTogether(t *testing.T) {
	k := newTestKernel(t, 1)
	sem, _ := k.objs.NewSemaphore(1, 4)
	semTok := k.objs.Token(sem)
	g, gTok := k.gate(t, false)

	s := &Script{Calls: []Syscall{&Wait{Objects: []kobj.Token{semTok, gTok}, All: true, Timeout: forever}}}
	p := k.launch(t, "all", 0, s)
	k.pump(100)

	if waitingCount(p) != 1 {
		t.Fatal("wait-all with a closed member did not block")
	}
	if k.objs.Count(sem) != 1 {
		t.Fatal("partial side effect applied to the semaphore")
	}

	k.QueueItem(&SignalProxy{Object: gTok})
	k.pump(100)

	if !s.Done() || s.Results[0].Status != status.OK {
		t.Fatalf("wait-all result = %+v", s.Results)
	}
	if k.objs.Count(sem) != 0 {
		t.Errorf("semaphore count = %d, want 0", k.objs.Count(sem))
	}
	if !k.objs.Satisfied(g) {
		t.Error("gate should stay open")
	}
	if k.objs.Refs(sem) != 1 || k.objs.Refs(g) != 1 {
		t.Error("references not returned")
	}
}

func TestWaitArgumentValidation(t *testing.T) {
	k := newTestKernel(t, 1)
	_, nTok := k.notify(t)
	mb, _ := k.objs.NewMailbox()
	mbTok := k.objs.Token(mb)
	stale, staleTok := k.notify(t)
	k.objs.Release(stale)

	s := &Script{Calls: []Syscall{
		&Wait{Timeout: forever},
		waitAny(forever, nTok, nTok),
		waitAny(forever, mbTok, nTok),
		&Wait{Objects: []kobj.Token{nTok, mbTok}, All: true, Timeout: forever},
		waitAny(0, staleTok),
		waitAny(0, nTok^1<<60),
		waitAny(0, nTok, mbTok),
	}}
	k.launch(t, "validate", 0, s)
	k.pump(200)

	want := []status.Code{
		status.BadArgument, status.BadArgument, status.BadArgument, status.BadArgument,
		status.NotFound, status.BadToken, status.Timeout,
	}
	if !s.Done() {
		t.Fatalf("only %d results", len(s.Results))
	}
	for i, w := range want {
		if s.Results[i].Status != w {
			t.Errorf("call %d: %v, want %v", i, s.Results[i].Status, w)
		}
	}
	if k.objs.Refs(mb) != 1 || k.objs.LiveEntries() != 0 {
		t.Error("failed waits leaked references or entries")
	}
}

// ============================================================================
// REFERENCE BALANCE ON ABORT
// ============================================================================

func TestAbortedWaitReturnsEveryReference(t *testing.T) {
	k := newTestKernel(t, 1)
	n, nTok := k.notify(t)
	g, gTok := k.gate(t, false)
	sem, _ := k.objs.NewSemaphore(0, 1)
	semTok := k.objs.Token(sem)
	objs := []kobj.Handle{n, g, sem}

	s := &Script{Calls: []Syscall{waitAny(500, nTok, gTok, semTok)}}
	p := k.launch(t, "victim", 0, s)
	k.pump(50)

	for _, h := range objs {
		if k.objs.Refs(h) != 2 {
			t.Fatalf("mounted refs = %d, want 2", k.objs.Refs(h))
		}
	}
	if k.timers.Len() != 1 {
		t.Fatal("timeout not queued")
	}

	k.QueueItem(&CrashProcess{Process: p, Code: status.Aborted})
	k.pump(50)

	for _, h := range objs {
		if k.objs.Refs(h) != 1 || k.objs.WaiterCount(h) != 0 {
			t.Errorf("%v: refs=%d waiters=%d after abort", k.objs.Kind(h), k.objs.Refs(h), k.objs.WaiterCount(h))
		}
	}
	if k.timers.Len() != 0 {
		t.Error("timeout left queued")
	}
	th := p.Threads()[0]
	if th.State() != ThreadExited || th.Result().Status != status.Aborted {
		t.Errorf("thread %v result %v", th.State(), th.Result().Status)
	}
	if p.State() != ProcessStopped {
		t.Errorf("process state = %v", p.State())
	}
}

// ============================================================================
// TIMEOUTS, SLEEP AND ALARMS
// ============================================================================

func TestSleepAndWaitTimeout(t *testing.T) {
	k := newTestKernel(t, 1)
	n, nTok := k.notify(t)

	s := &Script{Calls: []Syscall{&Sleep{Ticks: 5}, waitAny(3, nTok)}}
	k.launch(t, "sleeper", 0, s)
	k.pump(20)
	if !k.timer.armed || k.timer.deadline != 5 {
		t.Fatalf("timer armed=%v deadline=%d, want 5", k.timer.armed, k.timer.deadline)
	}

	k.fireTimer(4)
	k.pump(20)
	if len(s.Results) != 0 {
		t.Fatal("sleep ended early")
	}

	k.fireTimer(5)
	k.pump(20)
	if len(s.Results) != 1 || s.Results[0].Status != status.OK {
		t.Fatalf("sleep result = %+v", s.Results)
	}
	if k.timer.deadline != 8 {
		t.Fatalf("wait timeout armed for %d, want 8", k.timer.deadline)
	}

	k.fireTimer(8)
	k.pump(20)
	if !s.Done() || s.Results[1].Status != status.Timeout || s.Results[1].Index != -1 {
		t.Fatalf("wait result = %+v", s.Results)
	}
	if k.objs.Refs(n) != 1 || k.timer.armed {
		t.Error("timeout path left state behind")
	}
}

func TestPeriodicAlarm(t *testing.T) {
	k := newTestKernel(t, 1)
	a, _ := k.objs.NewAlarm()
	aTok := k.objs.Token(a)

	s := &Script{Calls: []Syscall{
		&SetAlarm{Object: aTok, Delay: 2, Period: 2},
		waitAny(forever, aTok),
		waitAny(forever, aTok),
		&CancelAlarm{Object: aTok},
		&CancelAlarm{Object: aTok},
	}}
	k.launch(t, "periodic", 0, s)
	k.pump(30)
	if k.objs.Refs(a) != 3 {
		t.Fatalf("refs = %d, want creator + timer + waiter", k.objs.Refs(a))
	}

	k.fireTimer(2)
	k.pump(30)
	if len(s.Results) != 2 || s.Results[1].Status != status.OK {
		t.Fatalf("first period: %+v", s.Results)
	}
	if k.objs.Satisfied(a) {
		t.Fatal("periodic alarm stayed expired between periods")
	}

	k.fireTimer(4)
	k.pump(30)
	if !s.Done() {
		t.Fatalf("second period: %+v", s.Results)
	}
	if s.Results[3].Status != status.OK || s.Results[4].Status != status.NotFound {
		t.Errorf("cancel results = %v, %v", s.Results[3].Status, s.Results[4].Status)
	}
	if k.objs.Refs(a) != 1 || k.timers.Len() != 0 {
		t.Errorf("refs=%d timers=%d after cancel", k.objs.Refs(a), k.timers.Len())
	}
}

func TestOneShotAlarmStaysExpired(t *testing.T) {
	k := newTestKernel(t, 1)
	a, _ := k.objs.NewAlarm()
	aTok := k.objs.Token(a)

	s := &Script{Calls: []Syscall{&SetAlarm{Object: aTok, Delay: 1}}}
	k.launch(t, "arm", 0, s)
	k.pump(20)
	k.fireTimer(1)
	k.pump(20)

	if !k.objs.Satisfied(a) || k.objs.Refs(a) != 1 {
		t.Fatalf("one-shot: satisfied=%v refs=%d", k.objs.Satisfied(a), k.objs.Refs(a))
	}

	w := &Script{Calls: []Syscall{waitAny(0, aTok), waitAny(0, aTok)}}
	k.launch(t, "late", 0, w)
	k.pump(300)
	if w.Results[0].Status != status.OK || w.Results[1].Status != status.OK {
		t.Errorf("expired alarm results = %+v", w.Results)
	}
}

// ============================================================================
// SEMAPHORES, MAILBOXES, INTERRUPT GATES
// ============================================================================

func TestSemaphoreReleaseWakesOnePerPermit(t *testing.T) {
	k := newTestKernel(t, 1)
	sem, _ := k.objs.NewSemaphore(0, 8)
	semTok := k.objs.Token(sem)

	var progs []Program
	for i := 0; i < 3; i++ {
		progs = append(progs, &Script{Calls: []Syscall{waitAny(forever, semTok)}})
	}
	p := k.launch(t, "consumers", 0, progs...)
	k.pump(100)

	rel := &Script{Calls: []Syscall{&SemRelease{Object: semTok, Count: 2}, &SemRelease{Object: semTok, Count: 9}}}
	k.launch(t, "producer", 0, rel)
	k.pump(300)

	if waitingCount(p) != 1 || k.objs.Count(sem) != 0 {
		t.Fatalf("waiting=%d count=%d", waitingCount(p), k.objs.Count(sem))
	}
	if rel.Results[1].Status != status.BadArgument {
		t.Errorf("release past the ceiling = %v", rel.Results[1].Status)
	}
}

func TestMailboxPostWakesFinalEntry(t *testing.T) {
	k := newTestKernel(t, 1)
	_, nTok := k.notify(t)
	mb, _ := k.objs.NewMailbox()
	mbTok := k.objs.Token(mb)

	w := &Script{Calls: []Syscall{waitAny(forever, nTok, mbTok)}}
	post := &Script{Calls: []Syscall{&MailboxPost{Object: mbTok}, &MailboxPost{Object: mbTok}}}
	k.launch(t, "mail", 0, w, post)
	k.pump(200)

	if !w.Done() || w.Results[0].Index != 1 {
		t.Fatalf("mailbox waiter = %+v", w.Results)
	}
	if k.objs.Count(mb) != 1 {
		t.Errorf("pending messages = %d, want 1", k.objs.Count(mb))
	}
}

func TestIrqGate(t *testing.T) {
	k := newTestKernel(t, 1)

	var gate kobj.Token
	var results []Result
	step := 0
	prog := ProgramFunc(func(last Result) Syscall {
		step++
		if step > 1 && step <= 5 {
			results = append(results, last)
		}
		switch step {
		case 1:
			return &BindIrq{Line: 5}
		case 2:
			gate = last.Token
			return &BindIrq{Line: 5}
		case 3:
			return waitAny(forever, gate)
		case 4:
			return waitAny(0, gate)
		}
		return nil
	})
	k.launch(t, "driver", 0, prog)
	k.pump(50)
	if step != 3 {
		t.Fatalf("driver at step %d, want blocked at 3", step)
	}

	k.Core(0).Raise(Event{Kind: EventIRQ, Line: 9})
	k.Core(0).Raise(Event{Kind: EventIRQ, Line: 5})
	k.pump(50)

	if len(results) != 4 {
		t.Fatalf("results = %+v", results)
	}
	want := []status.Code{status.OK, status.AlreadyExists, status.OK, status.Timeout}
	for i, w := range want {
		if results[i].Status != w {
			t.Errorf("call %d: %v, want %v", i, results[i].Status, w)
		}
	}
}
