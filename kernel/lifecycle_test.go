package kernel

import (
	"testing"

	"smpcore/ici"
	"smpcore/kobj"
	"smpcore/status"
)

// ============================================================================
// PROCESS STOP
// ============================================================================

func TestStopWaitsForEveryCoreAck(t *testing.T) {
	k := newTestKernel(t, 2)
	p, err := k.CreateProcess("pair")
	if err != nil {
		t.Fatal(err)
	}
	k.AddThread(p, spin(), ici.Bit(0))
	k.AddThread(p, spin(), ici.Bit(1))
	k.Launch(p)
	k.pump(10)
	if k.Core(0).Active() == nil || k.Core(1).Active() == nil {
		t.Fatal("threads not running on both cores")
	}

	k.QueueItem(&CrashProcess{Process: p, Code: status.Aborted})
	k.pumpCore(0, 50)
	if p.State() != ProcessStopping {
		t.Fatalf("state = %v before core 1 acked", p.State())
	}
	if p.Threads()[0].State() != ThreadExited {
		t.Fatal("core 0 thread not exited")
	}
	if k.Core(1).Active() != p.Threads()[1] {
		t.Fatal("core 1 thread touched before its stop DPC ran")
	}

	k.pump(50)
	if p.State() != ProcessStopped {
		t.Fatalf("state = %v after all acks", p.State())
	}
	if p.ExitCode() != status.Aborted {
		t.Errorf("exit code = %v", p.ExitCode())
	}
	if len(k.mmu.released) != 1 || k.mmu.released[0] != p.ID {
		t.Errorf("released spaces = %v", k.mmu.released)
	}
	if k.LiveThreads() != 0 {
		t.Errorf("%d threads still registered", k.LiveThreads())
	}
	if r := k.Residents(); r[0] != 0 || r[1] != 0 {
		t.Errorf("residents = %v after stop", r)
	}
}

func TestWaitOnProcessTermination(t *testing.T) {
	k := newTestKernel(t, 1)
	victim, err := k.CreateProcess("victim")
	if err != nil {
		t.Fatal(err)
	}
	exit := &Script{Calls: []Syscall{&ExitProcess{Code: status.OK}}}
	k.AddThread(victim, exit, 0)

	watcher := &Script{Calls: []Syscall{waitAny(forever, victim.Token())}}
	k.launch(t, "watcher", 0, watcher)
	k.pump(20)

	k.Launch(victim)
	k.pump(300)

	if victim.State() != ProcessStopped {
		t.Fatalf("victim state = %v", victim.State())
	}
	if !watcher.Done() || watcher.Results[0].Status != status.OK {
		t.Fatalf("watcher = %+v", watcher.Results)
	}
	if _, err := k.objs.Resolve(victim.Token()); err == nil {
		t.Error("process object survived cleanup")
	}
}

func TestCleanupRunsWhileCoreStaysBusy(t *testing.T) {
	k := newTestKernel(t, 1)
	busy := k.launch(t, "busy", 0, spin())
	short := k.launch(t, "short", 0, &Script{Calls: []Syscall{&ExitThread{Code: status.OK}}})
	k.pump(200)

	if k.Core(0).Active() == nil || k.Core(0).Active().Process != busy {
		t.Fatal("busy thread should still own the core")
	}
	if short.State() != ProcessStopped {
		t.Fatalf("short state = %v", short.State())
	}
	if len(k.mmu.released) != 1 || k.mmu.released[0] != short.ID {
		t.Errorf("released spaces = %v, want [%d]", k.mmu.released, short.ID)
	}
	if k.LiveProcesses() != 1 || k.LiveThreads() != 1 {
		t.Errorf("live processes=%d threads=%d, want 1/1", k.LiveProcesses(), k.LiveThreads())
	}
	if _, err := k.objs.Resolve(short.Token()); err == nil {
		t.Error("stopped process object not released on a busy core")
	}
}

func TestLastThreadExitStopsProcess(t *testing.T) {
	k := newTestKernel(t, 1)
	a := &Script{Calls: []Syscall{&ExitThread{Code: status.OK}}}
	b := &Script{Calls: []Syscall{&Yield{}, &ExitThread{Code: status.OK}}}
	p := k.launch(t, "short", 0, a, b)
	k.pump(100)

	if p.State() != ProcessStopped {
		t.Fatalf("state = %v", p.State())
	}
	for _, th := range p.Threads() {
		if th.State() != ThreadExited {
			t.Errorf("thread %d in %v", th.ID, th.State())
		}
	}
}

func TestProcessBuildErrors(t *testing.T) {
	k := newTestKernel(t, 1)
	p, _ := k.CreateProcess("built")
	if _, err := k.AddThread(p, nil, 0); err == nil {
		t.Error("nil program accepted")
	}
	if err := k.Launch(p); err != nil {
		t.Fatal(err)
	}
	if err := k.Launch(p); err == nil {
		t.Error("double launch accepted")
	}
	if _, err := k.AddThread(p, spin(), 0); err == nil {
		t.Error("thread added after launch")
	}
}

// ============================================================================
// MAILBOX CLOSE: DEFERRED RESUME
// ============================================================================

func TestMailboxCloseDefersResumeUntilShootdown(t *testing.T) {
	k := newTestKernel(t, 2)
	mb, _ := k.objs.NewMailbox()
	mbTok := k.objs.Token(mb)

	waiter := &Script{Calls: []Syscall{waitAny(forever, mbTok)}}
	closer := &Script{Calls: []Syscall{&MailboxClose{Object: mbTok}, &MailboxClose{Object: mbTok}}}
	p := k.launch(t, "mail", ici.Bit(0), waiter, closer)
	k.pumpCore(0, 100)

	if !waiter.Done() || waiter.Results[0].Status != status.Closed || waiter.Results[0].Index != 0 {
		t.Fatalf("waiter = %+v", waiter.Results)
	}
	closerThread := p.Threads()[1]
	if closerThread.State() != ThreadResumeDeferred || k.Deferred() != 1 {
		t.Fatalf("closer state = %v, deferred = %d", closerThread.State(), k.Deferred())
	}
	if len(closer.Results) != 0 {
		t.Fatal("closer resumed before the shootdown completed")
	}

	k.Core(1).Dispatch()
	k.pumpCore(0, 300)

	if !closer.Done() {
		t.Fatalf("closer results = %+v", closer.Results)
	}
	if closer.Results[0].Status != status.OK || closer.Results[1].Status != status.Closed {
		t.Errorf("close results = %v, %v", closer.Results[0].Status, closer.Results[1].Status)
	}
	flushed := map[int]bool{}
	for _, f := range k.mmu.flushes {
		if f.space == p.ID {
			flushed[f.core] = true
		}
	}
	if !flushed[0] || !flushed[1] {
		t.Errorf("TLB flushes = %v", k.mmu.flushes)
	}
	if k.Deferred() != 0 {
		t.Error("deferred list not emptied")
	}
}

func TestStopDropsDeferredThread(t *testing.T) {
	k := newTestKernel(t, 2)
	mb, _ := k.objs.NewMailbox()
	closer := &Script{Calls: []Syscall{&MailboxClose{Object: k.objs.Token(mb)}}}
	p := k.launch(t, "doomed", ici.Bit(0), closer)
	k.pumpCore(0, 50)
	if k.Deferred() != 1 {
		t.Fatal("closer not deferred")
	}

	k.QueueItem(&CrashProcess{Process: p, Code: status.Aborted})
	k.pump(100)
	if p.State() != ProcessStopped || k.Deferred() != 0 {
		t.Fatalf("state=%v deferred=%d", p.State(), k.Deferred())
	}
	if st := p.Threads()[0].Result().Status; st != status.Aborted {
		t.Errorf("deferred thread result = %v", st)
	}
}

// ============================================================================
// SPAWN, CREATE, CLOSE, AFFINITY, I/O PERMISSIONS
// ============================================================================

func TestSpawnCreateAndClose(t *testing.T) {
	k := newTestKernel(t, 2)

	var tok kobj.Token
	var results []Result
	child := &Script{}
	step := 0
	parent := ProgramFunc(func(last Result) Syscall {
		step++
		if step > 1 && step <= 7 {
			results = append(results, last)
		}
		switch step {
		case 1:
			return &Create{Kind: kobj.KindNotify}
		case 2:
			tok = last.Token
			child.Calls = []Syscall{&SignalNotify{Object: tok}}
			return &SpawnThread{Program: child}
		case 3:
			return waitAny(forever, tok)
		case 4:
			return &CloseHandle{Object: tok}
		case 5:
			return &CloseHandle{Object: tok}
		case 6:
			return &Create{Kind: kobj.KindProcess}
		}
		return nil
	})
	p := k.launch(t, "spawner", 0, parent)
	live := k.objs.Live()
	k.pump(300)

	if len(results) != 6 {
		t.Fatalf("results = %+v", results)
	}
	want := []status.Code{status.OK, status.OK, status.OK, status.OK, status.NotFound, status.BadArgument}
	for i, w := range want {
		if results[i].Status != w {
			t.Errorf("call %d: %v, want %v", i, results[i].Status, w)
		}
	}
	if len(p.Threads()) != 2 || !child.Done() {
		t.Fatal("child thread did not run")
	}
	if results[1].Token != p.Threads()[1].Token() {
		t.Error("spawn did not return the child token")
	}
	if k.objs.Live() != live+1 {
		t.Errorf("live objects = %d, want %d (child thread only)", k.objs.Live(), live+1)
	}
}

func TestSetAffinityMovesThread(t *testing.T) {
	k := newTestKernel(t, 2)
	s := &Script{Calls: []Syscall{&SetAffinity{Mask: ici.Bit(1)}, &SetAffinity{Mask: 0}}}
	p := k.launch(t, "mover", ici.Bit(0), s)
	k.pump(100)

	if !s.Done() || s.Results[0].Status != status.OK || s.Results[1].Status != status.BadArgument {
		t.Fatalf("results = %+v", s.Results)
	}
	if p.Threads()[0].LastCore() != 1 {
		t.Errorf("thread last ran on core %d, want 1", p.Threads()[0].LastCore())
	}
}

func TestIOPermissionsReachRunningCore(t *testing.T) {
	k := newTestKernel(t, 2)
	p, _ := k.CreateProcess("io")
	setter := &Script{Calls: []Syscall{&SetIOPermissions{Ports: 0xff}}}
	k.AddThread(p, setter, ici.Bit(0))
	k.AddThread(p, spin(), ici.Bit(1))
	k.Launch(p)
	k.pump(100)

	got := map[int]uint64{}
	for _, l := range k.mmu.loads {
		if l.space == p.ID {
			got[l.core] = l.ports
		}
	}
	if got[0] != 0xff || got[1] != 0xff {
		t.Errorf("latest loads per core = %v, want 0xff on both", got)
	}
}

// ============================================================================
// PLACEMENT
// ============================================================================

func TestPlacementHysteresis(t *testing.T) {
	k := newTestKernel(t, 4)
	all := ici.All(4)
	for _, tc := range []struct {
		name      string
		residents []int
		last      int
		affinity  ici.Mask
		want      int
	}{
		{"fresh thread", []int{20, 21, 30, 20}, -1, all, 0},
		{"idle system", []int{0, 0, 0, 0}, 2, all, 0},
		{"inside band", []int{20, 21, 30, 20}, 1, all, 1},
		{"equal load", []int{20, 21, 30, 20}, 3, all, 3},
		{"far busier", []int{20, 21, 30, 20}, 2, all, 0},
		{"exactly ten percent", []int{10, 11, 10, 10}, 1, all, 0},
		{"affinity revoked", []int{20, 21, 30, 20}, 1, ici.Bit(2) | ici.Bit(3), 3},
		{"least among permitted", []int{1, 9, 30, 20}, 2, ici.Bit(2) | ici.Bit(3), 3},
	} {
		t.Run(tc.name, func(t *testing.T) {
			copy(k.residents, tc.residents)
			th := &Thread{affinity: tc.affinity, lastCore: tc.last, core: -1}
			if got := k.place(th); got != tc.want {
				t.Errorf("place = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestFreshThreadsSpreadAcrossCores(t *testing.T) {
	k := newTestKernel(t, 4)
	p := k.launch(t, "wide", 0, spin(), spin(), spin(), spin())
	k.pump(5)
	for i, th := range p.Threads() {
		if th.LastCore() != i {
			t.Errorf("thread %d on core %d, want %d", i, th.LastCore(), i)
		}
	}
}

// ============================================================================
// STATE MACHINES AND JOURNAL
// ============================================================================

func TestIllegalTransitionsAreFatal(t *testing.T) {
	newTestKernel(t, 1)
	expectFatal(t, "exited thread", func() {
		th := &Thread{state: ThreadExited}
		th.setState(ThreadRunning)
	})
	expectFatal(t, "waiting to running", func() {
		th := &Thread{state: ThreadWaiting}
		th.setState(ThreadRunning)
	})
	expectFatal(t, "stopped process", func() {
		p := &Process{state: ProcessStopped}
		p.setState(ProcessRunning)
	})
}

func TestJournalSeesEveryHandledItem(t *testing.T) {
	k := newTestKernel(t, 1)
	k.launch(t, "traced", 0, &Script{Calls: []Syscall{&Yield{}, &ExitThread{}}})
	k.pump(50)

	if uint64(len(k.sink.events)) != k.Stats().Handled {
		t.Fatalf("journal has %d events, scheduler handled %d", len(k.sink.events), k.Stats().Handled)
	}
	kinds := map[string]int{}
	for _, ev := range k.sink.events {
		kinds[ev.Kind]++
	}
	for _, want := range []string{"launch-process", "thread-syscall", "cleanup-thread", "process-stopped", "cleanup-process"} {
		if kinds[want] == 0 {
			t.Errorf("no %s event in %v", want, kinds)
		}
	}
}
