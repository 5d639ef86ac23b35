package main

import (
	"strings"
	"testing"

	"smpcore/config"
	"smpcore/kernel"
	"smpcore/machine"
)

// ============================================================================
// DEMO WORKLOAD
// ============================================================================

func TestWorkloadOutcomes(t *testing.T) {
	cfg := config.Default()
	cfg.Cores = 2
	cfg.Quiet = true
	cfg.JournalPath = ":memory:"

	m, err := machine.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	procs, err := launchWorkload(m.Sched)
	if err != nil {
		t.Fatal(err)
	}

	finished := false
	for tick := 0; tick < 20000 && !finished; tick++ {
		m.Tick()
		if tick%10 == 0 {
			m.RaiseIRQ(demoIrqLine)
		}
		for _, c := range m.Sched.Cores() {
			for j := 0; j < 4; j++ {
				c.Step()
			}
		}
		finished = drained(m)
	}
	if !finished {
		t.Fatalf("workload still running: %d processes, %d threads", m.Sched.LiveProcesses(), m.Sched.LiveThreads())
	}

	want := map[string]string{
		"handoff":   "gate=ok notify=ok",
		"alarm":     "periods=3/3",
		"mailbox":   "post=ok close=closed",
		"semaphore": "waiters=ok,ok,ok",
		"compute":   "ioperm=ok",
		"driver":    "bind=ok irq=ok",
	}
	for _, wp := range procs {
		if wp.p.State() != kernel.ProcessStopped {
			t.Errorf("%s: state %v", wp.p.Name, wp.p.State())
		}
		if got := wp.outcome(); got != want[wp.p.Name] {
			t.Errorf("%s: outcome %q, want %q", wp.p.Name, got, want[wp.p.Name])
		}
	}

	if m.Sched.Objects().Live() != 0 {
		t.Errorf("%d kernel objects leaked", m.Sched.Objects().Live())
	}

	if _, loads, _ := m.MMU.Counters(); loads == 0 {
		t.Error("I/O permissions never loaded")
	}
	if flushes, _, _ := m.MMU.Counters(); flushes < uint64(cfg.Cores) {
		t.Errorf("mailbox close flushed %d cores, want %d", flushes, cfg.Cores)
	}

	m.Stop()
	summary, err := m.Journal.Store().Summary()
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, kc := range summary {
		kinds = append(kinds, kc.Kind)
	}
	joined := strings.Join(kinds, " ")
	for _, kind := range []string{"launch-process", "thread-syscall", "timer-fired", "interrupt", "cleanup-process"} {
		if !strings.Contains(joined, kind) {
			t.Errorf("journal summary %q lacks %s", joined, kind)
		}
	}
}
