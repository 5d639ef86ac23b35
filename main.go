// ════════════════════════════════════════════════════════════════════════════════════════════════
// SMP Kernel Core - Main Entry Point
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: SMP Kernel Core
// Component: Boot & Demo Orchestration
//
// Description:
//   Boots the simulated machine, launches the demo workload and reports scheduler and journal
//   statistics once every process has stopped.
//
// Phases:
//   - Phase 0: Load the boot configuration (argv[1], defaults otherwise)
//   - Phase 1: Boot scheduler, cores, tick source and journal
//   - Phase 2: Launch the workload and drive device interrupts until it drains
//   - Phase 3: Stop the machine and report
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"os"
	"os/signal"
	"syscall"

	"smpcore/config"
	"smpcore/control"
	"smpcore/debug"
	"smpcore/ici"
	"smpcore/machine"
	"smpcore/utils"
)

// irqPeriod is how many ticks pass between demo device interrupts.
const irqPeriod = 25

func main() {
	// PHASE 0: Boot configuration
	cfg := config.Default()
	if len(os.Args) > 1 {
		loaded, err := config.Load(os.Args[1])
		if err != nil {
			debug.DropError("CONFIG", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// PHASE 1: Machine boot
	m, err := machine.New(cfg)
	if err != nil {
		debug.DropError("BOOT", err)
		os.Exit(1)
	}
	setupSignalHandling()

	// PHASE 2: Workload
	procs, err := launchWorkload(m.Sched)
	if err != nil {
		debug.DropError("WORKLOAD", err)
		m.Close()
		os.Exit(1)
	}
	debug.DropMessage("READY", utils.Itoa(len(procs))+" processes launched")

	m.Start()
	finished := func() bool { return drained(m) }
	start := m.Clock.Now()
	for !finished() && !control.Stopping() {
		if cfg.RunTicks != 0 && m.Clock.Now()-start >= cfg.RunTicks {
			debug.DropMessage("RUN", "tick budget exhausted")
			break
		}
		m.WaitFor(finished, irqPeriod)
		m.RaiseIRQ(demoIrqLine)
	}

	// PHASE 3: Report
	m.Stop()
	report(m, procs)
	if err := m.Close(); err != nil {
		debug.DropError("JOURNAL", err)
	}
}

// drained reports whether the workload was launched and every process and
// thread has been cleaned up. Launch is the first item handled.
func drained(m *machine.Machine) bool {
	return m.Sched.Stats().Handled > 0 && m.Sched.LiveProcesses() == 0 && m.Sched.LiveThreads() == 0
}

// report prints per-process exit codes, per-core counters, scheduler stats
// and the journal summary.
func report(m *machine.Machine, procs []workloadProcess) {
	for _, wp := range procs {
		debug.DropMessage("PROC "+wp.p.Name,
			"state="+wp.p.State().String()+" exit="+wp.p.ExitCode().String()+" "+wp.outcome())
	}

	for _, c := range m.Sched.Cores() {
		debug.DropMessage("CORE "+utils.Itoa(c.ID()),
			"ticks="+utils.Utoa(c.Ticks())+" queued="+utils.Itoa(c.Queued()))
	}

	st := m.Sched.Stats()
	debug.DropMessage("SCHED",
		"queued="+utils.Utoa(st.Queued)+
			" handled="+utils.Utoa(st.Handled)+
			" entries="+utils.Utoa(st.Entries)+
			" timers="+utils.Utoa(st.TimerHits)+
			" ici-missed="+utils.Utoa(st.ICIMissed))
	for typ := ici.Type(0); typ < ici.NumTypes; typ++ {
		if st.ICISent[typ] != 0 {
			debug.DropMessage("ICI "+typ.String(), utils.Utoa(st.ICISent[typ]))
		}
	}

	flushes, loads, releases := m.MMU.Counters()
	debug.DropMessage("MMU",
		"flushes="+utils.Utoa(flushes)+" io-loads="+utils.Utoa(loads)+" releases="+utils.Utoa(releases))

	if m.Journal == nil {
		return
	}
	summary, err := m.Journal.Store().Summary()
	if err != nil {
		debug.DropError("JOURNAL", err)
		return
	}
	for _, kc := range summary {
		debug.DropMessage("JOURNAL "+kc.Kind, utils.Itoa(kc.Count))
	}
	if d := m.Journal.Dropped(); d != 0 {
		debug.DropMessage("JOURNAL", utils.Utoa(d)+" events dropped")
	}
}

// setupSignalHandling stops the core runners on SIGINT or SIGTERM. The main
// loop notices control.Stopping and reports.
func setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		debug.DropMessage("SIGNAL", "Received interrupt, shutting down...")
		control.Shutdown()
	}()
}
