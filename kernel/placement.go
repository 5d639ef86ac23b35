package kernel

import (
	"smpcore/constants"
	"smpcore/debug"
	"smpcore/ici"
	"smpcore/status"
)

// ============================================================================
// THREAD PLACEMENT (sched lock held)
// ============================================================================
//
// A fresh thread, or any thread while nothing is resident anywhere, goes to
// the least loaded permitted core. Otherwise the thread stays on the core it
// last ran on, keeping its cache warm, unless that core is no longer
// permitted or is strictly busier than the least loaded permitted core by
// at least PlacementHysteresisPercent.

// place picks the target core for t.
func (s *Scheduler) place(t *Thread) int {
	allowed := t.affinity & ici.All(len(s.cores))
	if allowed == 0 {
		debug.Fatal("kernel.place", "thread without a permitted core")
	}

	least, total := -1, 0
	for core, n := range s.residents {
		total += n
		if allowed.Has(core) && (least < 0 || n < s.residents[least]) {
			least = core
		}
	}

	last := t.lastCore
	if last < 0 || total == 0 || !allowed.Has(last) {
		return least
	}
	ln, mn := s.residents[last], s.residents[least]
	if ln > mn && ln*100 >= mn*(100+constants.PlacementHysteresisPercent) {
		return least
	}
	return last
}

// makeThreadRun places t on a core, or exits it when its process is going
// away.
func (s *Scheduler) makeThreadRun(t *Thread) {
	if t.Process.state.dying() {
		s.terminate(t, status.Aborted)
		return
	}
	s.MigrateThreadToCore(t, s.place(t))
}

// MigrateThreadToCore pushes t onto core's inbound list and counts it as
// resident there. Scheduler only.
func (s *Scheduler) MigrateThreadToCore(t *Thread, core int) {
	if t.core >= 0 {
		debug.Fatal("kernel.MigrateThreadToCore", "thread is already resident on a core")
	}
	t.setState(ThreadMigrating)
	t.core = core
	s.residents[core]++
	s.cores[core].inbound.Push(t)
	if s.cur == nil || core != s.cur.id {
		s.wakeMask |= ici.Bit(core)
	}
}

// Residents returns the resident thread count of every core. Diagnostic only.
func (s *Scheduler) Residents() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.residents...)
}
