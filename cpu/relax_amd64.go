// ════════════════════════════════════════════════════════════════════════════════════════════════
// Spin Hint - AMD64
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: SMP Kernel Core
// Component: PAUSE bursts for idle cores and the journal flusher
//
// Description:
//   A cgo call costs far more than one PAUSE, so the C side runs the whole burst in one crossing.
//   Backoff grows the burst while a poller keeps missing.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

//go:build amd64 && cgo && !noasm && !nocgo

package cpu

/*
static inline void smp_pause_burst(int n) {
    for (int i = 0; i < n; i++) {
        __asm__ __volatile__("pause" ::: "memory");
    }
}
*/
import "C"

// RelaxN issues n PAUSEs in a single cgo crossing.
//
//go:norace
//go:nocheckptr
func RelaxN(n int) {
	if n > 0 {
		C.smp_pause_burst(C.int(n))
	}
}
