package cpu

// SpinBudget is the number of failed polls a spinning caller makes before it
// issues a relax burst.
const SpinBudget = 224

// MaxBurst caps the PAUSE count of one relax burst.
const MaxBurst = 64

// Backoff counts failed polls. Every SpinBudget misses it relaxes the CPU
// with a burst that doubles up to MaxBurst; Reset drops it back to one.
type Backoff struct {
	miss  int
	burst int
}

// Miss records one failed poll.
//
//go:nosplit
func (b *Backoff) Miss() {
	if b.miss++; b.miss < SpinBudget {
		return
	}
	b.miss = 0
	if b.burst == 0 {
		b.burst = 1
	}
	RelaxN(b.burst)
	if b.burst < MaxBurst {
		b.burst <<= 1
	}
}

// Reset clears the miss counter and the burst after a successful poll.
//
//go:nosplit
func (b *Backoff) Reset() { b.miss, b.burst = 0, 0 }
