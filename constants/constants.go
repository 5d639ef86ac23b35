// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go — Kernel-wide scheduling tunables
//
// Purpose:
//   - Quantum sizing, placement hysteresis and structure capacities shared by
//     the scheduler, the per-core dispatch loop and the boot configuration.
//
// Notes:
//   - Ticks are abstract scheduler ticks; the machine harness maps them to
//     wall time through config.Boot.TickMicros.
//
// ⚠️ No runtime logic here — all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

// ───────────────────────────── Quantum sizing ──────────────────────────────

const (
	// QuantumBudget is the number of ticks a core shares across one round of
	// its runnable threads: quantum = QuantumBudget / runnable.
	QuantumBudget = 100

	// QuantumMin bounds the slice from below so heavy contention still makes
	// progress between context switches.
	QuantumMin = 10

	// QuantumMax bounds the slice from above so a lone thread still yields to
	// newly migrated work within a bounded delay.
	QuantumMax = 50
)

// ───────────────────────────── Thread placement ────────────────────────────

const (
	// PlacementHysteresisPercent is how much more loaded (in resident
	// threads) a thread's previous core must be, relative to the least
	// loaded permitted core, before the thread is moved.
	PlacementHysteresisPercent = 10
)

// ───────────────────────────── Capacities ──────────────────────────────────

const (
	// MaxCores is the width of a core mask.
	MaxCores = 64

	// DefaultObjectCapacity sizes the kernel object arena.
	DefaultObjectCapacity = 1 << 14

	// DefaultEntryCapacity sizes the wait-entry arena.
	DefaultEntryCapacity = 1 << 16

	// MaxWaitEntries caps the object count of a single macro-wait.
	MaxWaitEntries = 64

	// JournalRingSize is the SPSC ring depth between the scheduler and the
	// journal flusher. Power of two.
	JournalRingSize = 1 << 12
)

// ───────────────────────────── Timing ──────────────────────────────────────

const (
	// InfiniteTimeout marks a macro-wait with no timer item.
	InfiniteTimeout = ^uint64(0)

	// DefaultTickMicros is the simulated tick period.
	DefaultTickMicros = 1000
)

// ───────────────────────────── Core runner cooldown ────────────────────────

const (
	// ControlCooldownPolls is how many idle polls of the boot core pass after
	// the last interrupt before the activity flag drops and idle cores park
	// instead of spinning.
	ControlCooldownPolls = 1 << 16
)
