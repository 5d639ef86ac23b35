// control.go — Global stop and activity flags for the simulated core runners
// ============================================================================
// SYSTEM CONTROL ORCHESTRATION
// ============================================================================
//
// Control holds the two process-wide flags every core runner polls:
//
//   • stop: set once by Shutdown; runners exit their loop on the next poll
//   • hot:  set by every interrupt source; while hot, idle cores spin with a
//           relax hint instead of parking on their wake channel
//
// Cooldown is measured in polls rather than wall time so the hot path never
// reads the clock: the boot core calls PollCooldown on each idle pass and the
// flag drops after constants.ControlCooldownPolls polls without activity.

package control

import (
	"sync/atomic"

	"smpcore/constants"
)

var (
	activityFlag      uint32 // 1 while interrupts are arriving
	shutdownFlag      uint32 // 1 once Shutdown was called
	lastActivityCount uint64 // pollCounter value at the last SignalActivity
	pollCounter       uint64 // idle polls observed by the boot core
)

// SignalActivity marks the machine hot. Called by interrupt sources (tick
// source, hardware timer, ICI sends).
//
//go:nosplit
//go:inline
func SignalActivity() {
	atomic.StoreUint64(&lastActivityCount, atomic.LoadUint64(&pollCounter))
	atomic.StoreUint32(&activityFlag, 1)
}

// PollCooldown advances the virtual idle clock and clears the hot flag once
// the cooldown window has passed.
//
//go:nosplit
//go:inline
func PollCooldown() {
	now := atomic.AddUint64(&pollCounter, 1)
	if atomic.LoadUint32(&activityFlag) == 1 &&
		now-atomic.LoadUint64(&lastActivityCount) > constants.ControlCooldownPolls {
		atomic.StoreUint32(&activityFlag, 0)
	}
}

// Hot reports whether interrupts arrived recently.
//
//go:nosplit
//go:inline
func Hot() bool {
	return atomic.LoadUint32(&activityFlag) == 1
}

// Shutdown asks every core runner to stop.
//
//go:nosplit
//go:inline
func Shutdown() {
	atomic.StoreUint32(&shutdownFlag, 1)
}

// Stopping reports whether Shutdown was called.
//
//go:nosplit
//go:inline
func Stopping() bool {
	return atomic.LoadUint32(&shutdownFlag) == 1
}

// Flags returns the raw flag words for callers that poll them with their own
// atomic loads.
//
//go:nosplit
//go:inline
func Flags() (*uint32, *uint32) {
	return &shutdownFlag, &activityFlag
}

// Reset clears all flags so a new machine can boot in the same process.
func Reset() {
	atomic.StoreUint32(&activityFlag, 0)
	atomic.StoreUint32(&shutdownFlag, 0)
	atomic.StoreUint64(&lastActivityCount, 0)
	atomic.StoreUint64(&pollCounter, 0)
}
