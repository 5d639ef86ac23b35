package kernel

import (
	"smpcore/kobj"
	"smpcore/status"
)

// ============================================================================
// SCHEDULING ITEMS
// ============================================================================
//
// Every request to the global scheduler is one of the variants below. The
// loop orders a drained batch by At and dispatches on the concrete type;
// handle() switches over all of them and treats anything else as fatal.

// Item is a scheduling request.
type Item interface {
	stamp() *itemBase
}

type itemBase struct {
	// At is the clock tick the request was queued at. QueueItem fills it.
	At uint64
}

func (b *itemBase) stamp() *itemBase { return b }

// ThreadSyscall hands a thread that left its core to the scheduler with its
// pending call.
type ThreadSyscall struct {
	itemBase
	Thread *Thread
}

// AbortedRunningThread reports a thread a stop DPC pulled off a core.
type AbortedRunningThread struct {
	itemBase
	Thread *Thread
}

// TimerFired is a hardware timer notification. It carries nothing: the
// handler advances the timer queue to the current tick, which makes
// duplicates from several cores harmless.
type TimerFired struct {
	itemBase
}

// SignalProxy fires a notify or opens a gate on behalf of interrupt context.
type SignalProxy struct {
	itemBase
	Object kobj.Token
}

// CrashProcess stops a process from outside its threads.
type CrashProcess struct {
	itemBase
	Process *Process
	Code    status.Code
}

// DeferredResumeCompleted resumes a thread parked until its close chain
// finished.
type DeferredResumeCompleted struct {
	itemBase
	Thread *Thread
}

// CleanupThread drops an exited thread from the registry.
type CleanupThread struct {
	itemBase
	Thread *Thread
}

// CleanupProcess drops a stopped process after its address space was
// released.
type CleanupProcess struct {
	itemBase
	Process *Process
}

// Interrupt is a device interrupt on Line.
type Interrupt struct {
	itemBase
	Line int
}

// ProcessStopAcked is queued by the last core to run a process's stop DPC.
type ProcessStopAcked struct {
	itemBase
	Process *Process
}

// LaunchProcess publishes a built process and starts its threads.
type LaunchProcess struct {
	itemBase
	Process *Process
}

func itemName(it Item) string {
	switch it.(type) {
	case *ThreadSyscall:
		return "thread-syscall"
	case *AbortedRunningThread:
		return "aborted-running-thread"
	case *TimerFired:
		return "timer-fired"
	case *SignalProxy:
		return "signal-proxy"
	case *CrashProcess:
		return "crash-process"
	case *DeferredResumeCompleted:
		return "deferred-resume-completed"
	case *CleanupThread:
		return "cleanup-thread"
	case *CleanupProcess:
		return "cleanup-process"
	case *Interrupt:
		return "interrupt"
	case *ProcessStopAcked:
		return "process-stopped"
	case *LaunchProcess:
		return "launch-process"
	}
	return "unknown"
}

// sortItems orders a drained batch by timestamp. Batches are short and
// mostly sorted already, so insertion sort; ties keep push order.
func sortItems(items []Item) {
	for i := 1; i < len(items); i++ {
		it := items[i]
		at := it.stamp().At
		j := i
		for j > 0 && items[j-1].stamp().At > at {
			items[j] = items[j-1]
			j--
		}
		items[j] = it
	}
}
