package kernel

import (
	"sync/atomic"

	"smpcore/debug"
	"smpcore/dpc"
	"smpcore/ici"
	"smpcore/kobj"
	"smpcore/status"
	"smpcore/utils"
)

// ============================================================================
// THREAD STATE MACHINE
// ============================================================================
//
//	Created → Migrating → OnCoreLists ⇄ Running
//	Migrating | OnCoreLists | Running → InScheduler      syscall, stop DPC
//	InScheduler → Migrating | Waiting | ResumeDeferred | Exited
//	Waiting | ResumeDeferred → InScheduler
//	Created → Exited                                      stopped before launch
//
// Only the scheduler (under the sched lock) and the core the thread is
// resident on change the state; the hand-over between them goes through
// lock-free lists, which orders the accesses.

// ThreadState is a thread's position in its lifecycle.
type ThreadState uint8

const (
	ThreadCreated ThreadState = iota
	ThreadMigrating
	ThreadOnCoreLists
	ThreadRunning
	ThreadWaiting
	ThreadInScheduler
	ThreadResumeDeferred
	ThreadExited
	numThreadStates
)

var threadStateNames = [numThreadStates]string{
	"created", "migrating", "on-core-lists", "running", "waiting",
	"in-scheduler", "resume-deferred", "exited",
}

func (s ThreadState) String() string {
	if s < numThreadStates {
		return threadStateNames[s]
	}
	return "invalid"
}

var threadTransitions = [numThreadStates]uint16{
	ThreadCreated:        1<<ThreadMigrating | 1<<ThreadExited,
	ThreadMigrating:      1<<ThreadOnCoreLists | 1<<ThreadInScheduler,
	ThreadOnCoreLists:    1<<ThreadRunning | 1<<ThreadInScheduler,
	ThreadRunning:        1<<ThreadOnCoreLists | 1<<ThreadInScheduler,
	ThreadWaiting:        1 << ThreadInScheduler,
	ThreadInScheduler:    1<<ThreadMigrating | 1<<ThreadWaiting | 1<<ThreadResumeDeferred | 1<<ThreadExited,
	ThreadResumeDeferred: 1 << ThreadInScheduler,
	ThreadExited:         0,
}

// Thread is a schedulable context.
type Thread struct {
	ID      uint32
	Process *Process

	state    ThreadState
	affinity ici.Mask
	lastCore int // core it last ran on, -1 before the first run
	core     int // core it is resident on, -1 while off-core

	quantum int
	ticks   uint64 // ticks consumed while running

	prog   Program
	call   Syscall
	result Result
	wait   *MacroWait

	obj     kobj.Handle // waitable terminal object
	token   kobj.Token
	cleanup *dpc.DPC
}

func (t *Thread) setState(next ThreadState) {
	if threadTransitions[t.state]&(1<<next) == 0 {
		debug.Fatal("thread "+utils.Utoa(uint64(t.ID)),
			"illegal transition "+t.state.String()+" -> "+next.String())
	}
	t.state = next
}

// State returns the current state. Only meaningful to the owner of the
// thread at that moment (its core or the scheduler) or after the machine
// stopped.
func (t *Thread) State() ThreadState { return t.state }

// Result returns the outcome of the last syscall.
func (t *Thread) Result() Result { return t.result }

// Token names the thread's waitable terminal object.
func (t *Thread) Token() kobj.Token { return t.token }

// LastCore returns the core the thread last ran on, -1 if it never ran.
func (t *Thread) LastCore() int { return t.lastCore }

// Ticks returns the ticks the thread consumed on cores.
func (t *Thread) Ticks() uint64 { return t.ticks }

// Quantum returns the ticks left in the current slice.
func (t *Thread) Quantum() int { return t.quantum }

// ============================================================================
// PROCESS STATE MACHINE
// ============================================================================

// ProcessState is a process's position in its lifecycle.
type ProcessState uint8

const (
	ProcessInRawCreate ProcessState = iota
	ProcessInBuild
	ProcessLaunching
	ProcessStarting
	ProcessRunning
	ProcessStopping
	ProcessStopped
	numProcessStates
)

var processStateNames = [numProcessStates]string{
	"raw-create", "build", "launching", "starting", "running", "stopping", "stopped",
}

func (s ProcessState) String() string {
	if s < numProcessStates {
		return processStateNames[s]
	}
	return "invalid"
}

var processTransitions = [numProcessStates]uint8{
	ProcessInRawCreate: 1<<ProcessInBuild | 1<<ProcessStopping,
	ProcessInBuild:     1<<ProcessLaunching | 1<<ProcessStopping,
	ProcessLaunching:   1<<ProcessStarting | 1<<ProcessStopping,
	ProcessStarting:    1<<ProcessRunning | 1<<ProcessStopping,
	ProcessRunning:     1 << ProcessStopping,
	ProcessStopping:    1 << ProcessStopped,
	ProcessStopped:     0,
}

// dying reports whether the process is past the point of running threads.
func (s ProcessState) dying() bool { return s >= ProcessStopping }

// Process is an address space plus its threads.
type Process struct {
	ID   uint32
	Name string

	state    ProcessState
	threads  map[uint32]*Thread // not yet exited
	all      []*Thread          // creation order, kept until cleanup
	owned    map[kobj.Handle]struct{}
	exitCode status.Code

	stop      stopState
	ioPorts   atomic.Uint64
	ioVersion atomic.Uint64 // bumped after ioPorts is stored

	obj   kobj.Handle
	token kobj.Token
}

func (p *Process) setState(next ProcessState) {
	if processTransitions[p.state]&(1<<next) == 0 {
		debug.Fatal("process "+p.Name,
			"illegal transition "+p.state.String()+" -> "+next.String())
	}
	p.state = next
}

// State returns the current state.
func (p *Process) State() ProcessState { return p.state }

// Token names the process's waitable terminal object.
func (p *Process) Token() kobj.Token { return p.token }

// ExitCode is the status the process stopped with.
func (p *Process) ExitCode() status.Code { return p.exitCode }

// Threads returns every thread the process created, in creation order.
func (p *Process) Threads() []*Thread { return p.all }
