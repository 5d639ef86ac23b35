package kernel

import (
	"smpcore/ici"
	"smpcore/kobj"
	"smpcore/status"
)

// ============================================================================
// SYSCALL SURFACE
// ============================================================================
//
// A running thread leaves its core with one of these calls attached and the
// scheduler completes it under the sched lock. The outcome lands in the
// thread's Result before the thread is made runnable again.

// Syscall is a thread's request to the kernel.
type Syscall interface {
	syscall()
}

// Wait blocks on a set of objects. All selects wait-all. Timeout is in ticks;
// constants.InfiniteTimeout waits forever and 0 polls.
type Wait struct {
	Objects []kobj.Token
	All     bool
	Timeout uint64
}

// Sleep blocks for Ticks. A zero sleep is a yield.
type Sleep struct{ Ticks uint64 }

// Create allocates a kernel object owned by the calling process. Kind picks
// the constructor: Open seeds a gate, Initial and Max a semaphore.
type Create struct {
	Kind    kobj.Kind
	Open    bool
	Initial int64
	Max     int64
}

// CloseHandle drops the process's reference to an object it created.
type CloseHandle struct{ Object kobj.Token }

// SignalNotify signals a notify.
type SignalNotify struct{ Object kobj.Token }

// SetGate opens or closes a gate.
type SetGate struct {
	Object kobj.Token
	Open   bool
}

// SemRelease returns Count permits to a semaphore.
type SemRelease struct {
	Object kobj.Token
	Count  int64
}

// SetAlarm arms an alarm Delay ticks from now, repeating every Period ticks
// when Period is non-zero. Re-arming a pending alarm replaces its deadline.
type SetAlarm struct {
	Object kobj.Token
	Delay  uint64
	Period uint64
}

// CancelAlarm disarms an alarm.
type CancelAlarm struct{ Object kobj.Token }

// MailboxPost delivers one message notification.
type MailboxPost struct{ Object kobj.Token }

// MailboxClose tears a mailbox down. Waiters resume with Closed; the caller
// resumes only after the TLB shootdown for the unmapped buffers completed.
type MailboxClose struct{ Object kobj.Token }

// BindIrq creates an interrupt gate for Line.
type BindIrq struct{ Line int }

// SpawnThread starts a thread in the caller's process. A zero Affinity
// permits every core.
type SpawnThread struct {
	Program  Program
	Affinity ici.Mask
}

// SetAffinity restricts the caller to Mask.
type SetAffinity struct{ Mask ici.Mask }

// SetIOPermissions replaces the process's port permission bitmap and pushes
// it to every core.
type SetIOPermissions struct{ Ports uint64 }

// ExitThread terminates the caller.
type ExitThread struct{ Code status.Code }

// ExitProcess stops the caller's process.
type ExitProcess struct{ Code status.Code }

// Yield gives up the rest of the quantum.
type Yield struct{}

func (*Wait) syscall()             {}
func (*Sleep) syscall()            {}
func (*Create) syscall()           {}
func (*CloseHandle) syscall()      {}
func (*SignalNotify) syscall()     {}
func (*SetGate) syscall()          {}
func (*SemRelease) syscall()       {}
func (*SetAlarm) syscall()         {}
func (*CancelAlarm) syscall()      {}
func (*MailboxPost) syscall()      {}
func (*MailboxClose) syscall()     {}
func (*BindIrq) syscall()          {}
func (*SpawnThread) syscall()      {}
func (*SetAffinity) syscall()      {}
func (*SetIOPermissions) syscall() {}
func (*ExitThread) syscall()       {}
func (*ExitProcess) syscall()      {}
func (*Yield) syscall()            {}

// Result is what the last syscall returned to the thread.
type Result struct {
	Status status.Code

	// Index is the entry that satisfied a wait-any, -1 otherwise.
	Index int

	// Token names an object the call produced (Create, BindIrq, the spawned
	// thread).
	Token kobj.Token
}

// Program is the user-mode side of a thread. Step runs one slice on the
// core and returns the next syscall, or nil to keep running.
type Program interface {
	Step(last Result) Syscall
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(last Result) Syscall

func (f ProgramFunc) Step(last Result) Syscall { return f(last) }

// Script is a Program issuing a fixed sequence of calls and then spinning.
// Results collects the outcome of each call in order.
type Script struct {
	Calls   []Syscall
	Results []Result
	next    int
	pending bool
}

func (s *Script) Step(last Result) Syscall {
	if s.pending {
		s.Results = append(s.Results, last)
		s.pending = false
	}
	if s.next >= len(s.Calls) {
		return nil
	}
	c := s.Calls[s.next]
	s.next++
	s.pending = true
	return c
}

// Done reports whether every call has returned.
func (s *Script) Done() bool { return len(s.Results) == len(s.Calls) }
