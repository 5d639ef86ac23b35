package kobj

import (
	"smpcore/debug"
	"smpcore/status"
)

// ============================================================================
// CONSTRUCTORS
// ============================================================================

// NewNotify creates an unsignaled auto-reset notify.
func (t *Table) NewNotify() (Handle, error) { return t.create(KindNotify, nil) }

// NewGate creates a gate in the given state.
func (t *Table) NewGate(open bool) (Handle, error) {
	return t.create(KindGate, func(o *Object) { o.flag = open })
}

// NewIrqGate creates a closed gate bound to an interrupt line.
func (t *Table) NewIrqGate(line int) (Handle, error) {
	return t.create(KindIrqGate, func(o *Object) { o.line = line })
}

// NewSemaphore creates a counting semaphore.
func (t *Table) NewSemaphore(initial, max int64) (Handle, error) {
	if max <= 0 || initial < 0 || initial > max {
		return Nil, status.ErrBadArgument
	}
	return t.create(KindSemaphore, func(o *Object) { o.count, o.max = initial, max })
}

// NewMailbox creates an open mailbox with no pending messages.
func (t *Table) NewMailbox() (Handle, error) { return t.create(KindMailbox, nil) }

// NewAlarm creates an unarmed alarm.
func (t *Table) NewAlarm() (Handle, error) { return t.create(KindAlarm, nil) }

// NewTerminal creates the waitable side of a process or thread.
func (t *Table) NewTerminal(kind Kind, owner uint32) (Handle, error) {
	if kind != KindProcess && kind != KindThread {
		return Nil, status.ErrBadArgument
	}
	return t.create(kind, func(o *Object) { o.owner = owner })
}

// ============================================================================
// WAIT CONTRACT: PREDICATE AND EARLY-SATISFY HOOK
// ============================================================================

// Satisfied evaluates h's predicate.
func (t *Table) Satisfied(h Handle) bool {
	o := &t.objs[h]
	switch o.kind {
	case KindNotify, KindGate, KindIrqGate, KindAlarm, KindProcess, KindThread:
		return o.flag
	case KindSemaphore, KindMailbox:
		return o.count > 0
	}
	return false
}

// Closed reports whether waiting on h can never succeed.
func (t *Table) Closed(h Handle) bool { return t.objs[h].closed }

// Consume applies the side effect of satisfying one waiter: a notify or irq
// gate resets, a semaphore loses a permit, a mailbox loses a message. Gates,
// alarms and terminal objects are level-triggered and unchanged.
func (t *Table) Consume(h Handle) {
	o := &t.objs[h]
	if !t.Satisfied(h) {
		debug.Fatal("kobj.Consume", "consuming an unsatisfied "+o.kind.String())
	}
	switch o.kind {
	case KindNotify, KindIrqGate:
		o.flag = false
	case KindSemaphore, KindMailbox:
		o.count--
	}
}

// Level reports whether a signal on h should release every eligible waiter
// rather than at most one.
func (t *Table) Level(h Handle) bool {
	switch t.objs[h].kind {
	case KindAlarm, KindProcess, KindThread:
		return true
	}
	return false
}

// ============================================================================
// KIND-SPECIFIC STATE CHANGES (sched lock held)
// ============================================================================

func (t *Table) expect(h Handle, where string, kinds ...Kind) *Object {
	o := &t.objs[h]
	for _, k := range kinds {
		if o.kind == k {
			return o
		}
	}
	debug.Fatal(where, "wrong object kind "+o.kind.String())
	return nil
}

// Signal sets a notify.
func (t *Table) Signal(h Handle) {
	t.expect(h, "kobj.Signal", KindNotify).flag = true
}

// SetGate opens or closes a gate. Returns true when the gate went from
// closed to open.
func (t *Table) SetGate(h Handle, open bool) bool {
	o := t.expect(h, "kobj.SetGate", KindGate, KindIrqGate)
	opened := open && !o.flag
	o.flag = open
	return opened
}

// Line returns the interrupt line of an irq gate.
func (t *Table) Line(h Handle) int { return t.expect(h, "kobj.Line", KindIrqGate).line }

// SemAdd returns n permits. Exceeding the ceiling is a bad argument and
// changes nothing.
func (t *Table) SemAdd(h Handle, n int64) error {
	o := t.expect(h, "kobj.SemAdd", KindSemaphore)
	if n <= 0 || o.count+n > o.max {
		return status.ErrBadArgument
	}
	o.count += n
	return nil
}

// Count returns the semaphore permits or mailbox pending messages.
func (t *Table) Count(h Handle) int64 { return t.objs[h].count }

// Post queues one message notification on a mailbox.
func (t *Table) Post(h Handle) error {
	o := t.expect(h, "kobj.Post", KindMailbox)
	if o.closed {
		return status.ErrClosed
	}
	o.count++
	return nil
}

// CloseMailbox marks a mailbox closed and drops pending messages. Returns
// false when it was already closed.
func (t *Table) CloseMailbox(h Handle) bool {
	o := t.expect(h, "kobj.CloseMailbox", KindMailbox)
	if o.closed {
		return false
	}
	o.closed = true
	o.count = 0
	return true
}

// ArmAlarm clears the expired flag and records the period (0 = one-shot).
func (t *Table) ArmAlarm(h Handle, period uint64) {
	o := t.expect(h, "kobj.ArmAlarm", KindAlarm)
	o.flag = false
	o.period = period
}

// ExpireAlarm sets the expired flag and returns the period.
func (t *Table) ExpireAlarm(h Handle) uint64 {
	o := t.expect(h, "kobj.ExpireAlarm", KindAlarm)
	o.flag = true
	return o.period
}

// ClearAlarm drops the expired flag of a periodic alarm between periods.
func (t *Table) ClearAlarm(h Handle) {
	t.expect(h, "kobj.ClearAlarm", KindAlarm).flag = false
}

// SetTerminal marks a process or thread object terminal.
func (t *Table) SetTerminal(h Handle) {
	t.expect(h, "kobj.SetTerminal", KindProcess, KindThread).flag = true
}

// Owner returns the process or thread id behind a terminal object.
func (t *Table) Owner(h Handle) uint32 {
	return t.expect(h, "kobj.Owner", KindProcess, KindThread).owner
}
