// Package dpc implements per-core deferred procedure call queues.
//
// Each core owns a Set of three FIFO queues, High, Medium and Low. The
// dispatch loop runs at most one DPC per priority per pass, so a burst of
// deferred work never starves interrupt draining. A DPC never blocks: one
// that is waiting on another core (a shootdown ack, a free ICI slot) returns
// Requeue and goes to the back of its own queue.
//
// Queues are core-local. Only the owning core's dispatch loop, and code it
// calls (ICI handlers, the scheduler loop while this core holds authority),
// may touch them.
package dpc

import "smpcore/debug"

// Priority selects one of the three queues.
type Priority uint8

const (
	High Priority = iota
	Medium
	Low
	numPriorities
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	}
	return "invalid"
}

// Result is returned by a DPC body.
type Result uint8

const (
	Done    Result = iota // finished; the DPC is dequeued
	Requeue               // not finished; run again on a later pass
)

// Func is a DPC body.
type Func func(d *DPC) Result

// DPC is an intrusive queue entry. The zero value is unusable; build with New
// or set Fn before queueing.
type DPC struct {
	Fn  Func
	Arg any

	next   *DPC
	prio   Priority
	queued bool
	runs   uint32
}

// New returns a DPC for fn with an opaque argument.
func New(fn Func, arg any) *DPC {
	return &DPC{Fn: fn, Arg: arg}
}

// Queued reports whether d is waiting in a queue.
func (d *DPC) Queued() bool { return d.queued }

// Runs counts how many times the body has executed.
func (d *DPC) Runs() uint32 { return d.runs }

type queue struct {
	head *DPC
	tail *DPC
	n    int
}

func (q *queue) push(d *DPC) {
	d.next = nil
	if q.tail == nil {
		q.head = d
	} else {
		q.tail.next = d
	}
	q.tail = d
	q.n++
}

func (q *queue) pop() *DPC {
	d := q.head
	if d == nil {
		return nil
	}
	q.head = d.next
	if q.head == nil {
		q.tail = nil
	}
	d.next = nil
	q.n--
	return d
}

// Set is one core's three queues.
type Set struct {
	q [numPriorities]queue
}

// Queue appends d at priority p. Queueing a DPC that is already queued is a
// no-op, so a DPC doubles as a "work pending" flag.
func (s *Set) Queue(d *DPC, p Priority) {
	if p >= numPriorities {
		debug.Fatal("dpc.Queue", "invalid priority")
	}
	if d.Fn == nil {
		debug.Fatal("dpc.Queue", "DPC without body")
	}
	if d.queued {
		return
	}
	d.prio = p
	d.queued = true
	s.q[p].push(d)
}

// RunOne executes the oldest DPC at priority p. Returns false when the queue
// was empty. A Requeue result sends the DPC to the back of the same queue.
func (s *Set) RunOne(p Priority) bool {
	d := s.q[p].pop()
	if d == nil {
		return false
	}
	d.queued = false
	d.runs++
	if d.Fn(d) == Requeue && !d.queued {
		d.queued = true
		s.q[p].push(d)
	}
	return true
}

// Pending returns the number of DPCs queued at priority p.
func (s *Set) Pending(p Priority) int { return s.q[p].n }

// empty reports whether all three queues are empty.
func (s *Set) empty() bool {
	return s.q[High].n == 0 && s.q[Medium].n == 0 && s.q[Low].n == 0
}
