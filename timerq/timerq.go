// ============================================================================
// DELTA-ENCODED TIMER QUEUE
// ============================================================================
//
// Pending timeouts for macro-waits and alarms, kept in one list where every
// item stores the ticks remaining *after its predecessor* fires:
//
//	deadlines 3, 3, 7, 12  →  deltas 3 → 0 → 4 → 5
//
// Advancing time only ever touches the head, so it is O(expired) however
// deep the queue is. Insertion walks from the head consuming deltas; removal
// donates the removed delta to the follower so absolute deadlines behind it
// are unchanged.
//
// The hardware scheduling timer is armed for the head's absolute deadline
// whenever the head changes and disarmed when the queue empties.
//
// Concurrency: none. The scheduler mutates the queue under the sched lock.

package timerq

import (
	"smpcore/debug"
)

// Kind tells the scheduler what an expired item belongs to.
type Kind uint8

const (
	KindWaitTimeout Kind = iota // macro-wait timeout; Owner is a thread id
	KindAlarm                   // alarm object; Owner is an object handle
)

// Armer is the hardware scheduling timer.
type Armer interface {
	Arm(deadline uint64)
	Disarm()
}

// Item is an intrusive queue entry, embedded by its owner.
type Item struct {
	delta  uint64
	prev   *Item
	next   *Item
	queued bool

	Kind  Kind
	Owner uint32
}

// Queued reports whether the item is linked into a queue.
func (it *Item) Queued() bool { return it.queued }

// Queue is the delta list plus the last tick applied to it.
type Queue struct {
	head *Item
	tail *Item
	last uint64
	n    int
	hw   Armer
}

// New creates an empty queue whose time base starts at start. hw may be nil.
func New(hw Armer, start uint64) *Queue {
	return &Queue{hw: hw, last: start}
}

// Len returns the number of queued items.
func (q *Queue) Len() int { return q.n }

// Last returns the last tick applied by AdvanceTo.
func (q *Queue) Last() uint64 { return q.last }

// Head returns the next item to fire, or nil.
func (q *Queue) Head() *Item { return q.head }

// ============================================================================
// INSERT / REMOVE
// ============================================================================

// Insert queues it to fire ticks after the current time base. Items with
// equal deadlines fire in insertion order.
func (q *Queue) Insert(it *Item, ticks uint64) {
	if it.queued {
		debug.Fatal("timerq.Insert", "item already queued")
	}

	var prev *Item
	next := q.head
	for next != nil && next.delta <= ticks {
		ticks -= next.delta
		prev = next
		next = next.next
	}

	it.delta = ticks
	it.prev = prev
	it.next = next
	it.queued = true
	q.n++

	if next != nil {
		next.delta -= ticks
		next.prev = it
	} else {
		q.tail = it
	}

	if prev != nil {
		prev.next = it
		return
	}
	q.head = it
	q.arm()
}

// InsertAt queues it for an absolute deadline. Deadlines at or before the
// time base fire on the next advance.
func (q *Queue) InsertAt(it *Item, deadline uint64) {
	var ticks uint64
	if deadline > q.last {
		ticks = deadline - q.last
	}
	q.Insert(it, ticks)
}

// Remove unlinks it, donating its delta to the follower. Returns false when
// it was not queued.
func (q *Queue) Remove(it *Item) bool {
	if !it.queued {
		return false
	}

	wasHead := q.head == it
	if it.next != nil {
		it.next.delta += it.delta
		it.next.prev = it.prev
	} else {
		q.tail = it.prev
	}
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		q.head = it.next
	}

	it.prev, it.next = nil, nil
	it.delta = 0
	it.queued = false
	q.n--

	if wasHead {
		q.arm()
	}
	return true
}

// ============================================================================
// TIME ADVANCE
// ============================================================================

// AdvanceTo applies time up to now and calls fire for every expired item in
// queue order. A now at or before the last applied tick is a no-op, so
// redundant timer notifications racing in from several cores are harmless.
// Items are unlinked before fire runs; fire may re-insert them. Returns the
// number of items fired.
func (q *Queue) AdvanceTo(now uint64, fire func(*Item)) int {
	if now <= q.last {
		return 0
	}
	elapsed := now - q.last
	q.last = now

	var expired []*Item
	for q.head != nil && q.head.delta <= elapsed {
		it := q.head
		elapsed -= it.delta

		q.head = it.next
		if q.head != nil {
			q.head.prev = nil
		} else {
			q.tail = nil
		}
		it.next, it.prev = nil, nil
		it.delta = 0
		it.queued = false
		q.n--

		expired = append(expired, it)
	}
	if q.head != nil {
		q.head.delta -= elapsed
	}
	q.arm()

	for _, it := range expired {
		fire(it)
	}
	return len(expired)
}

// ============================================================================
// INSPECTION
// ============================================================================

// remaining returns the ticks left before it fires, relative to Last.
// Returns false when it is not queued.
func (q *Queue) remaining(it *Item) (uint64, bool) {
	if !it.queued {
		return 0, false
	}
	var sum uint64
	for p := q.head; p != nil; p = p.next {
		sum += p.delta
		if p == it {
			return sum, true
		}
	}
	debug.Fatal("timerq.remaining", "queued item not reachable from head")
	return 0, false
}

// deadline returns the absolute tick at which it fires.
func (q *Queue) deadline(it *Item) (uint64, bool) {
	r, ok := q.remaining(it)
	return q.last + r, ok
}

// each calls fn for every queued item in firing order.
func (q *Queue) each(fn func(it *Item, rem uint64)) {
	var sum uint64
	for p := q.head; p != nil; p = p.next {
		sum += p.delta
		fn(p, sum)
	}
}

func (q *Queue) arm() {
	if q.hw == nil {
		return
	}
	if q.head == nil {
		q.hw.Disarm()
		return
	}
	q.hw.Arm(q.last + q.head.delta)
}
