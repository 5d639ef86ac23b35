// ════════════════════════════════════════════════════════════════════════════════════════════════
// Scheduler Event Journal
// Component: ring feed and flusher
//
// Description:
//   Record is called by whichever core holds scheduling authority. The sched lock serialises
//   those calls, so the journal ring sees one logical producer. A flusher goroutine pops events
//   and appends them to the store in batches.
//
// Notes:
//   - Record never blocks. A full ring drops the event and counts it.
//   - The flusher spins with cpu.Backoff while events keep arriving and parks briefly once the
//     ring has stayed empty for a spin budget.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package journal

import (
	"sync/atomic"
	"time"

	"smpcore/constants"
	"smpcore/cpu"
	"smpcore/debug"
	"smpcore/ring"
)

// BatchSize is the maximum number of events appended per transaction.
const BatchSize = 256

// idlePark is how long the flusher sleeps after a spin budget of empty polls.
const idlePark = time.Millisecond

// Journal is the scheduler's event sink.
type Journal struct {
	ring  *ring.Ring[Event]
	store *Store
	batch []Event

	recorded atomic.Uint64
	dropped  atomic.Uint64
	written  atomic.Uint64
	failed   atomic.Uint64

	closing atomic.Bool
	done    chan struct{}
}

// Open opens the store at path and starts the flusher.
func Open(path string) (*Journal, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

// New starts a flusher over an already open store. The journal owns the store
// from here on and closes it in Close.
func New(store *Store) *Journal {
	j := &Journal{
		ring:  ring.New[Event](constants.JournalRingSize),
		store: store,
		batch: make([]Event, 0, BatchSize),
		done:  make(chan struct{}),
	}
	go j.flusher()
	return j
}

// Record queues ev for persistence. Callers must be serialised.
//
//go:nosplit
//go:inline
func (j *Journal) Record(ev Event) {
	if !j.ring.Push(ev) {
		j.dropped.Add(1)
		return
	}
	j.recorded.Add(1)
}

// Recorded returns the number of events accepted by Record.
func (j *Journal) Recorded() uint64 { return j.recorded.Load() }

// Dropped returns the number of events lost to a full ring.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns the number of events committed to the store.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Store exposes the underlying store for queries. Valid until Close.
func (j *Journal) Store() *Store { return j.store }

// Sync waits until every recorded event has been committed or failed.
func (j *Journal) Sync() {
	for j.written.Load()+j.failed.Load() < j.recorded.Load() {
		time.Sleep(idlePark)
	}
}

// Close drains the ring, stops the flusher and leaves the store open for
// queries. Call CloseStore when done with it.
func (j *Journal) Close() {
	if j.closing.Swap(true) {
		return
	}
	<-j.done
}

// CloseStore closes the store. Only valid after Close.
func (j *Journal) CloseStore() error {
	return j.store.Close()
}

func (j *Journal) flusher() {
	defer close(j.done)

	var (
		b     cpu.Backoff
		empty int
	)
	for {
		if j.fill() {
			b.Reset()
			empty = 0
			j.flush()
			continue
		}
		if j.closing.Load() {
			// Record may have raced the flag; one more drain settles it.
			for j.fill() {
				j.flush()
			}
			return
		}
		b.Miss()
		if empty++; empty >= cpu.SpinBudget {
			empty = 0
			time.Sleep(idlePark)
		}
	}
}

// fill pops up to BatchSize events into the batch and reports whether any
// were taken.
func (j *Journal) fill() bool {
	for len(j.batch) < BatchSize {
		ev, ok := j.ring.Pop()
		if !ok {
			break
		}
		j.batch = append(j.batch, ev)
	}
	return len(j.batch) > 0
}

func (j *Journal) flush() {
	n := uint64(len(j.batch))
	if err := j.store.Append(j.batch); err != nil {
		debug.DropError("JOURNAL", err)
		j.failed.Add(n)
	} else {
		j.written.Add(n)
	}
	j.batch = j.batch[:0]
}
