package kobj

import (
	"smpcore/debug"
	"smpcore/status"
)

// EntryID indexes the wait-entry arena.
type EntryID uint32

// NilEntry terminates wait lists and the entry freelist.
const NilEntry EntryID = ^EntryID(0)

// Entry is one object reference inside a macro-wait. While mounted it sits on
// its object's wait list in insertion order.
type Entry struct {
	obj     Handle
	waiter  uint32 // thread id
	index   uint16 // position inside the macro-wait
	prev    EntryID
	next    EntryID
	mounted bool
	live    bool
}

// AllocEntry reserves an entry for waiter's index-th wait object. The entry
// does not own a reference by itself; the macro-wait does.
func (t *Table) AllocEntry(obj Handle, waiter uint32, index int) (EntryID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.freeEntry
	if id == NilEntry {
		return NilEntry, status.ErrOutOfMemory
	}
	e := &t.entries[id]
	t.freeEntry = e.next
	*e = Entry{obj: obj, waiter: waiter, index: uint16(index), prev: NilEntry, next: NilEntry, live: true}
	t.liveEnts++
	return id, nil
}

// FreeEntry returns an unmounted entry to the arena.
func (t *Table) FreeEntry(id EntryID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &t.entries[id]
	if !e.live {
		debug.Fatal("kobj.FreeEntry", "entry freed twice")
	}
	if e.mounted {
		debug.Fatal("kobj.FreeEntry", "freeing a mounted entry")
	}
	e.live = false
	e.prev = NilEntry
	e.next = t.freeEntry
	t.freeEntry = id
	t.liveEnts--
}

// LiveEntries returns the number of allocated entries.
func (t *Table) LiveEntries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveEnts
}

// Entry returns the object, waiting thread and macro-wait index of id.
func (t *Table) Entry(id EntryID) (obj Handle, waiter uint32, index int) {
	e := &t.entries[id]
	return e.obj, e.waiter, int(e.index)
}

// Mounted reports whether id is on its object's wait list.
func (t *Table) Mounted(id EntryID) bool { return t.entries[id].mounted }

// Mount appends id to its object's wait list.
func (t *Table) Mount(id EntryID) {
	e := &t.entries[id]
	if !e.live {
		debug.Fatal("kobj.Mount", "mounting a free entry")
	}
	if e.mounted {
		debug.Fatal("kobj.Mount", "entry already mounted")
	}
	o := &t.objs[e.obj]
	e.prev = o.tail
	e.next = NilEntry
	if o.tail != NilEntry {
		t.entries[o.tail].next = id
	} else {
		o.head = id
	}
	o.tail = id
	o.waiters++
	e.mounted = true
}

// Unmount removes id from its object's wait list.
func (t *Table) Unmount(id EntryID) {
	e := &t.entries[id]
	if !e.mounted {
		debug.Fatal("kobj.Unmount", "entry not mounted")
	}
	o := &t.objs[e.obj]
	if e.prev != NilEntry {
		t.entries[e.prev].next = e.next
	} else {
		o.head = e.next
	}
	if e.next != NilEntry {
		t.entries[e.next].prev = e.prev
	} else {
		o.tail = e.prev
	}
	e.prev, e.next = NilEntry, NilEntry
	o.waiters--
	e.mounted = false
}

// Waiters snapshots h's wait list in insertion order. The snapshot stays
// valid while the caller unmounts entries from it.
func (t *Table) Waiters(h Handle) []EntryID {
	o := &t.objs[h]
	if o.waiters == 0 {
		return nil
	}
	out := make([]EntryID, 0, o.waiters)
	for id := o.head; id != NilEntry; id = t.entries[id].next {
		out = append(out, id)
	}
	return out
}

// WaiterCount returns the number of mounted entries on h.
func (t *Table) WaiterCount(h Handle) int { return t.objs[h].waiters }
