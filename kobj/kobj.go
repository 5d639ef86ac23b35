// ============================================================================
// KERNEL OBJECT ARENA
// ============================================================================
//
// Waitable kernel objects live in a fixed arena addressed by Handle (slot
// index). Outside the kernel they are named by Token: slot index, slot
// generation and sha3-derived check bits, so a stale or forged token is
// rejected instead of aliasing a recycled slot.
//
// Ownership model:
//   - Every holder of an object owns one reference (atomic count).
//   - Each mounted wait entry owns one reference of its object.
//   - The slot is recycled only when the count reaches zero and the wait
//     list is empty.
//
// Locking:
//   - Table.mu guards the freelists and slot identity (live, gen, kind).
//   - Reference counts are atomics usable from any core.
//   - Wait lists and per-kind state (flags, counts) are only touched by the
//     core holding scheduling authority, under the sched lock.

package kobj

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/sha3"

	"smpcore/debug"
	"smpcore/status"
	"smpcore/timerq"
	"smpcore/utils"
)

// Kind identifies the object type.
type Kind uint8

const (
	KindNone Kind = iota
	KindNotify
	KindGate
	KindAlarm
	KindSemaphore
	KindMailbox
	KindIrqGate
	KindProcess
	KindThread
	numKinds
)

var kindNames = [numKinds]string{"none", "notify", "gate", "alarm", "semaphore", "mailbox", "irq-gate", "process", "thread"}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "invalid"
}

// Handle is an arena slot index.
type Handle uint32

// Nil is the null handle.
const Nil Handle = ^Handle(0)

// Token is the external name of an object.
type Token uint64

const (
	tokenIndexBits = 24
	tokenGenBits   = 24
	tokenIndexMask = 1<<tokenIndexBits - 1
	tokenGenMask   = 1<<tokenGenBits - 1
)

// Object is one arena slot.
//
//go:align 64
type Object struct {
	refs atomic.Int32

	kind     Kind
	live     bool
	gen      uint32
	nextFree Handle

	// Wait list (index adjacency through the entry arena).
	head    EntryID
	tail    EntryID
	waiters int

	// Per-kind state.
	flag   bool   // notify signaled, gate open, alarm expired, terminal state
	closed bool   // mailbox closed
	count  int64  // semaphore permits, mailbox pending messages
	max    int64  // semaphore ceiling
	period uint64 // alarm period, 0 = one-shot
	line   int    // irq gate line
	owner  uint32 // process/thread id for terminal objects

	// Timer is the alarm's queue entry.
	Timer timerq.Item
}

// Table is the object and entry arena.
type Table struct {
	mu sync.Mutex

	objs      []Object
	freeObj   Handle
	liveObjs  int
	entries   []Entry
	freeEntry EntryID
	liveEnts  int

	secret [32]byte
}

// New allocates an arena for objCap objects and entCap wait entries. seed
// feeds the token check secret.
func New(objCap, entCap int, seed uint64) *Table {
	if objCap <= 0 || objCap > tokenIndexMask || entCap <= 0 {
		debug.Fatal("kobj.New", "arena capacity out of range")
	}

	t := &Table{
		objs:    make([]Object, objCap),
		entries: make([]Entry, entCap),
	}

	var s [8]byte
	binary.LittleEndian.PutUint64(s[:], utils.Mix64(seed^0x9e3779b97f4a7c15))
	t.secret = sha3.Sum256(s[:])

	for i := range t.objs {
		t.objs[i].nextFree = Handle(i + 1)
		t.objs[i].head, t.objs[i].tail = NilEntry, NilEntry
	}
	t.objs[objCap-1].nextFree = Nil
	t.freeObj = 0

	for i := range t.entries {
		t.entries[i].next = EntryID(i + 1)
		t.entries[i].prev = NilEntry
	}
	t.entries[entCap-1].next = NilEntry
	t.freeEntry = 0

	return t
}

// ============================================================================
// ALLOCATION
// ============================================================================

// create takes a slot from the freelist with one reference held by the caller.
func (t *Table) create(kind Kind, init func(o *Object)) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.freeObj
	if h == Nil {
		return Nil, status.ErrOutOfMemory
	}
	o := &t.objs[h]
	t.freeObj = o.nextFree

	o.kind = kind
	o.live = true
	o.nextFree = Nil
	o.head, o.tail, o.waiters = NilEntry, NilEntry, 0
	o.flag, o.closed = false, false
	o.count, o.max, o.period, o.line, o.owner = 0, 0, 0, 0, 0
	o.Timer = timerq.Item{Kind: timerq.KindAlarm, Owner: uint32(h)}
	if init != nil {
		init(o)
	}
	o.refs.Store(1)
	t.liveObjs++
	return h, nil
}

func (t *Table) destroy(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	o := &t.objs[h]
	if o.waiters != 0 {
		debug.Fatal("kobj.destroy", "object freed with mounted waiters")
	}
	if o.Timer.Queued() {
		debug.Fatal("kobj.destroy", "alarm freed while its timer is queued")
	}
	o.kind = KindNone
	o.live = false
	o.gen = (o.gen + 1) & tokenGenMask
	o.nextFree = t.freeObj
	t.freeObj = h
	t.liveObjs--
}

// Live returns the number of allocated objects.
func (t *Table) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.liveObjs
}

// ============================================================================
// REFERENCES
// ============================================================================

// Acquire adds a reference to a live object the caller already holds.
func (t *Table) Acquire(h Handle) {
	if t.objs[h].refs.Add(1) <= 1 {
		debug.Fatal("kobj.Acquire", "acquire on an unreferenced object")
	}
}

// Release drops one reference and recycles the slot at zero.
func (t *Table) Release(h Handle) {
	n := t.objs[h].refs.Add(-1)
	switch {
	case n < 0:
		debug.Fatal("kobj.Release", "reference released twice")
	case n == 0:
		t.destroy(h)
	}
}

// Refs returns the current reference count.
func (t *Table) Refs(h Handle) int32 { return t.objs[h].refs.Load() }

// ============================================================================
// TOKENS
// ============================================================================

func (t *Table) check(idx, gen uint32) uint16 {
	var buf [40]byte
	copy(buf[:32], t.secret[:])
	binary.LittleEndian.PutUint32(buf[32:], idx)
	binary.LittleEndian.PutUint32(buf[36:], gen)
	sum := sha3.Sum256(buf[:])
	return binary.LittleEndian.Uint16(sum[:2])
}

// Token returns the external name of h.
func (t *Table) Token(h Handle) Token {
	t.mu.Lock()
	gen := t.objs[h].gen
	t.mu.Unlock()
	return Token(uint64(h)&tokenIndexMask |
		uint64(gen)<<tokenIndexBits |
		uint64(t.check(uint32(h), gen))<<(tokenIndexBits+tokenGenBits))
}

func (t *Table) decode(tok Token) (Handle, uint32, error) {
	idx := uint32(uint64(tok) & tokenIndexMask)
	gen := uint32(uint64(tok)>>tokenIndexBits) & tokenGenMask
	chk := uint16(uint64(tok) >> (tokenIndexBits + tokenGenBits))
	if int(idx) >= len(t.objs) || chk != t.check(idx, gen) {
		return Nil, 0, status.ErrBadToken
	}
	return Handle(idx), gen, nil
}

// Resolve maps a token to its handle without taking a reference.
func (t *Table) Resolve(tok Token) (Handle, error) {
	h, gen, err := t.decode(tok)
	if err != nil {
		return Nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if o := &t.objs[h]; !o.live || o.gen != gen {
		return Nil, status.ErrNotFound
	}
	return h, nil
}

// AcquireToken resolves tok and takes a reference in one step, so the object
// cannot be recycled in between.
func (t *Table) AcquireToken(tok Token) (Handle, error) {
	h, gen, err := t.decode(tok)
	if err != nil {
		return Nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	o := &t.objs[h]
	if !o.live || o.gen != gen {
		return Nil, status.ErrNotFound
	}
	for {
		n := o.refs.Load()
		if n <= 0 {
			// Last reference is being dropped concurrently.
			return Nil, status.ErrNotFound
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return h, nil
		}
	}
}

// Kind returns the kind of h.
func (t *Table) Kind(h Handle) Kind { return t.objs[h].kind }

// Object exposes the slot for kernel-side state access under the sched lock.
func (t *Table) Object(h Handle) *Object { return &t.objs[h] }
