package kernel

import (
	"sync"
	"sync/atomic"
	"testing"

	"smpcore/debug"
	"smpcore/ici"
	"smpcore/journal"
	"smpcore/kobj"
)

// ============================================================================
// TEST COLLABORATORS
// ============================================================================

type manualClock struct{ now atomic.Uint64 }

func (c *manualClock) Now() uint64     { return c.now.Load() }
func (c *manualClock) Set(tick uint64) { c.now.Store(tick) }

type tlbFlush struct {
	core  int
	space uint32
}

type ioLoad struct {
	core  int
	space uint32
	ports uint64
}

type fakeMMU struct {
	mu       sync.Mutex
	flushes  []tlbFlush
	loads    []ioLoad
	released []uint32
}

func (m *fakeMMU) InvalidateTLB(core int, space uint32) {
	m.mu.Lock()
	m.flushes = append(m.flushes, tlbFlush{core, space})
	m.mu.Unlock()
}

func (m *fakeMMU) LoadIOPermissions(core int, space uint32, ports uint64) {
	m.mu.Lock()
	m.loads = append(m.loads, ioLoad{core, space, ports})
	m.mu.Unlock()
}

func (m *fakeMMU) ReleaseSpace(space uint32) {
	m.mu.Lock()
	m.released = append(m.released, space)
	m.mu.Unlock()
}

type fakeArmer struct {
	armed    bool
	deadline uint64
}

func (a *fakeArmer) Arm(deadline uint64) { a.armed, a.deadline = true, deadline }
func (a *fakeArmer) Disarm()              { a.armed = false }

type recordSink struct{ events []journal.Event }

func (r *recordSink) Record(ev journal.Event) { r.events = append(r.events, ev) }

// ============================================================================
// HARNESS
// ============================================================================

type testKernel struct {
	*Scheduler
	clock *manualClock
	mmu   *fakeMMU
	timer *fakeArmer
	sink  *recordSink
}

func newTestKernel(t *testing.T, cores int) *testKernel {
	t.Helper()
	debug.SetQuiet(true)
	t.Cleanup(func() { debug.SetQuiet(false) })

	k := &testKernel{clock: &manualClock{}, mmu: &fakeMMU{}, timer: &fakeArmer{}, sink: &recordSink{}}
	s, err := New(Options{
		Cores:          cores,
		Clock:          k.clock,
		Timer:          k.timer,
		MMU:            k.mmu,
		Journal:        k.sink,
		ObjectCapacity: 256,
		EntryCapacity:  1024,
		Seed:           7,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	k.Scheduler = s
	return k
}

// pump ticks and steps every core round-robin.
func (k *testKernel) pump(passes int) {
	for i := 0; i < passes; i++ {
		for _, c := range k.cores {
			c.Raise(Event{Kind: EventTick})
			c.Step()
		}
	}
}

// pumpCore ticks and steps one core only.
func (k *testKernel) pumpCore(id, passes int) {
	c := k.cores[id]
	for i := 0; i < passes; i++ {
		c.Raise(Event{Kind: EventTick})
		c.Step()
	}
}

// fireTimer delivers a scheduling timer interrupt at tick.
func (k *testKernel) fireTimer(tick uint64) {
	k.clock.Set(tick)
	k.cores[0].Raise(Event{Kind: EventTimer})
}

func (k *testKernel) launch(t *testing.T, name string, affinity ici.Mask, progs ...Program) *Process {
	t.Helper()
	p, err := k.CreateProcess(name)
	if err != nil {
		t.Fatal(err)
	}
	for _, prog := range progs {
		if _, err := k.AddThread(p, prog, affinity); err != nil {
			t.Fatal(err)
		}
	}
	if err := k.Launch(p); err != nil {
		t.Fatal(err)
	}
	return p
}

func (k *testKernel) notify(t *testing.T) (kobj.Handle, kobj.Token) {
	t.Helper()
	h, err := k.objs.NewNotify()
	if err != nil {
		t.Fatal(err)
	}
	return h, k.objs.Token(h)
}

func (k *testKernel) gate(t *testing.T, open bool) (kobj.Handle, kobj.Token) {
	t.Helper()
	h, err := k.objs.NewGate(open)
	if err != nil {
		t.Fatal(err)
	}
	return h, k.objs.Token(h)
}

func spin() Program { return ProgramFunc(func(Result) Syscall { return nil }) }

func waitAny(timeout uint64, objs ...kobj.Token) *Wait {
	return &Wait{Objects: objs, Timeout: timeout}
}

func waitingCount(p *Process) int {
	n := 0
	for _, t := range p.Threads() {
		if t.State() == ThreadWaiting {
			n++
		}
	}
	return n
}

func expectFatal(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if _, ok := r.(*debug.InvariantError); !ok {
			t.Errorf("%s: recovered %v, want *debug.InvariantError", what, r)
		}
	}()
	fn()
}
