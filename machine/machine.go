// ════════════════════════════════════════════════════════════════════════════════════════════════
// Simulated Machine
// Component: boot, tick source and core runners
//
// Description:
//   Boots a scheduler over simulated hardware and drives each core's dispatch loop from its own
//   goroutine, optionally pinned to a host CPU. A tick source raises the per-core tick event and
//   polls the scheduling timer.
//
// Runner policy:
//   - Running / InMonitor: call Step again immediately
//   - Idle while the machine is hot: spin with a relax hint
//   - Idle while cold: park until Raise kicks the core or the machine stops
// ════════════════════════════════════════════════════════════════════════════════════════════════

package machine

import (
	"sync"
	"time"

	"smpcore/config"
	"smpcore/control"
	"smpcore/cpu"
	"smpcore/debug"
	"smpcore/journal"
	"smpcore/kernel"
	"smpcore/utils"
)

// Machine is one booted kernel.
type Machine struct {
	cfg config.Boot

	Clock   *Clock
	Timer   *Timer
	MMU     *MMU
	Sched   *kernel.Scheduler
	Journal *journal.Journal

	wake []chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	started bool
	stopped bool
}

// New boots the scheduler described by cfg. Nothing runs until Start.
func New(cfg config.Boot) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	control.Reset()
	debug.SetQuiet(cfg.Quiet)

	m := &Machine{
		cfg:   cfg,
		Clock: &Clock{},
		Timer: NewTimer(),
		MMU:   NewMMU(cfg.Cores),
		wake:  make([]chan struct{}, cfg.Cores),
		quit:  make(chan struct{}),
	}

	opts := kernel.Options{
		Cores:          cfg.Cores,
		Clock:          m.Clock,
		Timer:          m.Timer,
		MMU:            m.MMU,
		ObjectCapacity: cfg.ObjectCapacity,
		EntryCapacity:  cfg.EntryCapacity,
		Seed:           cfg.Seed,
	}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		m.Journal = j
		opts.Journal = j
	}

	s, err := kernel.New(opts)
	if err != nil {
		if m.Journal != nil {
			m.Journal.Close()
			m.Journal.CloseStore()
		}
		return nil, err
	}
	m.Sched = s

	for i, c := range s.Cores() {
		ch := make(chan struct{}, 1)
		m.wake[i] = ch
		c.SetWaker(func() {
			select {
			case ch <- struct{}{}:
			default:
			}
		})
	}

	debug.DropMessage("BOOT", utils.Itoa(cfg.Cores)+" cores, tick "+utils.Itoa(cfg.TickMicros)+"us")
	return m, nil
}

// Config returns the boot configuration.
func (m *Machine) Config() config.Boot { return m.cfg }

// Start launches the tick source and one runner per core.
func (m *Machine) Start() {
	if m.started {
		return
	}
	m.started = true

	for _, c := range m.Sched.Cores() {
		m.wg.Add(1)
		go m.run(c)
	}
	m.wg.Add(1)
	go m.tickSource(time.Duration(m.cfg.TickMicros) * time.Microsecond)
}

// Stop halts the runners and the tick source and drains the journal. The
// journal store stays open for queries.
func (m *Machine) Stop() {
	if m.stopped {
		return
	}
	m.stopped = true

	control.Shutdown()
	close(m.quit)
	m.wg.Wait()
	if m.Journal != nil {
		m.Journal.Close()
	}
	debug.DropMessage("HALT", "machine stopped at tick "+utils.Utoa(m.Clock.Now()))
}

// Close stops the machine and closes the journal store.
func (m *Machine) Close() error {
	m.Stop()
	if m.Journal != nil {
		return m.Journal.CloseStore()
	}
	return nil
}

// Tick advances the clock by one tick, raises the tick event on every core
// and fires the scheduling timer on core 0 if it is due.
func (m *Machine) Tick() uint64 {
	now := m.Clock.Advance()
	for _, c := range m.Sched.Cores() {
		c.Raise(kernel.Event{Kind: kernel.EventTick})
	}
	if m.Timer.Poll(now) {
		control.SignalActivity()
		m.Sched.Core(0).Raise(kernel.Event{Kind: kernel.EventTimer})
	}
	return now
}

// RaiseIRQ delivers a device interrupt on line to core 0.
func (m *Machine) RaiseIRQ(line int) {
	control.SignalActivity()
	m.Sched.Core(0).Raise(kernel.Event{Kind: kernel.EventIRQ, Line: line})
}

// WaitFor polls cond every tick period until it holds, the machine has run
// limit ticks since the call, or the machine stops. limit 0 waits forever.
func (m *Machine) WaitFor(cond func() bool, limit uint64) bool {
	period := time.Duration(m.cfg.TickMicros) * time.Microsecond
	start := m.Clock.Now()
	for {
		if cond() {
			return true
		}
		if control.Stopping() || (limit != 0 && m.Clock.Now()-start >= limit) {
			return cond()
		}
		time.Sleep(period)
	}
}

// ============================================================================
// GOROUTINES
// ============================================================================

func (m *Machine) tickSource(period time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

func (m *Machine) run(c *kernel.Core) {
	defer m.wg.Done()

	if m.cfg.Pin {
		if err := cpu.Pin(c.ID()); err != nil {
			debug.DropError("PIN core "+utils.Itoa(c.ID()), err)
		}
		defer cpu.Unpin()
	}

	boot := c.ID() == 0
	wake := m.wake[c.ID()]
	var b cpu.Backoff

	for !control.Stopping() {
		if c.Step() != kernel.CoreIdle {
			b.Reset()
			continue
		}
		if boot {
			control.PollCooldown()
		}
		if control.Hot() {
			b.Miss()
			continue
		}
		select {
		case <-wake:
		case <-m.quit:
			return
		}
	}
}
