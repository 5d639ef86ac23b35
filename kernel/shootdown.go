package kernel

import (
	"sync/atomic"

	"smpcore/debug"
	"smpcore/dpc"
	"smpcore/ici"
	"smpcore/utils"
)

// ============================================================================
// ICI BROADCAST DPC
// ============================================================================
//
// Sends one message to a set of cores. Targets whose slot is still busy are
// retried on the next run; the DPC requeues itself until every target took
// the message.

type broadcast struct {
	typ     ici.Type
	arg     any
	pending ici.Mask
}

// broadcast queues a medium DPC on c that delivers typ/arg to targets.
// Must run on core c.
func (c *Core) broadcast(targets ici.Mask, typ ici.Type, arg any) {
	b := &broadcast{typ: typ, arg: arg, pending: targets &^ ici.Bit(c.id)}
	if b.pending == 0 {
		return
	}
	c.QueueDpc(dpc.New(c.broadcastDpc, b), dpc.Medium)
}

func (c *Core) broadcastDpc(d *dpc.DPC) dpc.Result {
	b := d.Arg.(*broadcast)
	b.pending &^= c.s.ici.Send(c.id, b.pending, b.typ, b.arg)
	if b.pending != 0 {
		return dpc.Requeue
	}
	return dpc.Done
}

// ============================================================================
// TLB SHOOTDOWN DPC
// ============================================================================
//
//	send ─→ (busy slots: requeue) ─→ wait acks ─→ (missing: requeue) ─→ complete
//
// The initiating core invalidates locally in the send phase; every target
// invalidates in its TLBInvalidate handler and clears its ack bit.

type shootdownPhase uint8

const (
	shootdownSend shootdownPhase = iota
	shootdownWait
)

type shootdown struct {
	space    uint32
	phase    shootdownPhase
	unsent   ici.Mask
	acks     atomic.Uint64
	complete func()
}

// startShootdown invalidates space on every core and calls complete from
// the initiating core's DPC once all acked. Must run on core c.
func (c *Core) startShootdown(space uint32, complete func()) {
	targets := ici.All(len(c.s.cores)) &^ ici.Bit(c.id)
	sd := &shootdown{space: space, unsent: targets, complete: complete}
	sd.acks.Store(uint64(targets))
	c.QueueDpc(dpc.New(c.shootdownDpc, sd), dpc.Medium)
}

func (c *Core) shootdownDpc(d *dpc.DPC) dpc.Result {
	sd := d.Arg.(*shootdown)
	switch sd.phase {
	case shootdownSend:
		if d.Runs() == 1 {
			c.s.mmu.InvalidateTLB(c.id, sd.space)
		}
		sd.unsent &^= c.s.ici.Send(c.id, sd.unsent, ici.TLBInvalidate, sd)
		if sd.unsent != 0 {
			return dpc.Requeue
		}
		sd.phase = shootdownWait
		fallthrough
	case shootdownWait:
		if sd.acks.Load() != 0 {
			return dpc.Requeue
		}
		sd.complete()
		return dpc.Done
	}
	debug.Fatal("kernel.shootdownDpc", "bad phase "+utils.Utoa(uint64(sd.phase)))
	return dpc.Done
}

func (c *Core) onTLBInvalidate(_ int, arg any) {
	sd := arg.(*shootdown)
	c.s.mmu.InvalidateTLB(c.id, sd.space)
	bit := uint64(ici.Bit(c.id))
	for {
		old := sd.acks.Load()
		if sd.acks.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// ============================================================================
// I/O PERMISSIONS AND DEBUG COMMANDS
// ============================================================================

func (c *Core) onIOPermUpdate(_ int, arg any) {
	p := arg.(*Process)
	if t := c.active; t != nil && t.Process == p {
		c.loadIOPerm(p)
	}
}

// DebugOp is a debug command sent between cores.
type DebugOp uint8

const (
	DebugHalt DebugOp = iota
	DebugResume
	DebugDump
)

// Debug applies op to every other core; a dump also runs locally. Must run
// on core c.
func (c *Core) Debug(op DebugOp) {
	if op == DebugDump {
		c.dump()
	}
	c.broadcast(ici.All(len(c.s.cores)), ici.DebugCommand, op)
}

func (c *Core) onDebugCommand(src int, arg any) {
	switch arg.(DebugOp) {
	case DebugHalt:
		c.halted = true
		debug.DropMessage("CORE "+utils.Itoa(c.id), "halted by core "+utils.Itoa(src))
	case DebugResume:
		c.halted = false
	case DebugDump:
		c.dump()
	}
}

func (c *Core) dump() {
	active := "none"
	if c.active != nil {
		active = utils.Utoa(uint64(c.active.ID))
	}
	debug.DropMessage("CORE "+utils.Itoa(c.id),
		"state="+c.state.String()+
			" active="+active+
			" queued="+utils.Itoa(c.Queued())+
			" ticks="+utils.Utoa(c.ticks))
}
