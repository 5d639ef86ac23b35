// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ INTER-CORE INTERRUPTS
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: SMP Kernel Core
// Component: Point-to-point core signalling
//
// Description:
//   One single-entry slot per (source, target) core pair. A send fills an
//   empty slot with a nil→message CAS and raises the ICI line of the target;
//   the target's dispatch loop swaps every non-empty slot addressed to it back
//   to nil and dispatches on the message type. A busy slot makes Send leave
//   that target out of the returned mask; the caller retries from a DPC.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package ici

import (
	"math/bits"
	"sync/atomic"

	"smpcore/constants"
	"smpcore/debug"
)

// Type tags an ICI message.
type Type uint8

const (
	Wake Type = iota
	TLBInvalidate
	ProcessStop
	IOPermUpdate
	DebugCommand
	NumTypes
)

var typeNames = [NumTypes]string{"wake", "tlb-invalidate", "process-stop", "io-perm-update", "debug-command"}

func (t Type) String() string {
	if t < NumTypes {
		return typeNames[t]
	}
	return "invalid"
}

// Message is the slot payload.
type Message struct {
	Type Type
	Arg  any
}

// ============================================================================
// CORE MASKS
// ============================================================================

// Mask is a set of core ids.
type Mask uint64

// Bit returns the mask holding only core.
func Bit(core int) Mask { return Mask(1) << uint(core) }

// All returns the mask of cores 0..n-1.
func All(n int) Mask {
	if n >= constants.MaxCores {
		return ^Mask(0)
	}
	return Bit(n) - 1
}

// Has reports whether core is in m.
func (m Mask) Has(core int) bool { return m&Bit(core) != 0 }

// Count returns the number of cores in m.
func (m Mask) Count() int { return bits.OnesCount64(uint64(m)) }

// Each calls fn for every core in m, lowest first.
func (m Mask) Each(fn func(core int)) {
	for m != 0 {
		core := bits.TrailingZeros64(uint64(m))
		fn(core)
		m &^= Bit(core)
	}
}

// ============================================================================
// SLOT MATRIX
// ============================================================================

// Handler runs on the target core for one received message.
type Handler func(src int, arg any)

// Handlers is a receiver dispatch table keyed by Type.
type Handlers [NumTypes]Handler

// Matrix holds the slots for n cores.
type Matrix struct {
	n      int
	slots  []atomic.Pointer[Message] // [src*n + target]; nil when free
	raise  func(target int)
	sent   [NumTypes]atomic.Uint64
	missed atomic.Uint64
}

// NewMatrix builds the slot matrix. raise is called after a successful send
// to deliver the interrupt to the target core.
func NewMatrix(n int, raise func(target int)) *Matrix {
	if n <= 0 || n > constants.MaxCores {
		debug.Fatal("ici.NewMatrix", "core count out of range")
	}
	return &Matrix{n: n, raise: raise, slots: make([]atomic.Pointer[Message], n*n)}
}

// Cores returns the core count.
func (m *Matrix) Cores() int { return m.n }

// Send delivers typ/arg from src to every core in targets except src itself.
// Returns the cores whose slot accepted the message; cores whose slot still
// held an unread message are left out. The kernel calls it on core src; the
// slot CAS keeps concurrent senders from overwriting each other.
func (m *Matrix) Send(src int, targets Mask, typ Type, arg any) Mask {
	if typ >= NumTypes {
		debug.Fatal("ici.Send", "invalid ICI type")
	}
	targets &= All(m.n) &^ Bit(src)

	var sent Mask
	targets.Each(func(tgt int) {
		if !m.slots[src*m.n+tgt].CompareAndSwap(nil, &Message{Type: typ, Arg: arg}) {
			m.missed.Add(1)
			return
		}
		sent |= Bit(tgt)
		m.sent[typ].Add(1)
		if m.raise != nil {
			m.raise(tgt)
		}
	})
	return sent
}

// Receive clears every pending slot addressed to target and dispatches it.
// Must be called on core target. Returns the number of messages handled.
func (m *Matrix) Receive(target int, h *Handlers) int {
	handled := 0
	for src := 0; src < m.n; src++ {
		msg := m.slots[src*m.n+target].Swap(nil)
		if msg == nil {
			continue
		}
		handled++
		if fn := h[msg.Type]; fn != nil {
			fn(src, msg.Arg)
		}
	}
	return handled
}

// Stats returns per-type successful sends and the count of busy-slot misses.
func (m *Matrix) Stats() (sent [NumTypes]uint64, missed uint64) {
	for i := range m.sent {
		sent[i] = m.sent[i].Load()
	}
	return sent, m.missed.Load()
}

// Pending reports whether any slot addressed to target holds a message.
func (m *Matrix) Pending(target int) bool {
	for src := 0; src < m.n; src++ {
		if m.slots[src*m.n+target].Load() != nil {
			return true
		}
	}
	return false
}
