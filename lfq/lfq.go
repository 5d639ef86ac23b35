// Package lfq is a lock-free multi-producer list with a single draining
// consumer.
//
// Producers push with a compare-and-swap on the head pointer; the consumer
// takes the whole list with one atomic exchange and receives it in push
// order. Since nodes are never popped one at a time, a node is never
// re-linked while another producer holds a stale head, so there is no ABA
// window and no push counter is needed.
package lfq

import "sync/atomic"

type node[T any] struct {
	next *node[T]
	val  T
}

// List is the head of the lock-free list. The zero value is empty.
type List[T any] struct {
	head atomic.Pointer[node[T]]
}

// Push prepends v. Safe from any goroutine.
func (l *List[T]) Push(v T) {
	n := &node[T]{val: v}
	for {
		old := l.head.Load()
		n.next = old
		if l.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// Drain detaches every pushed value and returns them oldest first.
// Returns nil when the list is empty.
func (l *List[T]) Drain() []T {
	n := l.head.Swap(nil)
	if n == nil {
		return nil
	}

	count := 0
	for p := n; p != nil; p = p.next {
		count++
	}
	out := make([]T, count)
	for p := n; p != nil; p = p.next {
		count--
		out[count] = p.val
	}
	return out
}

// Empty reports whether the list currently holds no values.
func (l *List[T]) Empty() bool {
	return l.head.Load() == nil
}
