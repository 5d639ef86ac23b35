package lfq

import (
	"sort"
	"sync"
	"testing"
)

func TestDrainOrder(t *testing.T) {
	var l List[int]
	if !l.Empty() || l.Drain() != nil {
		t.Fatal("zero list should be empty")
	}

	for i := 0; i < 5; i++ {
		l.Push(i)
	}
	if l.Empty() {
		t.Fatal("list empty after pushes")
	}

	got := l.Drain()
	for i, v := range got {
		if v != i {
			t.Fatalf("Drain()[%d] = %d, want push order", i, v)
		}
	}
	if !l.Empty() {
		t.Error("list not empty after Drain")
	}
}

// TestConcurrentPushDrain checks that every value pushed by any producer is
// drained exactly once while a consumer drains concurrently.
func TestConcurrentPushDrain(t *testing.T) {
	const producers = 8
	const perProducer = 5000

	var l List[int]
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				l.Push(base + i)
			}
		}(p * perProducer)
	}

	done := make(chan struct{})
	var seen []int
	go func() {
		defer close(done)
		for len(seen) < producers*perProducer {
			seen = append(seen, l.Drain()...)
		}
	}()

	wg.Wait()
	<-done

	sort.Ints(seen)
	for i, v := range seen {
		if v != i {
			t.Fatalf("value %d missing or duplicated (got %d)", i, v)
		}
	}
}

// TestPerProducerOrder checks that values from one producer keep their
// relative order across drains.
func TestPerProducerOrder(t *testing.T) {
	var l List[[2]int]
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				l.Push([2]int{id, i})
			}
		}(p)
	}
	wg.Wait()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	for _, v := range l.Drain() {
		if v[1] != last[v[0]]+1 {
			t.Fatalf("producer %d out of order: %d after %d", v[0], v[1], last[v[0]])
		}
		last[v[0]] = v[1]
	}
}

func BenchmarkPush(b *testing.B) {
	var l List[int]
	for i := 0; i < b.N; i++ {
		l.Push(i)
		if i&1023 == 1023 {
			l.Drain()
		}
	}
}
