package dpc

import (
	"testing"

	"smpcore/debug"
)

func TestFIFOPerPriority(t *testing.T) {
	var s Set
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.Queue(New(func(*DPC) Result { order = append(order, i); return Done }, nil), Medium)
	}
	if s.Pending(Medium) != 3 {
		t.Fatalf("Pending = %d, want 3", s.Pending(Medium))
	}
	for s.RunOne(Medium) {
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("order = %v, want [0 1 2]", order)
	}
	if !s.empty() {
		t.Error("set not empty")
	}
}

func TestRunOneRunsAtMostOne(t *testing.T) {
	var s Set
	ran := 0
	body := func(*DPC) Result { ran++; return Done }
	s.Queue(New(body, nil), High)
	s.Queue(New(body, nil), High)

	if !s.RunOne(High) || ran != 1 {
		t.Fatalf("ran = %d after one RunOne", ran)
	}
	if s.RunOne(Low) {
		t.Error("RunOne on empty priority returned true")
	}
}

// TestRequeueStateMachine models a DPC waiting for an ack that arrives on
// its third run.
func TestRequeueStateMachine(t *testing.T) {
	var s Set
	type state struct{ acks int }
	st := &state{}
	d := New(func(d *DPC) Result {
		st := d.Arg.(*state)
		st.acks++
		if st.acks < 3 {
			return Requeue
		}
		return Done
	}, st)
	other := 0
	s.Queue(d, High)
	s.Queue(New(func(*DPC) Result { other++; return Done }, nil), High)

	s.RunOne(High) // d: requeued behind other
	if !d.Queued() {
		t.Fatal("requeued DPC not marked queued")
	}
	s.RunOne(High) // other
	if other != 1 {
		t.Fatal("requeue should go to the back of the queue")
	}
	s.RunOne(High)
	s.RunOne(High)
	if d.Queued() || d.Runs() != 3 || st.acks != 3 {
		t.Errorf("queued=%v runs=%d acks=%d", d.Queued(), d.Runs(), st.acks)
	}
}

func TestQueueIsIdempotent(t *testing.T) {
	var s Set
	d := New(func(*DPC) Result { return Done }, nil)
	s.Queue(d, Low)
	s.Queue(d, Low)
	if s.Pending(Low) != 1 {
		t.Errorf("Pending = %d, want 1", s.Pending(Low))
	}
}

func TestQueueWithoutBodyIsFatal(t *testing.T) {
	debug.SetQuiet(true)
	defer debug.SetQuiet(false)
	defer func() {
		if recover() == nil {
			t.Error("queueing a DPC with no body must panic")
		}
	}()
	var s Set
	s.Queue(&DPC{}, High)
}

func TestPriorityNames(t *testing.T) {
	if High.String() != "high" || Priority(9).String() != "invalid" {
		t.Error("unexpected priority names")
	}
}
