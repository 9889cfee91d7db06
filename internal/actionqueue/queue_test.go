package actionqueue

import "testing"

func TestPushPopFIFOOrder(t *testing.T) {
	q := New(4)
	q.Push(Action{Command: CommandWrite, Index: 1, Value: 10})
	q.Push(Action{Command: CommandWrite, Index: 2, Value: 20})
	q.Push(Action{Command: CommandWrite, Index: 3, Value: 30})

	for _, wantIndex := range []int{1, 2, 3} {
		a, ok := q.Pop()
		if !ok {
			t.Fatal("Pop returned empty on non-empty queue")
		}
		if a.Index != wantIndex {
			t.Fatalf("Pop order: got index %d, want %d (expected FIFO/oldest-first)", a.Index, wantIndex)
		}
	}
}

func TestPopEmptyQueue(t *testing.T) {
	q := New(4)
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on empty queue should report ok=false")
	}
}

func TestPushOverflowDropsOldest(t *testing.T) {
	q := New(3)
	q.Push(Action{Index: 1})
	q.Push(Action{Index: 2})
	q.Push(Action{Index: 3})
	q.Push(Action{Index: 4}) // overflow: should drop index 1

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (capacity not exceeded)", q.Len())
	}

	var got []int
	for {
		a, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, a.Index)
	}
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("drained %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drained %v, want %v", got, want)
		}
	}
}

func TestLenAndCap(t *testing.T) {
	q := New(16)
	if q.Cap() != 16 {
		t.Fatalf("Cap() = %d, want 16", q.Cap())
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	q.Push(Action{})
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}
}

func TestNewDefaultsCapacityWhenNonPositive(t *testing.T) {
	q := New(0)
	if q.Cap() != DefaultCapacity {
		t.Fatalf("Cap() = %d, want default %d", q.Cap(), DefaultCapacity)
	}
}
