package queue

import (
	"sync"
	"testing"
)

func TestQueue_New(t *testing.T) {
	q := New[string]()
	if q == nil {
		t.Fatal("expected non-nil queue")
	}
	if !q.Empty() {
		t.Error("expected empty queue")
	}
	if q.Len() != 0 {
		t.Errorf("expected length 0, got %d", q.Len())
	}
}

func TestQueue_PushPop(t *testing.T) {
	q := New[string]()

	// Pop from empty queue returns zero value
	if got := q.Pop(); got != "" {
		t.Errorf("expected zero value, got %q", got)
	}

	q.Push("a")
	q.Push("b", "c")
	if q.Len() != 3 {
		t.Errorf("expected length 3, got %d", q.Len())
	}

	if got := q.Pop(); got != "a" {
		t.Errorf("expected a, got %q", got)
	}
	if q.Len() != 2 {
		t.Errorf("expected length 2, got %d", q.Len())
	}
}

func TestQueue_Drain(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)

	items := q.Drain()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, v := range []int{1, 2, 3} {
		if items[i] != v {
			t.Errorf("expected items[%d]=%d, got %d", i, v, items[i])
		}
	}
	if !q.Empty() {
		t.Error("expected empty queue after drain")
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[int]()
	q.Push(1, 2)
	q.Clear()
	if !q.Empty() {
		t.Error("expected empty queue after clear")
	}
}

func TestQueue_Concurrent(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(n*100 + j)
			}
		}(i)
	}
	wg.Wait()

	if q.Len() != 1000 {
		t.Errorf("expected 1000 items, got %d", q.Len())
	}
}
