package queue

import "testing"

func TestUnboundedPreservesOrder(t *testing.T) {
	q := NewUnbounded[int]()
	for i := 0; i < 100; i++ {
		q.Push(i)
	}
	for i := 0; i < 100; i++ {
		got := <-q.Out()
		if got != i {
			t.Fatalf("expected %d, got %d", i, got)
		}
	}
}

func TestUnboundedCloseDrainsThenCloses(t *testing.T) {
	q := NewUnbounded[int]()
	q.Push(1)
	q.Push(2)
	q.Close()

	var got []int
	for v := range q.Out() {
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("expected [1 2], got %v", got)
	}
}

func TestUnboundedPushNeverBlocks(t *testing.T) {
	q := NewUnbounded[int]()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(i)
		}
		close(done)
	}()
	select {
	case <-done:
	}
}
