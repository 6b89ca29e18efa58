package demandtex

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncWorkerSerializesTasks(t *testing.T) {
	w := newAsyncWorker()
	defer w.close()

	var concurrent atomic.Int32
	var maxSeen atomic.Int32
	var ran atomic.Int32

	for range 16 {
		ok := w.submit(func() {
			n := concurrent.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			concurrent.Add(-1)
			ran.Add(1)
		})
		if !ok {
			t.Fatal("submit refused on open worker")
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	for ran.Load() != 16 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if ran.Load() != 16 {
		t.Fatalf("ran %d tasks, want 16", ran.Load())
	}
	if maxSeen.Load() != 1 {
		t.Errorf("observed %d concurrent tasks, want 1 (serialized)", maxSeen.Load())
	}
}

func TestAsyncWorkerPreservesOrder(t *testing.T) {
	w := newAsyncWorker()
	defer w.close()

	var order []int
	done := make(chan struct{})
	for i := range 8 {
		w.submit(func() {
			order = append(order, i)
			if i == 7 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not complete")
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want FIFO", order)
		}
	}
}

func TestAsyncWorkerSwallowsPanics(t *testing.T) {
	w := newAsyncWorker()
	defer w.close()

	var after atomic.Bool
	w.submit(func() { panic("drain failure") })
	ok := w.submit(func() { after.Store(true) })
	if !ok {
		t.Fatal("submit refused after panic")
	}

	deadline := time.Now().Add(5 * time.Second)
	for !after.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !after.Load() {
		t.Error("worker stopped after a panicking task")
	}
}

func TestAsyncWorkerCloseDrains(t *testing.T) {
	w := newAsyncWorker()

	var ran atomic.Int32
	for range 8 {
		w.submit(func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		})
	}
	w.close()
	if ran.Load() != 8 {
		t.Errorf("close drained %d tasks, want 8", ran.Load())
	}

	if w.submit(func() {}) {
		t.Error("submit accepted after close")
	}
	w.close() // idempotent
}
