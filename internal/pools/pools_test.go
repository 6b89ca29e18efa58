package pools

import (
	"sync"
	"testing"

	"github.com/gogpu/demandtex/backend/cpu"
)

func TestPinnedAcquireRelease(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewPinnedPool(rt, 4)
	defer p.Close()

	buf := p.Acquire(64)
	if !buf.Valid() {
		t.Fatal("Acquire returned invalid lease")
	}
	if len(buf.Bytes()) < 64 {
		t.Errorf("buffer size %d, want >= 64", len(buf.Bytes()))
	}

	buf.Release()
	if p.PooledCount() != 1 {
		t.Errorf("PooledCount = %d, want 1", p.PooledCount())
	}

	// The released buffer is reused.
	again := p.Acquire(32)
	if !again.Valid() {
		t.Fatal("second Acquire failed")
	}
	if p.PooledCount() != 0 {
		t.Errorf("PooledCount = %d, want 0 after reuse", p.PooledCount())
	}
	again.Release()
}

func TestPinnedSmallestFit(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewPinnedPool(rt, 4)
	defer p.Close()

	small := p.Acquire(16)
	large := p.Acquire(1024)
	small.Release()
	large.Release()

	// A 16-byte request takes the 16-byte buffer, not the 1024-byte one.
	got := p.Acquire(16)
	if len(got.Bytes()) != 16 {
		t.Errorf("picked buffer of %d bytes, want the 16-byte one", len(got.Bytes()))
	}
	got.Release()
}

func TestPinnedCapacity(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewPinnedPool(rt, 2)
	defer p.Close()

	bufs := []PinnedBuffer{p.Acquire(8), p.Acquire(8), p.Acquire(8)}
	for i := range bufs {
		bufs[i].Release()
	}
	if got := p.PooledCount(); got != 2 {
		t.Errorf("PooledCount = %d, want 2 (capacity)", got)
	}
}

func TestPinnedReleaseIdempotent(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewPinnedPool(rt, 4)
	defer p.Close()

	buf := p.Acquire(8)
	buf.Release()
	buf.Release()
	if got := p.PooledCount(); got != 1 {
		t.Errorf("PooledCount = %d, want 1 after double release", got)
	}

	var zero PinnedBuffer
	zero.Release() // must not panic
}

func TestPinnedAcquireInvalidSize(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewPinnedPool(rt, 4)
	defer p.Close()

	if buf := p.Acquire(0); buf.Valid() {
		t.Error("Acquire(0) returned a valid lease")
	}
}

func TestPinnedClosedPool(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewPinnedPool(rt, 4)

	buf := p.Acquire(8)
	p.Close()

	// Outstanding leases release without re-pooling.
	buf.Release()
	if got := p.PooledCount(); got != 0 {
		t.Errorf("PooledCount = %d, want 0 after Close", got)
	}
	if got := p.Acquire(8); got.Valid() {
		t.Error("Acquire on closed pool returned a valid lease")
	}
}

func TestPinnedConcurrent(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewPinnedPool(rt, 8)
	defer p.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				buf := p.Acquire(256)
				if !buf.Valid() {
					t.Error("Acquire failed")
					return
				}
				buf.Bytes()[0] = 1
				buf.Release()
			}
		}()
	}
	wg.Wait()
}

func TestEventPoolAcquireRelease(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewEventPool(rt, 4)
	defer p.Close()

	if got := p.PooledCount(); got != 4 {
		t.Errorf("initial PooledCount = %d, want 4", got)
	}

	e := p.Acquire()
	if e == nil {
		t.Fatal("Acquire returned nil")
	}
	if got := p.PooledCount(); got != 3 {
		t.Errorf("PooledCount = %d, want 3", got)
	}

	p.Release(e)
	if got := p.PooledCount(); got != 4 {
		t.Errorf("PooledCount = %d, want 4 after release", got)
	}
}

func TestEventPoolUnderflowCreates(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewEventPool(rt, 1)
	defer p.Close()

	a := p.Acquire()
	b := p.Acquire() // pool empty: created on demand
	if a == nil || b == nil {
		t.Fatal("Acquire returned nil on underflow")
	}
	p.Release(a)
	p.Release(b)
	if got := p.PooledCount(); got != 2 {
		t.Errorf("PooledCount = %d, want 2", got)
	}
}

func TestEventPoolReleaseNil(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewEventPool(rt, 1)
	defer p.Close()
	p.Release(nil) // must not panic
}

func TestEventPoolClosed(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewEventPool(rt, 2)

	e := p.Acquire()
	p.Close()
	if got := p.Acquire(); got != nil {
		t.Error("Acquire on closed pool returned an event")
	}
	p.Release(e) // destroyed, not pooled
	if got := p.PooledCount(); got != 0 {
		t.Errorf("PooledCount = %d, want 0", got)
	}
}

func TestEventPoolConcurrent(t *testing.T) {
	rt := cpu.New()
	defer rt.Close()
	p := NewEventPool(rt, 4)
	defer p.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				e := p.Acquire()
				if e == nil {
					t.Error("Acquire failed")
					return
				}
				p.Release(e)
			}
		}()
	}
	wg.Wait()
}
