// Package pools provides reusable GPU resources: page-locked host buffers
// and timing-disabled events. Pinned allocation and event creation are
// driver round-trips; pooling amortizes them across request-processing
// cycles.
package pools

import (
	"sync"

	"github.com/gogpu/demandtex/gpu"
)

// PinnedPool is a bounded pool of page-locked host buffers.
//
// Acquire returns the smallest pooled buffer that fits the request, or
// allocates a fresh one. Released buffers return to the pool unless it is
// at capacity, in which case they are freed.
//
// Thread safety: PinnedPool is safe for concurrent use.
type PinnedPool struct {
	rt gpu.Runtime

	mu     sync.Mutex
	free   []gpu.HostBuffer
	max    int
	closed bool
}

// PinnedBuffer is a single-owner lease on a pooled buffer.
// Release returns it to the pool; the zero value is invalid.
type PinnedBuffer struct {
	pool *PinnedPool
	buf  gpu.HostBuffer
}

// Valid reports whether the lease holds a buffer.
func (b *PinnedBuffer) Valid() bool { return b.buf != nil }

// Bytes returns the leased buffer's backing slice. It stays valid until
// Release.
func (b *PinnedBuffer) Bytes() []byte {
	if b.buf == nil {
		return nil
	}
	return b.buf.Bytes()
}

// Release returns the buffer to the pool. Safe to call on an invalid lease,
// and idempotent.
func (b *PinnedBuffer) Release() {
	if b.buf == nil {
		return
	}
	b.pool.release(b.buf)
	b.buf = nil
}

// NewPinnedPool creates a pool that retains at most maxPooled buffers.
func NewPinnedPool(rt gpu.Runtime, maxPooled int) *PinnedPool {
	if maxPooled < 1 {
		maxPooled = 1
	}
	return &PinnedPool{rt: rt, max: maxPooled}
}

// Acquire leases a pinned buffer of at least size bytes.
// Returns an invalid lease if the allocation fails or the pool is closed.
func (p *PinnedPool) Acquire(size int) PinnedBuffer {
	if size <= 0 {
		return PinnedBuffer{}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return PinnedBuffer{}
	}
	// Smallest pooled buffer that fits.
	best := -1
	for i, b := range p.free {
		if b.Size() < size {
			continue
		}
		if best < 0 || b.Size() < p.free[best].Size() {
			best = i
		}
	}
	if best >= 0 {
		buf := p.free[best]
		p.free = append(p.free[:best], p.free[best+1:]...)
		p.mu.Unlock()
		return PinnedBuffer{pool: p, buf: buf}
	}
	p.mu.Unlock()

	buf, err := p.rt.AllocHost(size)
	if err != nil {
		return PinnedBuffer{}
	}
	return PinnedBuffer{pool: p, buf: buf}
}

func (p *PinnedPool) release(buf gpu.HostBuffer) {
	p.mu.Lock()
	if p.closed || len(p.free) >= p.max {
		p.mu.Unlock()
		buf.Free()
		return
	}
	p.free = append(p.free, buf)
	p.mu.Unlock()
}

// PooledCount returns the number of idle buffers held by the pool.
func (p *PinnedPool) PooledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close frees all pooled buffers. Leases still outstanding are freed on
// Release instead of returning to the pool.
func (p *PinnedPool) Close() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed = true
	p.mu.Unlock()

	for _, b := range free {
		b.Free()
	}
}
