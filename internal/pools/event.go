package pools

import (
	"sync"

	"github.com/gogpu/demandtex/gpu"
)

// EventPool is a pool of reusable timing-disabled GPU events.
//
// Acquire pops a pooled event or creates one on underflow; Release pushes
// it back. Both are O(1) apart from the occasional creation.
//
// Thread safety: EventPool is safe for concurrent use.
type EventPool struct {
	rt gpu.Runtime

	mu     sync.Mutex
	free   []gpu.Event
	closed bool
}

// NewEventPool creates a pool pre-filled with initial events.
// Creation failures during pre-fill are ignored; the pool creates on demand.
func NewEventPool(rt gpu.Runtime, initial int) *EventPool {
	p := &EventPool{rt: rt}
	p.free = make([]gpu.Event, 0, initial)
	for range initial {
		e, err := rt.NewEvent()
		if err != nil {
			break
		}
		p.free = append(p.free, e)
	}
	return p
}

// Acquire returns a pooled event, creating one if the pool is empty.
// Returns nil if creation fails or the pool is closed.
func (p *EventPool) Acquire() gpu.Event {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if n := len(p.free); n > 0 {
		e := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return e
	}
	p.mu.Unlock()

	e, err := p.rt.NewEvent()
	if err != nil {
		return nil
	}
	return e
}

// Release returns an event to the pool. nil is ignored.
func (p *EventPool) Release(e gpu.Event) {
	if e == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		e.Destroy()
		return
	}
	p.free = append(p.free, e)
	p.mu.Unlock()
}

// PooledCount returns the number of idle events held by the pool.
func (p *EventPool) PooledCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close destroys all pooled events. Events released afterwards are
// destroyed instead of pooled.
func (p *EventPool) Close() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.closed = true
	p.mu.Unlock()

	for _, e := range free {
		e.Destroy()
	}
}
