package wgpu

import (
	"sync"

	"github.com/gogpu/wgpu/hal"
)

// Buffer is a storage buffer on the device.
type Buffer struct {
	rt    *Runtime
	buf   hal.Buffer
	size  int
	mu    sync.Mutex
	freed bool
}

// Size returns the allocation size in bytes.
func (b *Buffer) Size() int { return b.size }

// Free releases the buffer. Free is idempotent.
func (b *Buffer) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return
	}
	b.freed = true
	b.rt.device.DestroyBuffer(b.buf)
}

// Raw returns the underlying hal buffer, for kernels binding the device
// context into their own pipelines.
func (b *Buffer) Raw() hal.Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return nil
	}
	return b.buf
}

// HostBuffer is host memory. hal queue writes and reads stage internally,
// so a plain slice fills the pinned-memory role.
type HostBuffer struct {
	mu    sync.Mutex
	data  []byte
	freed bool
}

// Bytes returns the backing slice.
func (b *HostBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Size returns the allocation size in bytes.
func (b *HostBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Free releases the memory. Free is idempotent.
func (b *HostBuffer) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freed = true
	b.data = nil
}
