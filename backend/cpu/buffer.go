package cpu

import (
	"encoding/binary"
	"sync"

	"github.com/gogpu/demandtex/gpu"
)

// Buffer is linear "device" memory backed by a host slice.
// Word-granular accessors take the buffer lock, standing in for device
// atomics when the Sampler appends requests concurrently with copies.
type Buffer struct {
	rt    *Runtime
	mu    sync.Mutex
	data  []byte
	freed bool
}

// Size returns the allocation size in bytes.
func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Free releases the memory. Free is idempotent.
func (b *Buffer) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return
	}
	b.freed = true
	b.rt.release(int64(len(b.data)))
	b.data = nil
}

func (b *Buffer) write(off int, src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed || off < 0 || off+len(src) > len(b.data) {
		return gpu.ErrInvalidArgument
	}
	copy(b.data[off:], src)
	return nil
}

func (b *Buffer) read(dst []byte, off int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed || off < 0 || off+len(dst) > len(b.data) {
		return gpu.ErrInvalidArgument
	}
	copy(dst, b.data[off:])
	return nil
}

func (b *Buffer) zero(off, n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed || off < 0 || n < 0 || off+n > len(b.data) {
		return gpu.ErrInvalidArgument
	}
	clear(b.data[off : off+n])
	return nil
}

// loadWord reads the little-endian uint32 at word index idx.
func (b *Buffer) loadWord(idx int) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := idx * 4
	if b.freed || off < 0 || off+4 > len(b.data) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b.data[off:]), true
}

// loadWord64 reads the little-endian uint64 at word index idx.
func (b *Buffer) loadWord64(idx int) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := idx * 8
	if b.freed || off < 0 || off+8 > len(b.data) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b.data[off:]), true
}

// storeWord writes the little-endian uint32 at word index idx.
func (b *Buffer) storeWord(idx int, v uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	off := idx * 4
	if b.freed || off < 0 || off+4 > len(b.data) {
		return false
	}
	binary.LittleEndian.PutUint32(b.data[off:], v)
	return true
}

// HostBuffer is host memory. The cpu backend has no pinning distinction, so
// this is a plain slice.
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
