package cpu

import (
	"sync/atomic"

	"github.com/gogpu/demandtex/gpu"
)

// Stream executes every command immediately on the calling goroutine.
// Immediate execution is an admissible schedule of the asynchronous stream
// contract: commands complete in order, and Synchronize never has pending
// work to wait on.
type Stream struct {
	rt          *Runtime
	nonBlocking bool
	destroyed   atomic.Bool
}

// CopyToDevice copies src into dst at dstOff.
func (s *Stream) CopyToDevice(dst gpu.Buffer, dstOff int, src []byte) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	b, ok := dst.(*Buffer)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	return b.write(dstOff, src)
}

// CopyToHost copies len(dst) bytes from src at srcOff into dst.
func (s *Stream) CopyToHost(dst []byte, src gpu.Buffer, srcOff int) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	b, ok := src.(*Buffer)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	return b.read(dst, srcOff)
}

// MemsetZero zeroes n bytes of dst starting at off.
func (s *Stream) MemsetZero(dst gpu.Buffer, off, n int) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	b, ok := dst.(*Buffer)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	return b.zero(off, n)
}

// WaitEvent is a no-op: every recorded CPU event has already completed.
func (s *Stream) WaitEvent(e gpu.Event) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	if e == nil {
		return gpu.ErrInvalidArgument
	}
	return nil
}

// Synchronize returns immediately: there is never pending work.
func (s *Stream) Synchronize() error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	return nil
}

// Destroy marks the stream unusable.
func (s *Stream) Destroy() {
	s.destroyed.Store(true)
}

// Event is a trivially complete event.
type Event struct{}

// Record is a no-op; the captured state is already complete.
func (e *Event) Record(s gpu.Stream) error {
	if s == nil {
		return gpu.ErrInvalidArgument
	}
	return nil
}

// Synchronize returns immediately.
func (e *Event) Synchronize() error { return nil }

// Destroy is a no-op.
func (e *Event) Destroy() {}
