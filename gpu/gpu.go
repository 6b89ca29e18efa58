package gpu

import "errors"

// Package errors shared by runtime implementations.
var (
	// ErrOutOfMemory is returned when a device or pinned allocation fails.
	ErrOutOfMemory = errors.New("gpu: out of memory")

	// ErrInvalidArgument is returned for out-of-range offsets, sizes, or
	// mismatched level dimensions.
	ErrInvalidArgument = errors.New("gpu: invalid argument")

	// ErrClosed is returned when an operation is issued against a runtime
	// or stream that has been destroyed.
	ErrClosed = errors.New("gpu: runtime closed")
)

// Runtime is the device-side allocator and object factory the residency
// engine consumes. Implementations must be safe for concurrent use: loads
// run on worker goroutines while the application thread issues launches.
type Runtime interface {
	// NewStream creates an independent in-order command stream.
	// A non-blocking stream does not synchronize with the default stream.
	NewStream(nonBlocking bool) (Stream, error)

	// NewEvent creates a reusable timing-disabled event.
	NewEvent() (Event, error)

	// AllocDevice allocates n bytes of zero-initialized device memory.
	AllocDevice(n int) (Buffer, error)

	// AllocHost allocates n bytes of page-locked host memory suitable as
	// the source or destination of asynchronous copies.
	AllocHost(n int) (HostBuffer, error)

	// NewArray allocates an RGBA8 2D array of the given base dimensions.
	// levels == 1 allocates a flat array; levels > 1 a mipmapped array
	// whose level i has dimensions max(1, w>>i) by max(1, h>>i).
	NewArray(width, height, levels int) (Array, error)

	// UploadLevel performs a synchronous 2D host-to-array copy of tightly
	// packed RGBA8 pixels into the given mip level. w and h must match
	// the level's dimensions exactly.
	UploadLevel(a Array, level int, pix []byte, w, h int) error

	// NewTextureObject creates a sampling view over an array. The returned
	// object's Handle is non-zero and stable until Destroy.
	NewTextureObject(a Array, cfg SamplerConfig) (TextureObject, error)

	// Close releases the runtime. Outstanding objects become invalid.
	Close() error
}

// Stream is an in-order asynchronous command queue. Commands enqueued on one
// stream execute in order with respect to each other; ordering across
// streams requires events. Methods may return before the command executes;
// source and destination slices must remain valid and unmodified until the
// stream is synchronized.
type Stream interface {
	// CopyToDevice enqueues a host-to-device copy of src into dst at dstOff.
	CopyToDevice(dst Buffer, dstOff int, src []byte) error

	// CopyToHost enqueues a device-to-host copy of len(dst) bytes from src
	// at srcOff into dst. dst should be pinned memory (a HostBuffer slice).
	CopyToHost(dst []byte, src Buffer, srcOff int) error

	// MemsetZero enqueues zeroing of n bytes of dst starting at off.
	MemsetZero(dst Buffer, off, n int) error

	// WaitEvent makes all subsequent commands on this stream wait until the
	// event's last recorded state completes.
	WaitEvent(e Event) error

	// Synchronize blocks the calling goroutine until every command enqueued
	// so far has completed.
	Synchronize() error

	// Destroy releases the stream. Pending commands complete first.
	Destroy()
}

// Event captures a point in a stream's command sequence. Events are
// reusable: Record overwrites the captured state.
type Event interface {
	// Record captures the current tail of the stream.
	Record(s Stream) error

	// Synchronize blocks until the recorded state completes. An event that
	// was never recorded completes immediately.
	Synchronize() error

	// Destroy releases the event.
	Destroy()
}

// Buffer is linear device memory.
type Buffer interface {
	// Size returns the allocation size in bytes.
	Size() int

	// Free releases the memory. Free is idempotent.
	Free()
}

// HostBuffer is page-locked host memory. Its Bytes slice is valid until Free.
type HostBuffer interface {
	// Bytes returns the full backing slice.
	Bytes() []byte

	// Size returns the allocation size in bytes.
	Size() int

	// Free releases the memory. Free is idempotent.
	Free()
}

// Array is a 2D RGBA8 device array, flat or mipmapped.
type Array interface {
	// Width and Height are the base level dimensions.
	Width() int
	Height() int

	// Levels is the allocated mip level count (1 for flat arrays).
	Levels() int

	// Free releases the array. Free is idempotent.
	Free()
}

// TextureObject is an opaque sampling view over an Array. The handle is what
// device code indexes; zero is reserved for "non-resident".
type TextureObject interface {
	// Handle returns the non-zero device-visible handle.
	Handle() uint64

	// Destroy releases the object. The backing array is not freed.
	Destroy()
}
