package wgpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/demandtex/gpu"
)

// fenceWaitTimeout bounds fence waits (nanoseconds).
const fenceWaitTimeout = 5_000_000_000

// Stream issues commands to the device's single in-order queue. Because
// every stream shares that queue, commands across streams execute in
// submission order and WaitEvent holds by construction.
type Stream struct {
	rt        *Runtime
	destroyed atomic.Bool
}

// CopyToDevice writes src into dst at dstOff through the queue.
func (s *Stream) CopyToDevice(dst gpu.Buffer, dstOff int, src []byte) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	b, ok := dst.(*Buffer)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	if dstOff < 0 || dstOff+len(src) > b.size {
		return gpu.ErrInvalidArgument
	}
	if len(src) == 0 {
		return nil
	}
	s.rt.queueMu.Lock()
	defer s.rt.queueMu.Unlock()
	s.rt.queue.WriteBuffer(b.buf, uint64(dstOff), src)
	return nil
}

// CopyToHost copies from the device buffer into dst via a staging buffer.
// The copy completes before return; wgpu readback is inherently
// synchronizing, which satisfies the asynchronous contract trivially.
func (s *Stream) CopyToHost(dst []byte, src gpu.Buffer, srcOff int) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	b, ok := src.(*Buffer)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	if srcOff < 0 || srcOff+len(dst) > b.size {
		return gpu.ErrInvalidArgument
	}
	if len(dst) == 0 {
		return nil
	}

	staging, err := s.rt.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "demandtex-readback",
		Size:  uint64(len(dst)),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create staging buffer: %w", err)
	}
	defer s.rt.device.DestroyBuffer(staging)

	encoder, err := s.rt.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "demandtex-readback",
	})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding("demandtex-readback"); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(b.buf, staging, []hal.BufferCopy{{
		SrcOffset: uint64(srcOff),
		DstOffset: 0,
		Size:      uint64(len(dst)),
	}})
	cmd, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer s.rt.device.FreeCommandBuffer(cmd)

	fence, err := s.rt.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer s.rt.device.DestroyFence(fence)

	s.rt.queueMu.Lock()
	defer s.rt.queueMu.Unlock()
	if err := s.rt.queue.Submit([]hal.CommandBuffer{cmd}, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit readback: %w", err)
	}
	if _, err := s.rt.device.Wait(fence, 1, fenceWaitTimeout); err != nil {
		return fmt.Errorf("wgpu: wait readback: %w", err)
	}
	return s.rt.queue.ReadBuffer(staging, 0, dst)
}

// MemsetZero writes zeros into the buffer range through the queue.
func (s *Stream) MemsetZero(dst gpu.Buffer, off, n int) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	b, ok := dst.(*Buffer)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	if off < 0 || n < 0 || off+n > b.size {
		return gpu.ErrInvalidArgument
	}
	if n == 0 {
		return nil
	}
	s.rt.queueMu.Lock()
	defer s.rt.queueMu.Unlock()
	s.rt.queue.WriteBuffer(b.buf, uint64(off), make([]byte, n))
	return nil
}

// WaitEvent is a no-op: all streams share one in-order queue, so the
// event's recorded work already precedes anything enqueued here.
func (s *Stream) WaitEvent(e gpu.Event) error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	if e == nil {
		return gpu.ErrInvalidArgument
	}
	return nil
}

// Synchronize drains the queue with a fence round-trip.
func (s *Stream) Synchronize() error {
	if s.destroyed.Load() {
		return gpu.ErrClosed
	}
	fence, err := s.rt.device.CreateFence()
	if err != nil {
		return fmt.Errorf("wgpu: create fence: %w", err)
	}
	defer s.rt.device.DestroyFence(fence)

	s.rt.queueMu.Lock()
	defer s.rt.queueMu.Unlock()
	if err := s.rt.queue.Submit(nil, fence, 1); err != nil {
		return fmt.Errorf("wgpu: submit fence: %w", err)
	}
	if _, err := s.rt.device.Wait(fence, 1, fenceWaitTimeout); err != nil {
		return fmt.Errorf("wgpu: wait fence: %w", err)
	}
	return nil
}

// Destroy marks the stream unusable. The shared queue lives on.
func (s *Stream) Destroy() {
	s.destroyed.Store(true)
}

// Event is a fence signaled through the queue.
type Event struct {
	rt       *Runtime
	fence    hal.Fence
	value    atomic.Uint64
	recorded atomic.Bool
}

// Record signals the fence at the queue's current tail.
func (e *Event) Record(s gpu.Stream) error {
	if _, ok := s.(*Stream); !ok {
		return gpu.ErrInvalidArgument
	}
	v := e.value.Add(1)
	e.rt.queueMu.Lock()
	defer e.rt.queueMu.Unlock()
	if err := e.rt.queue.Submit(nil, e.fence, v); err != nil {
		return fmt.Errorf("wgpu: record event: %w", err)
	}
	e.recorded.Store(true)
	return nil
}

// Synchronize waits for the last recorded signal. An unrecorded event
// completes immediately.
func (e *Event) Synchronize() error {
	if !e.recorded.Load() {
		return nil
	}
	if _, err := e.rt.device.Wait(e.fence, e.value.Load(), fenceWaitTimeout); err != nil {
		return fmt.Errorf("wgpu: wait event: %w", err)
	}
	return nil
}

// Destroy releases the fence.
func (e *Event) Destroy() {
	e.rt.device.DestroyFence(e.fence)
}
