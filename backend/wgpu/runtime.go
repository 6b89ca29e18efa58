package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/demandtex/backend"
	"github.com/gogpu/demandtex/gpu"
)

func init() {
	backend.Register(backend.BackendWGPU, func() (gpu.Runtime, error) {
		return New()
	})
}

// Runtime is a gpu.Runtime over a gogpu/wgpu hal device.
//
// Thread safety: Runtime and every object it creates are safe for
// concurrent use. All GPU work funnels through the device's single
// in-order queue, guarded by queueMu.
type Runtime struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // device owned by a provider, not by us

	// queueMu serializes queue submissions and the stream-side fence waits
	// that follow them; Event.Synchronize waits on its fence without it.
	queueMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	nextHandle uint64
	textures   map[uint64]*TextureObject
}

// New creates a standalone runtime on the best available adapter.
func New() (*Runtime, error) {
	halBackend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: no GPU adapters found")
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	return &Runtime{
		instance: instance,
		device:   openDev.Device,
		queue:    openDev.Queue,
		textures: make(map[uint64]*TextureObject),
	}, nil
}

// NewFromProvider creates a runtime sharing a device from an external
// provider (e.g., a gogpu window). The provider must also implement
// gpucontext.HalProvider so the raw HAL device and queue are reachable.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Runtime, error) {
	hp, ok := provider.(gpucontext.HalProvider)
	if !ok {
		return nil, fmt.Errorf("wgpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("wgpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("wgpu: provider HalQueue is not hal.Queue")
	}
	return &Runtime{
		device:   device,
		queue:    queue,
		external: true,
		textures: make(map[uint64]*TextureObject),
	}, nil
}

// Device returns the underlying hal device, for applications that build
// their own kernels against the same device.
func (r *Runtime) Device() hal.Device { return r.device }

// Queue returns the underlying hal queue.
func (r *Runtime) Queue() hal.Queue { return r.queue }

// NewStream creates a stream. All streams share the device queue; the
// nonBlocking flag is accepted for interface compatibility.
func (r *Runtime) NewStream(nonBlocking bool) (gpu.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, gpu.ErrClosed
	}
	return &Stream{rt: r}, nil
}

// NewEvent creates a fence-backed event.
func (r *Runtime) NewEvent() (gpu.Event, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, gpu.ErrClosed
	}
	r.mu.Unlock()

	fence, err := r.device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	return &Event{rt: r, fence: fence}, nil
}

// AllocDevice allocates a zero-initialized storage buffer.
func (r *Runtime) AllocDevice(n int) (gpu.Buffer, error) {
	if n <= 0 {
		return nil, gpu.ErrInvalidArgument
	}
	buf, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "demandtex-device",
		Size:  uint64(n),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	// Buffers are not guaranteed zeroed; write explicit zeros once.
	r.queueMu.Lock()
	r.queue.WriteBuffer(buf, 0, make([]byte, n))
	r.queueMu.Unlock()
	return &Buffer{rt: r, buf: buf, size: n}, nil
}

// AllocHost allocates host memory. WriteBuffer/ReadBuffer stage copies
// internally, so ordinary memory serves as the "pinned" mirror.
func (r *Runtime) AllocHost(n int) (gpu.HostBuffer, error) {
	if n <= 0 {
		return nil, gpu.ErrInvalidArgument
	}
	return &HostBuffer{data: make([]byte, n)}, nil
}

// registerTexture assigns a device-visible handle.
func (r *Runtime) registerTexture(obj *TextureObject) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextHandle++
	obj.handle = r.nextHandle
	r.textures[obj.handle] = obj
	return obj.handle
}

func (r *Runtime) unregisterTexture(handle uint64) {
	r.mu.Lock()
	delete(r.textures, handle)
	r.mu.Unlock()
}

// Close releases the runtime and, when owned, the device and instance.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.textures = make(map[uint64]*TextureObject)
	r.mu.Unlock()

	if !r.external && r.device != nil {
		r.device.Destroy()
	}
	if r.instance != nil {
		r.instance.Destroy()
	}
	return nil
}
