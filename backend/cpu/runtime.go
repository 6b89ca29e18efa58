package cpu

import (
	"sync"

	"github.com/gogpu/demandtex/backend"
	"github.com/gogpu/demandtex/gpu"
)

func init() {
	backend.Register(backend.BackendCPU, func() (gpu.Runtime, error) {
		return New(), nil
	})
}

// Runtime is a software gpu.Runtime. The zero value is not usable; call New.
//
// Thread safety: Runtime and every object it creates are safe for
// concurrent use.
type Runtime struct {
	mu         sync.Mutex
	closed     bool
	limit      int64 // device byte budget; 0 = unlimited
	used       int64
	nextHandle uint64
	textures   map[uint64]*TextureObject
}

// New creates a software runtime with no device memory limit.
func New() *Runtime {
	return &Runtime{textures: make(map[uint64]*TextureObject)}
}

// NewWithMemoryLimit creates a software runtime whose device allocations
// fail once the given byte total is exceeded. Useful for exercising
// out-of-memory paths in tests.
func NewWithMemoryLimit(limit int64) *Runtime {
	r := New()
	r.limit = limit
	return r
}

// DeviceBytesInUse returns the currently allocated device byte total.
func (r *Runtime) DeviceBytesInUse() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

func (r *Runtime) reserve(n int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return gpu.ErrClosed
	}
	if r.limit > 0 && r.used+n > r.limit {
		return gpu.ErrOutOfMemory
	}
	r.used += n
	return nil
}

func (r *Runtime) release(n int64) {
	r.mu.Lock()
	r.used -= n
	r.mu.Unlock()
}

// NewStream creates an immediate-execution stream.
func (r *Runtime) NewStream(nonBlocking bool) (gpu.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, gpu.ErrClosed
	}
	return &Stream{rt: r, nonBlocking: nonBlocking}, nil
}

// NewEvent creates an event. CPU events complete when recorded.
func (r *Runtime) NewEvent() (gpu.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, gpu.ErrClosed
	}
	return &Event{}, nil
}

// AllocDevice allocates zeroed "device" memory.
func (r *Runtime) AllocDevice(n int) (gpu.Buffer, error) {
	if n <= 0 {
		return nil, gpu.ErrInvalidArgument
	}
	if err := r.reserve(int64(n)); err != nil {
		return nil, err
	}
	return &Buffer{rt: r, data: make([]byte, n)}, nil
}

// AllocHost allocates host memory. All host memory is "pinned" here.
func (r *Runtime) AllocHost(n int) (gpu.HostBuffer, error) {
	if n <= 0 {
		return nil, gpu.ErrInvalidArgument
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, gpu.ErrClosed
	}
	return &HostBuffer{data: make([]byte, n)}, nil
}

// NewArray allocates an RGBA8 array with the requested level count.
func (r *Runtime) NewArray(width, height, levels int) (gpu.Array, error) {
	if width <= 0 || height <= 0 || levels <= 0 {
		return nil, gpu.ErrInvalidArgument
	}

	var total int64
	w, h := width, height
	for range levels {
		total += int64(w * h * 4)
		w = max(1, w/2)
		h = max(1, h/2)
	}
	if err := r.reserve(total); err != nil {
		return nil, err
	}

	data := make([][]byte, levels)
	w, h = width, height
	for i := range levels {
		data[i] = make([]byte, w*h*4)
		w = max(1, w/2)
		h = max(1, h/2)
	}
	return &Array{rt: r, w: width, h: height, data: data, bytes: total}, nil
}

// UploadLevel copies tightly packed RGBA8 pixels into a mip level.
func (r *Runtime) UploadLevel(a gpu.Array, level int, pix []byte, w, h int) error {
	arr, ok := a.(*Array)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	return arr.writeLevel(level, pix, w, h)
}

// NewTextureObject registers a sampling view over a cpu Array.
func (r *Runtime) NewTextureObject(a gpu.Array, cfg gpu.SamplerConfig) (gpu.TextureObject, error) {
	arr, ok := a.(*Array)
	if !ok || arr == nil {
		return nil, gpu.ErrInvalidArgument
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, gpu.ErrClosed
	}
	r.nextHandle++
	obj := &TextureObject{rt: r, arr: arr, cfg: cfg, handle: r.nextHandle}
	r.textures[obj.handle] = obj
	return obj, nil
}

// lookupTexture resolves a device-visible handle, as a kernel would.
func (r *Runtime) lookupTexture(handle uint64) *TextureObject {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.textures[handle]
}

// Close releases the runtime.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.textures = make(map[uint64]*TextureObject)
	return nil
}
