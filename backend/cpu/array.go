package cpu

import (
	"sync"

	"github.com/gogpu/demandtex/gpu"
)

// Array is a software RGBA8 2D array with one pixel slice per mip level.
type Array struct {
	rt    *Runtime
	mu    sync.Mutex
	w, h  int
	data  [][]byte
	bytes int64
	freed bool
}

// Width returns the base level width.
func (a *Array) Width() int { return a.w }

// Height returns the base level height.
func (a *Array) Height() int { return a.h }

// Levels returns the allocated mip level count.
func (a *Array) Levels() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

// Free releases the array. Free is idempotent.
func (a *Array) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return
	}
	a.freed = true
	a.rt.release(a.bytes)
	a.data = nil
}

// levelSize returns the dimensions of a mip level.
func (a *Array) levelSize(level int) (int, int) {
	w := max(1, a.w>>level)
	h := max(1, a.h>>level)
	return w, h
}

func (a *Array) writeLevel(level int, pix []byte, w, h int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed || level < 0 || level >= len(a.data) {
		return gpu.ErrInvalidArgument
	}
	lw, lh := a.levelSize(level)
	if w != lw || h != lh || len(pix) < w*h*4 {
		return gpu.ErrInvalidArgument
	}
	copy(a.data[level], pix[:w*h*4])
	return nil
}

// texel returns the RGBA8 texel at (x, y) of a level. Out-of-range
// coordinates are the caller's bug; level data is copied under the lock.
func (a *Array) texel(level, x, y int) (r, g, b, alpha uint8, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed || level < 0 || level >= len(a.data) {
		return 0, 0, 0, 0, false
	}
	w, h := a.levelSize(level)
	if x < 0 || x >= w || y < 0 || y >= h {
		return 0, 0, 0, 0, false
	}
	p := a.data[level][(y*w+x)*4:]
	return p[0], p[1], p[2], p[3], true
}

// TextureObject is a registered sampling view over an Array.
type TextureObject struct {
	rt     *Runtime
	arr    *Array
	cfg    gpu.SamplerConfig
	handle uint64
}

// Handle returns the non-zero device-visible handle.
func (t *TextureObject) Handle() uint64 { return t.handle }

// Config returns the sampler configuration the object was created with.
func (t *TextureObject) Config() gpu.SamplerConfig { return t.cfg }

// Destroy unregisters the object. The backing array is not freed.
func (t *TextureObject) Destroy() {
	t.rt.mu.Lock()
	delete(t.rt.textures, t.handle)
	t.rt.mu.Unlock()
}
