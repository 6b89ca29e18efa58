package wgpu

import (
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/demandtex/gpu"
)

// Array is an RGBA8 2D texture with one or more mip levels.
type Array struct {
	rt      *Runtime
	texture hal.Texture
	w, h    int
	levels  int
	mu      sync.Mutex
	freed   bool
}

// NewArray allocates the texture with the requested level count.
func (r *Runtime) NewArray(width, height, levels int) (gpu.Array, error) {
	if width <= 0 || height <= 0 || levels <= 0 {
		return nil, gpu.ErrInvalidArgument
	}
	texture, err := r.device.CreateTexture(&hal.TextureDescriptor{
		Label: "demandtex-array",
		Size: hal.Extent3D{
			Width:              uint32(width),
			Height:             uint32(height),
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: uint32(levels),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture: %w", err)
	}
	return &Array{rt: r, texture: texture, w: width, h: height, levels: levels}, nil
}

// UploadLevel writes tightly packed RGBA8 pixels into one mip level.
func (r *Runtime) UploadLevel(a gpu.Array, level int, pix []byte, w, h int) error {
	arr, ok := a.(*Array)
	if !ok {
		return gpu.ErrInvalidArgument
	}
	arr.mu.Lock()
	defer arr.mu.Unlock()
	if arr.freed || level < 0 || level >= arr.levels {
		return gpu.ErrInvalidArgument
	}
	lw := max(1, arr.w>>level)
	lh := max(1, arr.h>>level)
	if w != lw || h != lh || len(pix) < w*h*4 {
		return gpu.ErrInvalidArgument
	}

	dst := &hal.ImageCopyTexture{
		Texture:  arr.texture,
		MipLevel: uint32(level),
		Origin:   hal.Origin3D{X: 0, Y: 0, Z: 0},
		Aspect:   gputypes.TextureAspectAll,
	}
	layout := &hal.ImageDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(w * 4),
		RowsPerImage: uint32(h),
	}
	size := &hal.Extent3D{
		Width:              uint32(w),
		Height:             uint32(h),
		DepthOrArrayLayers: 1,
	}

	r.queueMu.Lock()
	defer r.queueMu.Unlock()
	r.queue.WriteTexture(dst, pix[:w*h*4], layout, size)
	return nil
}

// Width returns the base level width.
func (a *Array) Width() int { return a.w }

// Height returns the base level height.
func (a *Array) Height() int { return a.h }

// Levels returns the mip level count.
func (a *Array) Levels() int { return a.levels }

// Free releases the texture. Free is idempotent.
func (a *Array) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freed {
		return
	}
	a.freed = true
	a.rt.device.DestroyTexture(a.texture)
}

// TextureObject pairs a texture view with a sampler under an opaque
// handle. Kernels resolve the handle through the runtime's table when
// building their bind groups.
type TextureObject struct {
	rt      *Runtime
	view    hal.TextureView
	sampler hal.Sampler
	handle  uint64
}

// NewTextureObject builds the view and sampler for an array.
//
// The view is always RGBA8Unorm, so cfg.SRGB is not applied. AddressBorder
// maps to clamp-to-edge rather than transparent black, and cfg.MinMipLevel
// and cfg.MaxMipLevel are not passed to the sampler.
func (r *Runtime) NewTextureObject(a gpu.Array, cfg gpu.SamplerConfig) (gpu.TextureObject, error) {
	arr, ok := a.(*Array)
	if !ok {
		return nil, gpu.ErrInvalidArgument
	}

	view, err := r.device.CreateTextureView(arr.texture, &hal.TextureViewDescriptor{
		Label:     "demandtex-view",
		Format:    gputypes.TextureFormatRGBA8Unorm,
		Dimension: gputypes.TextureViewDimension2D,
		Aspect:    gputypes.TextureAspectAll,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture view: %w", err)
	}

	sampler, err := r.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "demandtex-sampler",
		AddressModeU: addressMode(cfg.AddressModeU),
		AddressModeV: addressMode(cfg.AddressModeV),
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    filterMode(cfg.FilterMode),
		MinFilter:    filterMode(cfg.FilterMode),
		MipmapFilter: filterMode(cfg.MipFilterMode),
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create sampler: %w", err)
	}

	obj := &TextureObject{rt: r, view: view, sampler: sampler}
	r.registerTexture(obj)
	return obj, nil
}

// Handle returns the non-zero device-visible handle.
func (t *TextureObject) Handle() uint64 { return t.handle }

// View returns the hal texture view for kernel bind groups.
func (t *TextureObject) View() hal.TextureView { return t.view }

// Sampler returns the hal sampler for kernel bind groups.
func (t *TextureObject) Sampler() hal.Sampler { return t.sampler }

// Destroy unregisters the object and releases the view. The backing array
// is not freed.
func (t *TextureObject) Destroy() {
	t.rt.unregisterTexture(t.handle)
	t.rt.device.DestroyTextureView(t.view)
}

func addressMode(m gpu.AddressMode) gputypes.AddressMode {
	switch m {
	case gpu.AddressClamp, gpu.AddressBorder:
		return gputypes.AddressModeClampToEdge
	case gpu.AddressMirror:
		return gputypes.AddressModeMirrorRepeat
	default:
		return gputypes.AddressModeRepeat
	}
}

func filterMode(m gpu.FilterMode) gputypes.FilterMode {
	if m == gpu.FilterLinear {
		return gputypes.FilterModeLinear
	}
	return gputypes.FilterModeNearest
}
