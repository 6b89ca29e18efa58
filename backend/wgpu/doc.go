// Package wgpu provides a demandtex GPU runtime built on gogpu/wgpu.
//
// Device buffers are storage buffers, arrays are 2D RGBA8 textures with
// per-level uploads through the queue, texture objects pair a texture view
// with a sampler, and events are fence signals. All work goes through the
// device's single in-order queue, so stream ordering holds by
// construction.
//
// The package also carries ResidencyShim, a compute pipeline implementing
// the device-side sampling protocol (bitmap test, ring append with
// workgroup-level deduplication, sticky overflow) for kernels that want
// the stock behavior instead of hand-rolling it in their own shaders.
//
// Importing the package registers the "wgpu" backend:
//
//	import _ "github.com/gogpu/demandtex/backend/wgpu"
//
// Construction fails cleanly when no adapter is available, letting
// backend.Default fall back to the cpu runtime.
package wgpu
