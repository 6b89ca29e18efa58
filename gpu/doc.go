// Package gpu defines the runtime contract the demandtex core builds on.
//
// The residency engine never talks to a concrete GPU API. It consumes the
// small set of primitives declared here: streams with asynchronous copies,
// timing-disabled events for cross-stream ordering, linear device buffers,
// page-locked host buffers, 2D RGBA8 arrays (flat or mipmapped), and opaque
// texture objects. Any runtime that can express these primitives, whether
// HIP, CUDA, wgpu, or a software emulation, can host the engine.
//
// Two implementations ship with the module:
//
//   - backend/cpu: a pure-Go software runtime used by the tests and the demo.
//   - backend/wgpu: a wgpu-backed runtime built on github.com/gogpu/wgpu.
//
// All interfaces in this package must be safe for concurrent use unless a
// method documents otherwise.
package gpu
