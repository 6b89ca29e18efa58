// Package backend provides a pluggable GPU runtime registry for demandtex.
//
// Runtime backends register themselves via init() functions and are
// selected at run time:
//
//	import _ "github.com/gogpu/demandtex/backend/cpu"  // software runtime
//	import _ "github.com/gogpu/demandtex/backend/wgpu" // gogpu/wgpu runtime
//
//	rt, err := backend.Default() // best available, wgpu before cpu
//	rt, err := backend.New(backend.BackendCPU)
//
// The returned gpu.Runtime is what demandtex.NewLoader consumes.
package backend
