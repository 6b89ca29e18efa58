// Package cpu provides a pure-Go software implementation of the demandtex
// GPU runtime contract.
//
// Device buffers are host slices, streams execute their commands
// immediately (a legal scheduling of the asynchronous contract), and events
// complete as soon as they are recorded. The package also exposes Sampler,
// a host-side implementation of the device sampling protocol: residency
// bitmap test, request-ring append with sticky overflow, and texel fetch
// with address modes and filtering. Tests and the demo use Sampler as their
// "kernel".
//
// Importing the package registers the "cpu" backend:
//
//	import _ "github.com/gogpu/demandtex/backend/cpu"
package cpu
