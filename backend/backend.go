package backend

import (
	"errors"

	"github.com/gogpu/demandtex/gpu"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Backend name constants.
const (
	// BackendCPU is the name of the pure-Go software runtime.
	BackendCPU = "cpu"
	// BackendWGPU is the name of the GPU runtime built on gogpu/wgpu.
	BackendWGPU = "wgpu"
)

// Factory creates a new runtime instance. A factory fails when its backend
// cannot run on this machine (no adapter, missing driver).
type Factory func() (gpu.Runtime, error)
