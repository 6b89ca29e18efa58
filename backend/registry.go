package backend

import (
	"sync"

	"github.com/gogpu/demandtex/gpu"
)

// registry holds registered runtime backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for backend selection (first available wins).
	// wgpu > cpu: prefer real hardware, fall back to software.
	backendPriority = []string{BackendWGPU, BackendCPU}
)

// Register registers a runtime factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it is replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns a list of registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// New creates a runtime by backend name.
// Returns ErrBackendNotAvailable if the backend is not registered.
func New(name string) (gpu.Runtime, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, ErrBackendNotAvailable
	}
	return factory()
}

// Default creates the best available runtime, trying backends in priority
// order and falling back to the next when construction fails.
func Default() (gpu.Runtime, error) {
	registryMu.RLock()
	order := make([]Factory, 0, len(backendPriority))
	for _, name := range backendPriority {
		if f, ok := backends[name]; ok {
			order = append(order, f)
		}
	}
	registryMu.RUnlock()

	var firstErr error
	for _, f := range order {
		rt, err := f()
		if err == nil {
			return rt, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrBackendNotAvailable
}
