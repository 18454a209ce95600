package awaittree

import "sync"

var (
	globalMu       sync.RWMutex
	globalRegistry *Registry
)

// InitGlobalRegistry initializes the process-wide registry used by Spawn
// and SpawnAnonymous. Optional: registries created with NewRegistry and
// passed around explicitly give better encapsulation.
//
// Panics if the global registry is already initialized.
func InitGlobalRegistry(config Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalRegistry != nil {
		panic("awaittree: global registry already initialized")
	}
	globalRegistry = NewRegistry(config)
}

// CurrentRegistry returns the global registry, or nil if it has not been
// initialized.
func CurrentRegistry() *Registry {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalRegistry
}

// ResetGlobalRegistry tears the global registry down, letting a later
// InitGlobalRegistry succeed. Intended for tests and orderly shutdown.
func ResetGlobalRegistry() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalRegistry = nil
}
