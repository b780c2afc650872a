// Package metrics exposes Transit's Prometheus registry and the gauges and
// counters the transfer coordinator and store record against it.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  atomic.Bool
)

// Init creates the process-wide registry. Calling it more than once
// replaces the registry; tests that want isolation should call Init once
// per test with a fresh registry.
func Init(enable bool) *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	enabled.Store(enable)
	if !enable {
		registry = nil
		return nil
	}
	registry = prometheus.NewRegistry()
	registerCollectors(registry)
	return registry
}

// IsEnabled reports whether metrics collection is active.
func IsEnabled() bool {
	return enabled.Load()
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}
