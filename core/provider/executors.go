package provider

import (
	"sync"

	"github.com/modelmux/modelmux/core/infra/metrics"
)

// Executors caches one failover executor per category so the rolling
// cursors are shared by every caller: single-call endpoints and
// workflow steps draw from the same rotation. The registry is read-only
// after startup, so each executor snapshots its provider list on first
// use.
type Executors struct {
	registry *Registry
	cfg      RetryConfig
	metrics  metrics.ProviderMetrics

	mu    sync.Mutex
	cache map[Category]*Failover
}

// NewExecutors builds the per-category executor cache. A nil metrics
// value disables instrumentation.
func NewExecutors(registry *Registry, cfg RetryConfig, m metrics.ProviderMetrics) *Executors {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Executors{
		registry: registry,
		cfg:      cfg,
		metrics:  m,
		cache:    make(map[Category]*Failover),
	}
}

// For returns the shared failover executor for a category, building it
// on first use.
func (e *Executors) For(category Category) *Failover {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.cache[category]; ok {
		return f
	}
	f := NewFailover(category, e.registry.GetAll(category), e.cfg).WithMetrics(e.metrics)
	e.cache[category] = f
	return f
}
