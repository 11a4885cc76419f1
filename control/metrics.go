// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Counters and gauges for registry and transport activity.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRegistry holds named counters and free-form gauges.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	gauges   map[string]any
	updated  time.Time
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*atomic.Int64),
		gauges:   make(map[string]any),
	}
}

// Add increments counter key by delta.
func (mr *MetricsRegistry) Add(key string, delta int64) {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if !ok {
		mr.mu.Lock()
		if c, ok = mr.counters[key]; !ok {
			c = new(atomic.Int64)
			mr.counters[key] = c
		}
		mr.mu.Unlock()
	}
	c.Add(delta)
}

// Set sets gauge key.
func (mr *MetricsRegistry) Set(key string, value any) {
	mr.mu.Lock()
	mr.gauges[key] = value
	mr.updated = time.Now()
	mr.mu.Unlock()
}

// Counter returns the current value of counter key.
func (mr *MetricsRegistry) Counter(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[key]; ok {
		return c.Load()
	}
	return 0
}

// GetSnapshot returns counters and gauges in one map.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	out := make(map[string]any, len(mr.counters)+len(mr.gauges))
	for k, v := range mr.gauges {
		out[k] = v
	}
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	return out
}
