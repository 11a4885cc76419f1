// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named probes evaluated on demand.

package control

import (
	"runtime"
	"sync"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry with the runtime probes.
func NewDebugProbes() *DebugProbes {
	dp := &DebugProbes{probes: make(map[string]func() any)}
	dp.RegisterProbe("runtime.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("runtime.goroutines", func() any { return runtime.NumGoroutine() })
	return dp
}

// RegisterProbe inserts or replaces a named probe.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// DumpState evaluates every probe. Probes run outside the lock.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	probes := make(map[string]func() any, len(dp.probes))
	for k, fn := range dp.probes {
		probes[k] = fn
	}
	dp.mu.RUnlock()
	out := make(map[string]any, len(probes))
	for k, fn := range probes {
		out[k] = fn()
	}
	return out
}
