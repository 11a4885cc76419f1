// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control using control package primitives.

package adapters

import (
	"github.com/momentics/hioload-state/api"
	"github.com/momentics/hioload-state/control"
)

type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

func NewControlAdapter() *ControlAdapter {
	return &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

// Stats merges counters with probe output; probe keys get a "debug." prefix.
func (c *ControlAdapter) Stats() map[string]any {
	combined := c.metrics.GetSnapshot()
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) AddMetric(key string, delta int64) {
	c.metrics.Add(key, delta)
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Counter returns one counter, for callers that hold the concrete adapter.
func (c *ControlAdapter) Counter(key string) int64 {
	return c.metrics.Counter(key)
}
