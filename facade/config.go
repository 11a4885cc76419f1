// File: facade/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package facade

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/momentics/hioload-state/internal/logging"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "HIOLOAD_"

// CacheConfig sizes the shared cache table.
type CacheConfig struct {
	Capacity           int     `env:"CAPACITY"    envDefault:"1024"`
	ConflictProportion float64 `env:"CONFLICT"    envDefault:"0.2"`
	ColumnSize         int     `env:"COLUMN_SIZE" envDefault:"2048"`
	Segment            string  `env:"SEGMENT"`
}

// ConnConfig sizes the shared connection table.
type ConnConfig struct {
	Capacity           int     `env:"CAPACITY"    envDefault:"4096"`
	ConflictProportion float64 `env:"CONFLICT"    envDefault:"0.2"`
	ColumnSize         int     `env:"COLUMN_SIZE" envDefault:"1024"`
	Segment            string  `env:"SEGMENT"`
}

// Config holds parameters immutable per run.
type Config struct {
	Cache       CacheConfig    `envPrefix:"CACHE_"`
	Connections ConnConfig     `envPrefix:"CONN_"`
	TaskShards  int            `env:"TASK_SHARDS" envDefault:"16"`
	Log         logging.Config `envPrefix:"LOG_"`
	ListenAddr  string         `env:"LISTEN_ADDR" envDefault:":8080"`
}

// DefaultConfig returns the defaults LoadConfig falls back to.
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix, Environment: map[string]string{}})
	return cfg
}

// LoadConfig reads HIOLOAD_* variables from the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// snapshot flattens the configuration for the control layer.
func (c *Config) snapshot() map[string]any {
	return map[string]any{
		"cache.capacity":       c.Cache.Capacity,
		"cache.conflict":       c.Cache.ConflictProportion,
		"cache.column_size":    c.Cache.ColumnSize,
		"cache.segment":        c.Cache.Segment,
		"connections.capacity": c.Connections.Capacity,
		"connections.conflict": c.Connections.ConflictProportion,
		"connections.segment":  c.Connections.Segment,
		"tasks.shards":         c.TaskShards,
		"log.level":            c.Log.Level,
		"listen_addr":          c.ListenAddr,
	}
}
