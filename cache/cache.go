// File: cache/cache.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-state/codec"
	"github.com/momentics/hioload-state/table"
)

const (
	// ValueColumn is the name of the column holding serialized values.
	ValueColumn = "value"
	// DefaultColumnSize is the width of the value column when unset.
	DefaultColumnSize = 2048
)

// Config sizes the table behind a cache.
type Config struct {
	Capacity           int
	ConflictProportion float64
	ColumnSize         int
	Segment            string
	Logger             zerolog.Logger
}

// Cache stores V values under string keys.
type Cache[V any] struct {
	table *table.Table
	codec codec.Codec[V]
	width int
	log   zerolog.Logger
}

// New creates the cache table, or attaches to an existing shared segment.
func New[V any](cfg Config, c codec.Codec[V]) (*Cache[V], error) {
	if cfg.ColumnSize <= 0 {
		cfg.ColumnSize = DefaultColumnSize
	}
	t, err := table.New(table.Config{
		Capacity:           cfg.Capacity,
		ConflictProportion: cfg.ConflictProportion,
		Columns:            []table.Column{{Name: ValueColumn, Type: table.TypeString, Size: cfg.ColumnSize}},
		Segment:            cfg.Segment,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Cache[V]{table: t, codec: c, width: cfg.ColumnSize, log: cfg.Logger}, nil
}

// Lookup returns the value stored under key and whether it was present.
// A value that cannot be decoded is reported as absent.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	var zero V
	raw, ok := c.table.Get(key, ValueColumn)
	if !ok {
		return zero, false
	}
	v, err := c.codec.Decode(raw)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache value undecodable")
		return zero, false
	}
	return v, true
}

// Get returns the value stored under key, or def when absent.
func (c *Cache[V]) Get(key string, def V) V {
	if v, ok := c.Lookup(key); ok {
		return v
	}
	return def
}

// Set stores value under key. It returns false without writing when the
// value cannot be encoded, its encoding does not fit below the column width,
// or the table has no room for a new key. ttl is ignored.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) bool {
	_ = ttl
	raw, err := c.codec.Encode(value)
	if err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache value unencodable")
		return false
	}
	if len(raw) >= c.width {
		c.log.Debug().Str("key", key).Int("size", len(raw)).Int("width", c.width).Msg("cache value rejected")
		return false
	}
	if err := c.table.Set(key, table.Row{ValueColumn: raw}); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache write failed")
		return false
	}
	return true
}

// Delete removes key. Deleting a missing key succeeds.
func (c *Cache[V]) Delete(key string) bool {
	c.table.Delete(key)
	return !c.table.Exist(key)
}

// Has reports whether key is stored.
func (c *Cache[V]) Has(key string) bool {
	return c.table.Exist(key)
}

// Clear removes every key. Keys are snapshotted by a full scan first, then
// deleted.
func (c *Cache[V]) Clear() bool {
	ok := true
	for _, key := range c.table.Keys() {
		ok = c.Delete(key) && ok
	}
	return ok
}

// GetMultiple looks up every key, substituting def for absent ones.
func (c *Cache[V]) GetMultiple(keys []string, def V) map[string]V {
	out := make(map[string]V, len(keys))
	for _, key := range keys {
		out[key] = c.Get(key, def)
	}
	return out
}

// SetMultiple stores every pair. A failing pair does not stop the batch; the
// result is true only if every Set succeeded.
func (c *Cache[V]) SetMultiple(values map[string]V, ttl time.Duration) bool {
	ok := true
	for key, v := range values {
		ok = c.Set(key, v, ttl) && ok
	}
	return ok
}

// DeleteMultiple removes every key and reports whether all deletions succeeded.
func (c *Cache[V]) DeleteMultiple(keys []string) bool {
	ok := true
	for _, key := range keys {
		ok = c.Delete(key) && ok
	}
	return ok
}

// Keys returns a snapshot of the stored keys.
func (c *Cache[V]) Keys() []string {
	return c.table.Keys()
}

// ToMap returns the decoded entries accepted by filter. A nil filter accepts
// everything. Undecodable entries are skipped.
func (c *Cache[V]) ToMap(filter func(key string, value V) bool) map[string]V {
	out := make(map[string]V)
	c.table.Range(func(key string, row table.Row) bool {
		raw, _ := row[ValueColumn].([]byte)
		v, err := c.codec.Decode(raw)
		if err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("cache value undecodable")
			return true
		}
		if filter == nil || filter(key, v) {
			out[key] = v
		}
		return true
	})
	return out
}

// Len returns the number of stored keys.
func (c *Cache[V]) Len() int { return c.table.Count() }

// MemoryUsage returns the size of the shared segment in bytes.
func (c *Cache[V]) MemoryUsage() int { return c.table.MemorySize() }

// Table exposes the underlying table.
func (c *Cache[V]) Table() *table.Table { return c.table }

// Close unmaps the cache table.
func (c *Cache[V]) Close() error { return c.table.Close() }
