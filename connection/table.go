// File: connection/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-state/table"
)

const (
	// Column is the name of the column holding the encoded descriptor list.
	Column = "connections"
	// DefaultColumnSize is the byte budget of an encoded descriptor list.
	DefaultColumnSize = 1024
)

// Config sizes a connection table.
type Config struct {
	Capacity           int
	ConflictProportion float64
	// ColumnSize overrides DefaultColumnSize.
	ColumnSize int
	Segment    string
	Logger     zerolog.Logger
}

// Table maps identities to ordered descriptor lists.
type Table struct {
	table *table.Table
	width int
	log   zerolog.Logger
}

// NewTable creates the connection table, or attaches to a shared segment.
func NewTable(cfg Config) (*Table, error) {
	if cfg.ColumnSize <= 0 {
		cfg.ColumnSize = DefaultColumnSize
	}
	t, err := table.New(table.Config{
		Capacity:           cfg.Capacity,
		ConflictProportion: cfg.ConflictProportion,
		Columns:            []table.Column{{Name: Column, Type: table.TypeString, Size: cfg.ColumnSize}},
		Segment:            cfg.Segment,
		Logger:             cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Table{table: t, width: cfg.ColumnSize, log: cfg.Logger}, nil
}

// Connections returns the descriptors stored for identity. A missing or
// undecodable row yields an empty list.
func (t *Table) Connections(identity string) []int {
	raw, ok := t.table.Get(identity, Column)
	if !ok {
		return []int{}
	}
	return decode(raw)
}

// SetConnections stores list for identity and returns what was persisted.
// Negative descriptors are dropped. When the encoding does not fit below the
// column width only the last descriptor is kept.
func (t *Table) SetConnections(identity string, list []int) []int {
	fds := sanitize(list)
	raw, err := sonic.Marshal(fds)
	if err != nil {
		t.log.Warn().Err(err).Str("identity", identity).Msg("connection list unencodable")
		return t.Connections(identity)
	}
	if len(raw) >= t.width && len(fds) > 0 {
		t.log.Debug().
			Str("identity", identity).
			Int("dropped", len(fds)-1).
			Msg("connection list truncated to newest")
		fds = fds[len(fds)-1:]
		raw, _ = sonic.Marshal(fds)
	}
	if len(raw) >= t.width {
		fds, raw = []int{}, nil
	}
	if err := t.table.Set(identity, table.Row{Column: raw}); err != nil {
		t.log.Warn().Err(err).Str("identity", identity).Msg("connection list not stored")
		return t.Connections(identity)
	}
	return fds
}

// ConnectionsAmount sums the list lengths of every row. It scans the whole
// table.
func (t *Table) ConnectionsAmount() int {
	total := 0
	t.table.Range(func(_ string, row table.Row) bool {
		raw, _ := row[Column].([]byte)
		total += len(decode(raw))
		return true
	})
	return total
}

// Count returns the number of identities with a row, including empty ones.
func (t *Table) Count() int { return t.table.Count() }

// MemorySize returns the size of the shared segment in bytes.
func (t *Table) MemorySize() int { return t.table.MemorySize() }

// Table exposes the underlying table.
func (t *Table) Table() *table.Table { return t.table }

// Close unmaps the table.
func (t *Table) Close() error { return t.table.Close() }

func sanitize(list []int) []int {
	out := make([]int, 0, len(list))
	for _, fd := range list {
		if fd >= 0 {
			out = append(out, fd)
		}
	}
	return out
}

func decode(raw []byte) []int {
	var fds []int
	if len(raw) == 0 || sonic.Unmarshal(raw, &fds) != nil || fds == nil {
		return []int{}
	}
	return fds
}
