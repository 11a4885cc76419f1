// File: table/column.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package table

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/momentics/hioload-state/api"
)

// ColumnType enumerates the value kinds a column can hold.
type ColumnType uint8

const (
	TypeInt ColumnType = iota + 1
	TypeFloat
	TypeString
)

func (c ColumnType) String() string {
	switch c {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Column declares one fixed-width column. Size is the maximum byte length for
// TypeString and is ignored for numeric types.
type Column struct {
	Name string
	Type ColumnType
	Size int
}

// Row maps column names to values. Set accepts integers, floats, strings and
// byte slices; Get returns int64, float64 and []byte.
type Row map[string]any

// column is a Column with its resolved offset inside a row.
type column struct {
	Column
	offset int
	width  int
}

// schema is the resolved row layout.
type schema struct {
	columns []column
	byName  map[string]int
	rowSize int
}

const (
	// KeyMaxLen is the longest key a row can hold.
	KeyMaxLen = 63

	rowNextOff  = 0
	rowUsedOff  = 4
	rowKeyLen   = 6
	rowKeyOff   = 8
	rowDataOff  = rowKeyOff + KeyMaxLen + 1
	strLenBytes = 4
)

func align8(n int) int { return (n + 7) &^ 7 }

func newSchema(cols []Column) (*schema, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("table: no columns: %w", api.ErrInvalidArgument)
	}
	s := &schema{byName: make(map[string]int, len(cols))}
	off := rowDataOff
	for _, c := range cols {
		if c.Name == "" {
			return nil, fmt.Errorf("table: empty column name: %w", api.ErrInvalidArgument)
		}
		if _, dup := s.byName[c.Name]; dup {
			return nil, fmt.Errorf("table: duplicate column %q: %w", c.Name, api.ErrInvalidArgument)
		}
		var width int
		switch c.Type {
		case TypeInt, TypeFloat:
			width = 8
		case TypeString:
			if c.Size <= 0 {
				return nil, fmt.Errorf("table: column %q size %d: %w", c.Name, c.Size, api.ErrInvalidArgument)
			}
			width = strLenBytes + c.Size
		default:
			return nil, fmt.Errorf("table: column %q type %d: %w", c.Name, c.Type, api.ErrInvalidArgument)
		}
		off = align8(off)
		s.byName[c.Name] = len(s.columns)
		s.columns = append(s.columns, column{Column: c, offset: off, width: width})
		off += width
	}
	s.rowSize = align8(off)
	return s, nil
}

// fingerprint identifies the layout so attachers can detect a mismatch.
func (s *schema) fingerprint(buckets, overflow int) uint64 {
	var b strings.Builder
	b.WriteString("hioload-table/v1|")
	b.WriteString(strconv.Itoa(buckets))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(overflow))
	for _, c := range s.columns {
		fmt.Fprintf(&b, "|%s:%d:%d", c.Name, c.Type, c.Size)
	}
	return xxhash.Sum64String(b.String())
}

// columnWrite is a validated, encoded value waiting to be copied into a row.
type columnWrite struct {
	col   *column
	num   uint64
	bytes []byte
}

func (s *schema) prepare(row Row) ([]columnWrite, error) {
	writes := make([]columnWrite, 0, len(row))
	for name, v := range row {
		i, ok := s.byName[name]
		if !ok {
			return nil, fmt.Errorf("table: column %q: %w", name, api.ErrUnknownColumn)
		}
		col := &s.columns[i]
		w, err := encodeValue(col, v)
		if err != nil {
			return nil, err
		}
		writes = append(writes, w)
	}
	return writes, nil
}

func encodeValue(col *column, v any) (columnWrite, error) {
	w := columnWrite{col: col}
	switch col.Type {
	case TypeInt:
		n, ok := toInt64(v)
		if !ok {
			return w, fmt.Errorf("table: column %q wants int, got %T: %w", col.Name, v, api.ErrInvalidArgument)
		}
		w.num = uint64(n)
	case TypeFloat:
		f, ok := toFloat64(v)
		if !ok {
			return w, fmt.Errorf("table: column %q wants float, got %T: %w", col.Name, v, api.ErrInvalidArgument)
		}
		w.num = floatBits(f)
	case TypeString:
		switch s := v.(type) {
		case string:
			w.bytes = []byte(s)
		case []byte:
			w.bytes = s
		default:
			return w, fmt.Errorf("table: column %q wants string, got %T: %w", col.Name, v, api.ErrInvalidArgument)
		}
		if len(w.bytes) > col.Size {
			return w, fmt.Errorf("table: column %q holds %d bytes, got %d: %w",
				col.Name, col.Size, len(w.bytes), api.ErrValueTooLarge)
		}
	}
	return w, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		return int64(n), true
	case uint64:
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}
