// File: table/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package table

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-state/api"
	"github.com/momentics/hioload-state/internal/shm"
)

// DefaultConflictProportion is used when Config.ConflictProportion is zero.
const DefaultConflictProportion = 0.2

// Config describes a table. It is immutable once the table is created.
type Config struct {
	// Capacity is the maximum number of distinct keys.
	Capacity int
	// ConflictProportion sizes the overflow pool used for hash collisions
	// as a fraction of Capacity.
	ConflictProportion float64
	// Columns is the fixed row layout.
	Columns []Column
	// Segment is the path of the shared memory file. Empty means an
	// anonymous mapping visible to this process only.
	Segment string
	// Logger receives lifecycle events. The zero value discards them.
	Logger zerolog.Logger
}

// Table is a fixed-capacity hash table in a shared memory segment.
// All methods are safe for concurrent use by goroutines and processes,
// including Close, which waits for in-flight operations of this process.
type Table struct {
	seg *shm.Segment
	// guard is held shared by every operation touching mem and exclusively
	// by Close and Destroy.
	guard  sync.RWMutex
	mem    []byte
	schema *schema
	layout layout
	cap    int
	log    zerolog.Logger
}

// New creates the table, or attaches to it when Config.Segment names an
// existing segment with the same layout.
func New(cfg Config) (*Table, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("table: capacity %d: %w", cfg.Capacity, api.ErrInvalidArgument)
	}
	if cfg.ConflictProportion < 0 || math.IsNaN(cfg.ConflictProportion) {
		return nil, fmt.Errorf("table: conflict proportion %v: %w", cfg.ConflictProportion, api.ErrInvalidArgument)
	}
	if cfg.ConflictProportion == 0 {
		cfg.ConflictProportion = DefaultConflictProportion
	}
	s, err := newSchema(cfg.Columns)
	if err != nil {
		return nil, err
	}

	overflow := int(math.Ceil(float64(cfg.Capacity) * cfg.ConflictProportion))
	l := newLayout(cfg.Capacity, overflow, s.rowSize)
	fp := s.fingerprint(l.buckets, l.overflow)

	seg, err := shm.Open(cfg.Segment, l.size)
	if err != nil {
		return nil, err
	}
	t := &Table{
		seg:    seg,
		mem:    seg.Bytes(),
		schema: s,
		layout: l,
		cap:    cfg.Capacity,
		log:    cfg.Logger,
	}
	if seg.Created() {
		t.format(fp)
	} else if err := t.attach(fp); err != nil {
		_ = seg.Close()
		return nil, err
	}

	t.log.Info().
		Str("segment", seg.Path()).
		Bool("created", seg.Created()).
		Int("capacity", t.cap).
		Int("slots", l.buckets+l.overflow).
		Str("memory", humanize.IBytes(uint64(l.size))).
		Msg("table mapped")
	return t, nil
}

// attach waits for the creator to publish the header and checks the layout.
func (t *Table) attach(fp uint64) error {
	deadline := time.Now().Add(shm.AttachTimeout)
	for atomic.LoadUint32(t.u32(hdrMagic)) != magicValue {
		if time.Now().After(deadline) {
			return fmt.Errorf("table: segment %q was never initialized: %w", t.seg.Path(), os.ErrDeadlineExceeded)
		}
		time.Sleep(time.Millisecond)
	}
	if *t.u32(hdrVersion) != layoutVer || *t.u64(hdrPrint) != fp {
		return fmt.Errorf("table: segment %q: %w", t.seg.Path(), api.ErrLayoutMismatch)
	}
	return nil
}

// TempSegment returns a fresh segment path under /dev/shm when available,
// otherwise under the system temp directory.
func TempSegment(prefix string) string {
	dir := "/dev/shm"
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		dir = os.TempDir()
	}
	return filepath.Join(dir, prefix+"-"+uuid.NewString())
}

// acquire pins the mapping for one operation. It returns false once the
// table is closed; otherwise release must be called.
func (t *Table) acquire() bool {
	t.guard.RLock()
	if t.mem == nil {
		t.guard.RUnlock()
		return false
	}
	return true
}

func (t *Table) release() { t.guard.RUnlock() }

func (t *Table) bucket(key string) uint32 {
	return uint32(xxhash.Sum64String(key) % uint64(t.layout.buckets))
}

func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("table: empty key: %w", api.ErrInvalidArgument)
	}
	if len(key) > KeyMaxLen {
		return fmt.Errorf("table: key of %d bytes: %w", len(key), api.ErrKeyTooLong)
	}
	return nil
}

// find walks the chain of bucket b. The bucket lock must be held.
func (t *Table) find(b uint32, key string) (uint32, bool) {
	if !t.used(b) {
		return noRow, false
	}
	for idx := b; idx != noRow; idx = t.next(idx) {
		if t.keyEquals(idx, key) {
			return idx, true
		}
	}
	return noRow, false
}

// reserve claims one unit of capacity for a new key.
func (t *Table) reserve() bool {
	if atomic.AddInt64(t.i64(hdrCount), 1) > int64(t.cap) {
		atomic.AddInt64(t.i64(hdrCount), -1)
		return false
	}
	return true
}

func (t *Table) unreserve() {
	atomic.AddInt64(t.i64(hdrCount), -1)
}

// Set writes the named columns of key's row, creating the row if needed.
// Columns absent from row keep their previous value, or zero for a new row.
// Nothing is written when any value is invalid or does not fit.
func (t *Table) Set(key string, row Row) error {
	if err := checkKey(key); err != nil {
		return err
	}
	writes, err := t.schema.prepare(row)
	if err != nil {
		return err
	}
	if !t.acquire() {
		return api.ErrClosed
	}
	defer t.release()

	b := t.bucket(key)
	lock := t.bucketLock(b)
	lock.Lock()
	defer lock.Unlock()

	if idx, ok := t.find(b, key); ok {
		t.writeColumns(idx, writes)
		return nil
	}
	if !t.reserve() {
		return fmt.Errorf("table: set %q: %d keys stored: %w", key, t.cap, api.ErrCapacityExceeded)
	}
	if !t.used(b) {
		t.initRow(b, key, noRow)
		t.writeColumns(b, writes)
		return nil
	}
	idx, ok := t.allocOverflow()
	if !ok {
		t.unreserve()
		return fmt.Errorf("table: set %q: overflow pool exhausted: %w", key, api.ErrCapacityExceeded)
	}
	t.initRow(idx, key, t.next(b))
	t.writeColumns(idx, writes)
	t.setNext(b, idx)
	return nil
}

// Get returns a copy of one column of key's row.
// Numeric columns are returned as 8 little-endian bytes.
func (t *Table) Get(key, column string) ([]byte, bool) {
	v, ok := t.value(key, column)
	if !ok {
		return nil, false
	}
	if b, isBytes := v.([]byte); isBytes {
		return b, true
	}
	return numBytes(v), true
}

// GetInt returns an int column of key's row.
func (t *Table) GetInt(key, column string) (int64, bool) {
	v, ok := t.value(key, column)
	n, isInt := v.(int64)
	return n, ok && isInt
}

// GetFloat returns a float column of key's row.
func (t *Table) GetFloat(key, column string) (float64, bool) {
	v, ok := t.value(key, column)
	f, isFloat := v.(float64)
	return f, ok && isFloat
}

func (t *Table) value(key, column string) (any, bool) {
	ci, ok := t.schema.byName[column]
	if !ok || checkKey(key) != nil || !t.acquire() {
		return nil, false
	}
	defer t.release()
	b := t.bucket(key)
	lock := t.bucketLock(b)
	lock.Lock()
	defer lock.Unlock()
	idx, found := t.find(b, key)
	if !found {
		return nil, false
	}
	return t.readColumn(idx, &t.schema.columns[ci]), true
}

// GetRow returns a copy of every column of key's row.
func (t *Table) GetRow(key string) (Row, bool) {
	if checkKey(key) != nil || !t.acquire() {
		return nil, false
	}
	defer t.release()
	b := t.bucket(key)
	lock := t.bucketLock(b)
	lock.Lock()
	defer lock.Unlock()
	idx, found := t.find(b, key)
	if !found {
		return nil, false
	}
	return t.readRow(idx), true
}

// Exist reports whether key has a row.
func (t *Table) Exist(key string) bool {
	if checkKey(key) != nil || !t.acquire() {
		return false
	}
	defer t.release()
	b := t.bucket(key)
	lock := t.bucketLock(b)
	lock.Lock()
	defer lock.Unlock()
	_, found := t.find(b, key)
	return found
}

// Delete removes key's row. It reports whether a row was removed; deleting a
// missing key is a no-op.
func (t *Table) Delete(key string) bool {
	if checkKey(key) != nil || !t.acquire() {
		return false
	}
	defer t.release()
	b := t.bucket(key)
	lock := t.bucketLock(b)
	lock.Lock()
	defer lock.Unlock()

	if !t.used(b) {
		return false
	}
	if t.keyEquals(b, key) {
		if nxt := t.next(b); nxt != noRow {
			// Promote the first chained row into the bucket head.
			copy(t.rowBytes(b), t.rowBytes(nxt))
			t.freeOverflow(nxt)
		} else {
			t.clearRow(b)
		}
		t.unreserve()
		return true
	}
	for prev, cur := b, t.next(b); cur != noRow; prev, cur = cur, t.next(cur) {
		if t.keyEquals(cur, key) {
			t.setNext(prev, t.next(cur))
			t.freeOverflow(cur)
			t.unreserve()
			return true
		}
	}
	return false
}

// Count returns the number of stored rows.
func (t *Table) Count() int {
	if !t.acquire() {
		return 0
	}
	defer t.release()
	return int(atomic.LoadInt64(t.i64(hdrCount)))
}

// NextSequence returns the next value of a counter kept in the segment
// header. Values start at 1 and are unique across every process attached
// to the segment.
func (t *Table) NextSequence() (uint64, error) {
	if !t.acquire() {
		return 0, api.ErrClosed
	}
	defer t.release()
	return atomic.AddUint64(t.u64(hdrSequence), 1), nil
}

// Capacity returns the maximum number of distinct keys.
func (t *Table) Capacity() int { return t.cap }

// Slots returns the number of allocated rows, bucket heads plus overflow.
func (t *Table) Slots() int { return t.layout.buckets + t.layout.overflow }

// MemorySize returns the size of the mapped segment in bytes.
func (t *Table) MemorySize() int { return t.layout.size }

// Columns returns the row layout.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.schema.columns))
	for i, c := range t.schema.columns {
		out[i] = c.Column
	}
	return out
}

// Segment returns the backing file path, empty for anonymous tables.
func (t *Table) Segment() string { return t.seg.Path() }

// Close waits for in-flight operations and unmaps the segment. Later calls
// on the table fail or report absence. Other processes keep their mappings.
func (t *Table) Close() error {
	t.guard.Lock()
	defer t.guard.Unlock()
	if t.mem == nil {
		return nil
	}
	t.mem = nil
	return t.seg.Close()
}

// Destroy closes the table and removes its backing file.
func (t *Table) Destroy() error {
	t.guard.Lock()
	defer t.guard.Unlock()
	t.mem = nil
	return t.seg.Remove()
}

func numBytes(v any) []byte {
	out := make([]byte, 8)
	switch n := v.(type) {
	case int64:
		binary.LittleEndian.PutUint64(out, uint64(n))
	case float64:
		binary.LittleEndian.PutUint64(out, math.Float64bits(n))
	}
	return out
}
