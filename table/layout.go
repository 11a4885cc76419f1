// File: table/layout.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Segment layout:
//
//	[0, 64)            header
//	[64, rowsOff)      one uint32 spinlock word per bucket
//	[rowsOff, end)     (buckets + overflow) rows of schema.rowSize bytes
//
// Rows [0, buckets) are bucket heads, rows [buckets, buckets+overflow) form
// the overflow pool. Unused overflow rows are chained through their next
// field into a free list guarded by the header's free lock.

package table

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/hioload-state/internal/concurrency"
)

const (
	magicValue   uint32 = 0x48494f54 // "HIOT"
	layoutVer    uint32 = 2
	headerSize          = 64
	hdrMagic            = 0
	hdrVersion          = 4
	hdrCount            = 8
	hdrFreeLock         = 16
	hdrFreeHead         = 20
	hdrBuckets          = 24
	hdrOverflow         = 28
	hdrRowSize          = 32
	hdrPrint            = 40
	hdrSequence         = 48
	noRow        uint32 = math.MaxUint32
)

type layout struct {
	buckets  int
	overflow int
	rowSize  int
	locksOff int
	rowsOff  int
	size     int
}

func newLayout(buckets, overflow, rowSize int) layout {
	l := layout{buckets: buckets, overflow: overflow, rowSize: rowSize}
	l.locksOff = headerSize
	l.rowsOff = align8(l.locksOff + 4*buckets)
	l.size = l.rowsOff + (buckets+overflow)*rowSize
	return l
}

func (t *Table) u32(off int) *uint32 { return (*uint32)(unsafe.Pointer(&t.mem[off])) }
func (t *Table) i64(off int) *int64 { return (*int64)(unsafe.Pointer(&t.mem[off])) }
func (t *Table) u64(off int) *uint64 { return (*uint64)(unsafe.Pointer(&t.mem[off])) }

func (t *Table) bucketLock(b uint32) concurrency.SpinLock {
	return concurrency.At(t.u32(t.layout.locksOff + 4*int(b)))
}

func (t *Table) freeLock() concurrency.SpinLock {
	return concurrency.At(t.u32(hdrFreeLock))
}

func (t *Table) rowOff(idx uint32) int { return t.layout.rowsOff + int(idx)*t.layout.rowSize }

func (t *Table) rowBytes(idx uint32) []byte {
	off := t.rowOff(idx)
	return t.mem[off : off+t.layout.rowSize]
}

func (t *Table) next(idx uint32) uint32 { return *t.u32(t.rowOff(idx) + rowNextOff) }
func (t *Table) setNext(idx, next uint32) { *t.u32(t.rowOff(idx) + rowNextOff) = next }
func (t *Table) used(idx uint32) bool { return t.mem[t.rowOff(idx)+rowUsedOff] != 0 }
func (t *Table) keyLen(idx uint32) int { return int(binary.LittleEndian.Uint16(t.mem[t.rowOff(idx)+rowKeyLen:])) }
func (t *Table) keyBytes(idx uint32) []byte {
	off := t.rowOff(idx) + rowKeyOff
	return t.mem[off : off+t.keyLen(idx)]
}

func (t *Table) keyEquals(idx uint32, key string) bool {
	return t.keyLen(idx) == len(key) && string(t.keyBytes(idx)) == key
}

// initRow zeroes a row and stamps it as used by key.
func (t *Table) initRow(idx uint32, key string, next uint32) {
	row := t.rowBytes(idx)
	clear(row)
	t.setNext(idx, next)
	row[rowUsedOff] = 1
	binary.LittleEndian.PutUint16(row[rowKeyLen:], uint16(len(key)))
	copy(row[rowKeyOff:], key)
}

func (t *Table) clearRow(idx uint32) {
	clear(t.rowBytes(idx))
	t.setNext(idx, noRow)
}

func (t *Table) writeColumns(idx uint32, writes []columnWrite) {
	row := t.rowBytes(idx)
	for _, w := range writes {
		cell := row[w.col.offset : w.col.offset+w.col.width]
		switch w.col.Type {
		case TypeInt, TypeFloat:
			binary.LittleEndian.PutUint64(cell, w.num)
		case TypeString:
			binary.LittleEndian.PutUint32(cell, uint32(len(w.bytes)))
			copy(cell[strLenBytes:], w.bytes)
		}
	}
}

// readColumn copies a cell out of the segment.
func (t *Table) readColumn(idx uint32, col *column) any {
	row := t.rowBytes(idx)
	cell := row[col.offset : col.offset+col.width]
	switch col.Type {
	case TypeInt:
		return int64(binary.LittleEndian.Uint64(cell))
	case TypeFloat:
		return math.Float64frombits(binary.LittleEndian.Uint64(cell))
	default:
		n := int(binary.LittleEndian.Uint32(cell))
		if n > col.Size {
			n = col.Size
		}
		out := make([]byte, n)
		copy(out, cell[strLenBytes:strLenBytes+n])
		return out
	}
}

func (t *Table) readRow(idx uint32) Row {
	row := make(Row, len(t.schema.columns))
	for i := range t.schema.columns {
		col := &t.schema.columns[i]
		row[col.Name] = t.readColumn(idx, col)
	}
	return row
}

// format writes the header and free list of a freshly created segment and
// publishes it by storing the magic word last.
func (t *Table) format(fp uint64) {
	l := t.layout
	*t.u32(hdrVersion) = layoutVer
	atomic.StoreInt64(t.i64(hdrCount), 0)
	*t.u32(hdrBuckets) = uint32(l.buckets)
	*t.u32(hdrOverflow) = uint32(l.overflow)
	*t.u32(hdrRowSize) = uint32(l.rowSize)
	*t.u64(hdrPrint) = fp
	atomic.StoreUint64(t.u64(hdrSequence), 0)

	for b := 0; b < l.buckets; b++ {
		t.setNext(uint32(b), noRow)
	}
	head := noRow
	for i := l.buckets + l.overflow - 1; i >= l.buckets; i-- {
		t.setNext(uint32(i), head)
		head = uint32(i)
	}
	*t.u32(hdrFreeHead) = head

	atomic.StoreUint32(t.u32(hdrMagic), magicValue)
}

func (t *Table) allocOverflow() (uint32, bool) {
	lock := t.freeLock()
	lock.Lock()
	defer lock.Unlock()
	head := *t.u32(hdrFreeHead)
	if head == noRow {
		return noRow, false
	}
	*t.u32(hdrFreeHead) = t.next(head)
	return head, true
}

func (t *Table) freeOverflow(idx uint32) {
	clear(t.rowBytes(idx))
	lock := t.freeLock()
	lock.Lock()
	t.setNext(idx, *t.u32(hdrFreeHead))
	*t.u32(hdrFreeHead) = idx
	lock.Unlock()
}

func floatBits(f float64) uint64 { return math.Float64bits(f) }
