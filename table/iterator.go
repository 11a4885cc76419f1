// File: table/iterator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package table

// Entry is a copied row yielded by an Iterator.
type Entry struct {
	Key string
	Row Row
}

// Iterator walks the table bucket by bucket. Each bucket chain is copied
// under its lock, so rows inserted or deleted concurrently may or may not be
// observed, but a row is never observed twice and never half-written.
type Iterator struct {
	t      *Table
	bucket int
	buf    []Entry
	pos    int
	cur    Entry
}

// Iterator returns a new independent iterator positioned before the first row.
func (t *Table) Iterator() *Iterator {
	return &Iterator{t: t}
}

// Next advances to the next row. It returns false once the table is exhausted
// or closed.
func (it *Iterator) Next() bool {
	for {
		if it.pos < len(it.buf) {
			it.cur = it.buf[it.pos]
			it.pos++
			return true
		}
		if it.bucket >= it.t.layout.buckets {
			it.cur = Entry{}
			return false
		}
		buf, ok := it.t.copyBucket(uint32(it.bucket), it.buf[:0])
		if !ok {
			it.bucket = it.t.layout.buckets
			it.cur = Entry{}
			return false
		}
		it.buf = buf
		it.pos = 0
		it.bucket++
	}
}

// Key returns the key of the current row.
func (it *Iterator) Key() string { return it.cur.Key }

// Row returns the current row.
func (it *Iterator) Row() Row { return it.cur.Row }

// Entry returns the current key and row.
func (it *Iterator) Entry() Entry { return it.cur }

// copyBucket appends bucket b's chain to dst. It reports false when the
// table has been closed.
func (t *Table) copyBucket(b uint32, dst []Entry) ([]Entry, bool) {
	if !t.acquire() {
		return dst, false
	}
	defer t.release()
	lock := t.bucketLock(b)
	lock.Lock()
	defer lock.Unlock()
	if !t.used(b) {
		return dst, true
	}
	for idx := b; idx != noRow; idx = t.next(idx) {
		dst = append(dst, Entry{Key: string(t.keyBytes(idx)), Row: t.readRow(idx)})
	}
	return dst, true
}

// Range calls fn for each row until fn returns false.
func (t *Table) Range(fn func(key string, row Row) bool) {
	it := t.Iterator()
	for it.Next() {
		if !fn(it.Key(), it.Row()) {
			return
		}
	}
}

// Keys returns a snapshot of all keys.
func (t *Table) Keys() []string {
	keys := make([]string, 0, t.Count())
	t.Range(func(key string, _ Row) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}
