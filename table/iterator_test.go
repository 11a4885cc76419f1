package table

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator_VisitsEveryRowOnce(t *testing.T) {
	tbl := newTestTable(t, 128, 0.5)
	for i := 0; i < 100; i++ {
		require.NoError(t, tbl.Set(fmt.Sprintf("k%d", i), Row{"age": i}))
	}

	seen := map[string]int64{}
	it := tbl.Iterator()
	for it.Next() {
		_, dup := seen[it.Key()]
		require.False(t, dup, "key %s yielded twice", it.Key())
		seen[it.Key()] = it.Row()["age"].(int64)
	}
	require.Len(t, seen, 100)
	assert.Equal(t, int64(42), seen["k42"])
	assert.False(t, it.Next())
	assert.Equal(t, "", it.Key())
}

func TestIterator_DeleteWhileIterating(t *testing.T) {
	tbl := collidingTable(t, 8)
	for i := 0; i < 8; i++ {
		require.NoError(t, tbl.Set(fmt.Sprintf("k%d", i), Row{"age": i}))
	}

	visited := 0
	it := tbl.Iterator()
	for it.Next() {
		visited++
		tbl.Delete(it.Key())
	}
	assert.Equal(t, 8, visited)
	assert.Equal(t, 0, tbl.Count())
}

func TestIterator_IndependentCursors(t *testing.T) {
	tbl := newTestTable(t, 32, 0.2)
	for i := 0; i < 10; i++ {
		require.NoError(t, tbl.Set(fmt.Sprintf("k%d", i), Row{"age": i}))
	}

	a, b := tbl.Iterator(), tbl.Iterator()
	countA, countB := 0, 0
	for a.Next() {
		countA++
		if b.Next() {
			countB++
		}
	}
	for b.Next() {
		countB++
	}
	assert.Equal(t, 10, countA)
	assert.Equal(t, 10, countB)
}

func TestRange_StopsEarly(t *testing.T) {
	tbl := newTestTable(t, 32, 0.2)
	for i := 0; i < 10; i++ {
		require.NoError(t, tbl.Set(fmt.Sprintf("k%d", i), Row{"age": i}))
	}

	calls := 0
	tbl.Range(func(string, Row) bool {
		calls++
		return calls < 3
	})
	assert.Equal(t, 3, calls)
}

func TestIterator_EmptyAndClosed(t *testing.T) {
	tbl, err := New(Config{Capacity: 4, Columns: userColumns()})
	require.NoError(t, err)
	assert.False(t, tbl.Iterator().Next())

	require.NoError(t, tbl.Set("k", Row{"age": 1}))
	require.NoError(t, tbl.Close())
	assert.False(t, tbl.Iterator().Next())
	assert.Empty(t, tbl.Keys())
}
