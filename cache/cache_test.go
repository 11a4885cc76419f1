package cache

import (
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-state/codec"
	"github.com/momentics/hioload-state/table"
)

func newCache[V any](t *testing.T, capacity, width int, c codec.Codec[V]) *Cache[V] {
	t.Helper()
	cc, err := New(Config{Capacity: capacity, ColumnSize: width}, c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestSetGet_RoundTrip(t *testing.T) {
	type session struct {
		User  string   `json:"user"`
		Roles []string `json:"roles"`
	}
	c := newCache[session](t, 16, 256, codec.JSON[session]{})

	in := session{User: "u1", Roles: []string{"admin"}}
	require.True(t, c.Set("s1", in, time.Minute))
	assert.Equal(t, in, c.Get("s1", session{}))
}

func TestGet_DefaultWhenAbsent(t *testing.T) {
	c := newCache[string](t, 16, 64, codec.JSON[string]{})
	assert.Equal(t, "fallback", c.Get("missing", "fallback"))
	_, ok := c.Lookup("missing")
	assert.False(t, ok)
}

func TestFalsyValuesArePresent(t *testing.T) {
	c := newCache[any](t, 16, 64, codec.JSON[any]{})

	require.True(t, c.Set("flag", false, 0))
	require.True(t, c.Set("zero", 0, 0))
	require.True(t, c.Set("empty", "", 0))
	require.True(t, c.Set("nil", nil, 0))

	for _, key := range []string{"flag", "zero", "empty", "nil"} {
		_, ok := c.Lookup(key)
		assert.True(t, ok, key)
		assert.True(t, c.Has(key), key)
	}
	assert.Equal(t, false, c.Get("flag", true))
	assert.Nil(t, c.Get("nil", "default"))
}

func TestSet_RejectsValueAtOrAboveWidth(t *testing.T) {
	c := newCache[string](t, 16, 16, codec.JSON[string]{})

	// Encoded as 15 bytes: fits.
	fits := strings.Repeat("a", 13)
	require.True(t, c.Set("k", fits, 0))

	// Encoded as exactly 16 bytes: rejected, previous value kept.
	atWidth := strings.Repeat("b", 14)
	assert.False(t, c.Set("k", atWidth, 0))
	assert.Equal(t, fits, c.Get("k", ""))

	assert.False(t, c.Set("other", strings.Repeat("c", 100), 0))
	assert.False(t, c.Has("other"))
	assert.Equal(t, "dflt", c.Get("other", "dflt"))
}

func TestSet_FailsWhenFull(t *testing.T) {
	c := newCache[int](t, 2, 64, codec.JSON[int]{})

	require.True(t, c.Set("a", 1, 0))
	require.True(t, c.Set("b", 2, 0))
	assert.False(t, c.Set("c", 3, 0))
	assert.True(t, c.Set("a", 10, 0))
	assert.Equal(t, 2, c.Len())
}

func TestHasFollowsSetAndDelete(t *testing.T) {
	c := newCache[int](t, 16, 64, codec.JSON[int]{})

	assert.False(t, c.Has("k"))
	require.True(t, c.Set("k", 1, 0))
	assert.True(t, c.Has("k"))
	assert.True(t, c.Delete("k"))
	assert.False(t, c.Has("k"))
	assert.True(t, c.Delete("k"), "deleting a missing key succeeds")
}

func TestClear(t *testing.T) {
	c := newCache[int](t, 64, 64, codec.JSON[int]{})
	for i := 0; i < 40; i++ {
		require.True(t, c.Set(fmt.Sprintf("k%d", i), i, 0))
	}

	assert.True(t, c.Clear())
	assert.Empty(t, c.Keys())
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Clear(), "clearing an empty cache succeeds")
}

func TestBatchOperations(t *testing.T) {
	c := newCache[string](t, 16, 16, codec.JSON[string]{})

	ok := c.SetMultiple(map[string]string{
		"a":   "1",
		"b":   "2",
		"big": strings.Repeat("x", 64),
	}, 0)
	assert.False(t, ok, "one oversized value fails the batch")
	assert.True(t, c.Has("a"))
	assert.True(t, c.Has("b"))
	assert.False(t, c.Has("big"))

	got := c.GetMultiple([]string{"a", "b", "big"}, "none")
	assert.Equal(t, map[string]string{"a": "1", "b": "2", "big": "none"}, got)

	assert.True(t, c.DeleteMultiple([]string{"a", "b", "never-set"}))
	assert.Equal(t, 0, c.Len())
}

func TestKeysAndToMap(t *testing.T) {
	c := newCache[int](t, 32, 64, codec.JSON[int]{})
	for i := 1; i <= 6; i++ {
		require.True(t, c.Set(fmt.Sprintf("k%d", i), i, 0))
	}

	keys := c.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"k1", "k2", "k3", "k4", "k5", "k6"}, keys)

	even := c.ToMap(func(_ string, v int) bool { return v%2 == 0 })
	assert.Equal(t, map[string]int{"k2": 2, "k4": 4, "k6": 6}, even)
	assert.Len(t, c.ToMap(nil), 6)
}

func TestUndecodableValueIsAbsent(t *testing.T) {
	c := newCache[int](t, 16, 64, codec.JSON[int]{})
	require.True(t, c.Set("good", 1, 0))
	require.NoError(t, c.Table().Set("bad", table.Row{ValueColumn: "not-a-number"}))

	assert.Equal(t, -1, c.Get("bad", -1))
	assert.Equal(t, map[string]int{"good": 1}, c.ToMap(nil))
}

func TestCBORCodec(t *testing.T) {
	c := newCache[[]int](t, 16, 64, codec.CBOR[[]int]{})
	require.True(t, c.Set("fds", []int{1, 2, 3}, 0))
	assert.Equal(t, []int{1, 2, 3}, c.Get("fds", nil))
}

func TestMemoryUsage(t *testing.T) {
	small := newCache[[]byte](t, 8, 64, codec.Raw{})
	large := newCache[[]byte](t, 8, 4096, codec.Raw{})
	assert.Greater(t, large.MemoryUsage(), small.MemoryUsage())
}
