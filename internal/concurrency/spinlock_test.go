package concurrency

import (
	"testing"

	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinLock_MutualExclusion(t *testing.T) {
	var word uint32
	lock := At(&word)
	counter := 0

	var wg conc.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Go(func() {
			for j := 0; j < 1000; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 8000, counter)
	assert.Equal(t, uint32(0), word)
}

func TestSpinLock_TryLock(t *testing.T) {
	var word uint32
	lock := At(&word)

	require.True(t, lock.TryLock())
	assert.False(t, lock.TryLock())
	lock.Unlock()
	assert.True(t, lock.TryLock())
}
