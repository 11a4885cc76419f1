package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-state/api"
)

func TestDescriptor_CarriesWorkerAndLocal(t *testing.T) {
	tests := []struct {
		worker uint32
		local  int
	}{
		{1, 0},
		{1, 42},
		{7, localMask},
		{MaxWorker, 3},
	}
	for _, tt := range tests {
		fd := Descriptor(tt.worker, tt.local)
		assert.GreaterOrEqual(t, fd, 0, "descriptors survive sanitizing")
		assert.Equal(t, tt.worker, WorkerOf(fd))
		assert.Equal(t, tt.local, LocalOf(fd))
	}
	assert.NotEqual(t, Descriptor(1, 5), Descriptor(2, 5))
}

func TestNewWorker_Distinct(t *testing.T) {
	ct := newTable(t, 4, DefaultColumnSize)
	first, err := ct.NewWorker()
	require.NoError(t, err)
	second, err := ct.NewWorker()
	require.NoError(t, err)
	assert.NotZero(t, first)
	assert.NotEqual(t, first, second)

	require.NoError(t, ct.Close())
	_, err = ct.NewWorker()
	assert.ErrorIs(t, err, api.ErrClosed)
}
