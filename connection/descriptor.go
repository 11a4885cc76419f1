// File: connection/descriptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry descriptors are worker-qualified: bits 32..62 hold the id of the
// worker that owns the socket, bits 0..31 hold the descriptor its transport
// assigned. Every worker attached to a segment draws a distinct id from the
// segment's sequence, so descriptors never collide across workers.

package connection

import (
	"fmt"

	"github.com/momentics/hioload-state/api"
)

const (
	workerShift = 32
	localMask   = 1<<workerShift - 1
	// MaxWorker is the largest worker id a segment hands out.
	MaxWorker = 1<<31 - 1
)

// Descriptor qualifies a transport descriptor with its worker id.
func Descriptor(worker uint32, local int) int {
	return int(uint64(worker)<<workerShift | uint64(local)&localMask)
}

// WorkerOf returns the worker id carried by a registry descriptor.
func WorkerOf(fd int) uint32 { return uint32(uint64(fd) >> workerShift) }

// LocalOf returns the transport descriptor carried by a registry descriptor.
func LocalOf(fd int) int { return int(uint64(fd) & localMask) }

// validLocal reports whether a transport descriptor fits the local bits.
func validLocal(fd int) bool { return fd >= 0 && uint64(fd) <= localMask }

// NewWorker draws a worker id unique among every process attached to the
// table's segment.
func (t *Table) NewWorker() (uint32, error) {
	seq, err := t.table.NextSequence()
	if err != nil {
		return 0, err
	}
	if seq > MaxWorker {
		return 0, fmt.Errorf("connection: %d workers registered: %w", MaxWorker, api.ErrCapacityExceeded)
	}
	return uint32(seq), nil
}
