//go:build !unix

// File: internal/shm/segment_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heap fallback for platforms without mmap(2). Segments are process-local.

package shm

import (
	"fmt"

	"github.com/momentics/hioload-state/api"
)

func openAnonymous(size int) (*Segment, error) {
	return &Segment{data: make([]byte, size), created: true}, nil
}

func openFile(path string, _ int) (*Segment, error) {
	return nil, fmt.Errorf("shm: file-backed segment %q: %w", path, api.ErrNotSupported)
}

// Remove releases the segment.
func (s *Segment) Remove() error {
	return s.Close()
}
