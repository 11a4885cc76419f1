// File: internal/shm/segment.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shm

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-state/api"
)

// AttachTimeout bounds how long an attacher waits for the creator to size the file.
var AttachTimeout = 2 * time.Second

// Segment is a mapped region of memory.
type Segment struct {
	data    []byte
	path    string
	created bool
	release func([]byte) error
}

// Bytes returns the mapped region.
func (s *Segment) Bytes() []byte { return s.data }

// Path returns the backing file path, empty for anonymous segments.
func (s *Segment) Path() string { return s.path }

// Created reports whether this handle created (and must initialize) the segment.
func (s *Segment) Created() bool { return s.created }

// Size returns the mapped length in bytes.
func (s *Segment) Size() int { return len(s.data) }

// Close unmaps the segment. The backing file, if any, is left in place.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	data := s.data
	s.data = nil
	if s.release == nil {
		return nil
	}
	if err := s.release(data); err != nil {
		return fmt.Errorf("shm: unmap %q: %w", s.path, err)
	}
	return nil
}

// Open maps a segment of size bytes. An empty path yields an anonymous segment.
func Open(path string, size int) (*Segment, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: segment size %d: %w", size, api.ErrInvalidArgument)
	}
	if path == "" {
		return openAnonymous(size)
	}
	return openFile(path, size)
}
