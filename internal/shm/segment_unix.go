//go:build unix

// File: internal/shm/segment_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// mmap-backed segments via golang.org/x/sys/unix.

package shm

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-state/api"
)

func openAnonymous(size int) (*Segment, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: anonymous mmap of %d bytes: %w", size, err)
	}
	return &Segment{data: data, created: true, release: unix.Munmap}, nil
}

func openFile(path string, size int) (*Segment, error) {
	created := true
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o600)
	if errors.Is(err, unix.EEXIST) {
		created = false
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: open %q: %w", path, err)
	}
	defer unix.Close(fd)

	if created {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Unlink(path)
			return nil, fmt.Errorf("shm: truncate %q: %w", path, err)
		}
	} else if err := waitForSize(fd, path, size); err != nil {
		return nil, err
	}

	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if created {
			_ = unix.Unlink(path)
		}
		return nil, fmt.Errorf("shm: mmap %q: %w", path, err)
	}
	return &Segment{data: data, path: path, created: created, release: unix.Munmap}, nil
}

// waitForSize blocks until the creator has truncated the file, then checks
// that it was sized for the same layout.
func waitForSize(fd int, path string, size int) error {
	deadline := time.Now().Add(AttachTimeout)
	for {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return fmt.Errorf("shm: stat %q: %w", path, err)
		}
		switch {
		case st.Size == int64(size):
			return nil
		case st.Size != 0:
			return fmt.Errorf("shm: %q has %d bytes, want %d: %w", path, st.Size, size, api.ErrLayoutMismatch)
		case time.Now().After(deadline):
			return fmt.Errorf("shm: %q was never sized: %w", path, os.ErrDeadlineExceeded)
		}
		time.Sleep(time.Millisecond)
	}
}

// Remove unmaps the segment and unlinks its backing file.
func (s *Segment) Remove() error {
	path := s.path
	if err := s.Close(); err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if err := unix.Unlink(path); err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("shm: unlink %q: %w", path, err)
	}
	return nil
}
