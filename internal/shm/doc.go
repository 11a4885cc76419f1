// Package shm maps the memory segments that back shared tables.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A segment is either anonymous (private to the mapping process) or backed
// by a file, typically under /dev/shm, in which case every process that opens
// the same path sees the same bytes. The first opener creates the file; later
// openers attach once the file has reached its final size.
package shm
