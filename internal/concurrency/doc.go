// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Synchronization primitives that operate on words living in shared memory.
// Go's sync.Mutex cannot be placed in a mapping shared between processes, so
// table buckets are guarded by CAS spinlocks addressed through raw pointers
// into the segment.
package concurrency
