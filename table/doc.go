// Package table
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity hash table stored in a shared memory segment.
//
// A table is sized once, when it is created: Capacity primary buckets plus
// Capacity*ConflictProportion overflow rows for chained collisions. It never
// grows. A write that needs a new row when the table already holds Capacity
// keys, or when the overflow pool is exhausted, fails with
// api.ErrCapacityExceeded.
//
// Every row has fixed-width typed columns. A string value longer than its
// column width is rejected; the table never widens or truncates on its own.
// Consumers that prefer truncation apply it before calling Set.
//
// Each bucket is guarded by a spinlock that lives inside the segment, so a
// single Get, Set or Delete is atomic across all processes mapping the same
// segment file. Sequences of calls are not.
//
// Iteration does not use a shared cursor. Iterator copies one bucket chain at
// a time under its lock and hands out the copies, so every caller has an
// independent view and may mutate the table while iterating.
package table
