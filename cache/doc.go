// Package cache provides a generic key/value cache stored in a shared table.
//
// Values are serialized with a codec.Codec into a single string column. The
// cache never evicts: when the table is full, or when an encoded value does
// not fit strictly below the column width, Set returns false and leaves the
// previous value in place. Callers that care about durability of a write must
// check the result.
//
// TTL arguments are accepted for interface compatibility and ignored.
//
// # Concurrency
//
// Every method is safe for concurrent use, including from several processes
// sharing the table segment. Batch methods are not atomic.
package cache
