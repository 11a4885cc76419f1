// File: connection/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package connection keeps, per identity, the descriptors of its live
// WebSocket connections in a shared table, so every worker sees how and
// where an identity is connected. Descriptors are qualified with the id of
// the owning worker; a worker pushes to, and lazily prunes, only its own.
package connection
