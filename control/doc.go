// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime control layer for hioload-state: configuration snapshots with
// reload listeners, counters, and debug probes over live tables.
package control
