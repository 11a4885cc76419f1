// File: connection/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package connection

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-state/api"
)

const identityStripes = 64

// Manager registers authenticated connections and pushes payloads to every
// live connection of an identity that this worker owns.
//
// Each Manager is one worker. It stores worker-qualified descriptors (see
// Descriptor) and only sends to, or prunes, descriptors carrying its own
// worker id. Descriptors of other workers sharing the segment are left for
// their owners.
//
// Updates of one identity are serialized within the process. Across
// processes the read-modify-write of a list is not atomic and the last
// writer wins.
type Manager struct {
	auth      api.Authenticator
	table     *Table
	transport api.Transport
	worker    uint32
	log       zerolog.Logger
	stripes   [identityStripes]sync.Mutex
}

// NewManager wires the registry to its collaborators and draws a worker id
// from the table's segment.
func NewManager(auth api.Authenticator, t *Table, transport api.Transport, log zerolog.Logger) (*Manager, error) {
	worker, err := t.NewWorker()
	if err != nil {
		return nil, err
	}
	log.Debug().Uint32("worker", worker).Msg("connection worker registered")
	return &Manager{auth: auth, table: t, transport: transport, worker: worker, log: log}, nil
}

// Worker returns this manager's worker id.
func (m *Manager) Worker() uint32 { return m.worker }

// Descriptor returns the registry descriptor of a transport descriptor of
// this worker.
func (m *Manager) Descriptor(local int) int { return Descriptor(m.worker, local) }

// Owns reports whether fd belongs to a connection of this worker.
func (m *Manager) Owns(fd int) bool { return WorkerOf(fd) == m.worker }

func (m *Manager) lock(identity string) func() {
	mu := &m.stripes[xxhash.Sum64String(identity)%identityStripes]
	mu.Lock()
	return mu.Unlock
}

// Register authenticates req and records its descriptor under the resolved
// identity. A rejected connection is disconnected with the rejection's code
// and message, and Register reports false. A connection whose descriptor
// cannot be stored, because the identity is too long or the table is full,
// is disconnected with CloseInternalError.
func (m *Manager) Register(req api.Request, params ...any) (string, bool) {
	if !validLocal(req.FD) {
		m.reject(req.FD, fmt.Errorf("connection: descriptor %d: %w", req.FD, api.ErrInvalidArgument))
		return "", false
	}
	identity, err := m.auth.Authenticate(req, params...)
	if err != nil {
		m.reject(req.FD, err)
		return "", false
	}

	fd := m.Descriptor(req.FD)
	unlock := m.lock(identity)
	defer unlock()
	fds := m.table.Connections(identity)
	if slices.Contains(fds, fd) {
		return identity, true
	}
	if stored := m.table.SetConnections(identity, append(fds, fd)); !slices.Contains(stored, fd) {
		m.log.Warn().Str("identity", identity).Int("fd", req.FD).Msg("connection not recorded")
		m.disconnect(req.FD, api.CloseInternalError, "internal error")
		return "", false
	}
	m.log.Debug().Str("identity", identity).Int("fd", req.FD).Msg("connection registered")
	return identity, true
}

func (m *Manager) reject(local int, err error) {
	code, msg := api.CloseInternalError, "internal error"
	var rej *api.AuthError
	if errors.As(err, &rej) {
		code, msg = rej.Code, rej.Message
	}
	m.log.Info().Err(err).Int("fd", local).Int("code", code).Msg("connection rejected")
	m.disconnect(local, code, msg)
}

func (m *Manager) disconnect(local, code int, msg string) {
	if err := m.transport.Disconnect(local, code, msg); err != nil {
		m.log.Debug().Err(err).Int("fd", local).Msg("disconnect failed")
	}
}

// Push drops this worker's descriptors of identity that are no longer
// established and sends payload to the rest in order. Descriptors owned by
// other workers are neither sent to nor dropped. Send failures are logged
// and skipped.
func (m *Manager) Push(identity string, payload []byte) {
	for _, local := range m.prune(identity) {
		if err := m.transport.Push(local, payload); err != nil {
			m.log.Debug().Err(err).Str("identity", identity).Int("fd", local).Msg("push failed")
		}
	}
}

// prune returns the live transport descriptors this worker holds for
// identity, persisting the list when any of them was dropped.
func (m *Manager) prune(identity string) []int {
	unlock := m.lock(identity)
	defer unlock()
	fds := m.table.Connections(identity)
	kept := make([]int, 0, len(fds))
	var live []int
	for _, fd := range fds {
		if !m.Owns(fd) {
			kept = append(kept, fd)
			continue
		}
		if local := LocalOf(fd); m.transport.IsEstablished(local) {
			kept = append(kept, fd)
			live = append(live, local)
		}
	}
	if dropped := len(fds) - len(kept); dropped > 0 {
		m.log.Debug().Str("identity", identity).Int("pruned", dropped).Msg("stale connections pruned")
		m.table.SetConnections(identity, kept)
	}
	if foreign := len(kept) - len(live); foreign > 0 {
		m.log.Debug().Str("identity", identity).Int("foreign", foreign).Msg("connections of other workers skipped")
	}
	return live
}

// Connections returns the stored registry descriptors of identity, of every
// worker, without pruning.
func (m *Manager) Connections(identity string) []int {
	return m.table.Connections(identity)
}

// ConnectionsAmount returns the number of stored descriptors across all
// identities.
func (m *Manager) ConnectionsAmount() int {
	return m.table.ConnectionsAmount()
}

// Table returns the backing connection table.
func (m *Manager) Table() *Table { return m.table }
