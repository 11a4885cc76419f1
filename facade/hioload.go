// File: facade/hioload.go
// Unified facade layer for hioload-state.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// State aggregates the shared cache, the connection registry and the task
// context store of one worker process behind a single lifecycle.

package facade

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-state/adapters"
	"github.com/momentics/hioload-state/api"
	"github.com/momentics/hioload-state/cache"
	"github.com/momentics/hioload-state/codec"
	"github.com/momentics/hioload-state/connection"
	"github.com/momentics/hioload-state/internal/logging"
	"github.com/momentics/hioload-state/taskctx"
)

// State is the main facade type.
type State struct {
	cache   *cache.Cache[any]
	conns   *connection.Table
	manager *connection.Manager
	tasks   *taskctx.Store
	control *adapters.ControlAdapter
	log     zerolog.Logger

	config  *Config
	mu      sync.Mutex
	started bool
	closed  bool
}

var _ api.GracefulShutdown = (*State)(nil)

// New maps both tables and wires the connection registry to auth and
// transport. Authentication and transport outcomes are counted in Control.
func New(cfg *Config, auth api.Authenticator, transport api.Transport) (*State, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if auth == nil || transport == nil {
		return nil, fmt.Errorf("facade: authenticator and transport are required: %w", api.ErrInvalidArgument)
	}
	s := &State{config: cfg, control: adapters.NewControlAdapter(), log: logging.For("facade")}

	c, err := cache.New[any](cache.Config{
		Capacity:           cfg.Cache.Capacity,
		ConflictProportion: cfg.Cache.ConflictProportion,
		ColumnSize:         cfg.Cache.ColumnSize,
		Segment:            cfg.Cache.Segment,
		Logger:             logging.For("cache"),
	}, codec.JSON[any]{})
	if err != nil {
		return nil, fmt.Errorf("cache init failure: %w", err)
	}
	s.cache = c

	s.conns, err = connection.NewTable(connection.Config{
		Capacity:           cfg.Connections.Capacity,
		ConflictProportion: cfg.Connections.ConflictProportion,
		ColumnSize:         cfg.Connections.ColumnSize,
		Segment:            cfg.Connections.Segment,
		Logger:             logging.For("connections"),
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connection table init failure: %w", err)
	}
	s.manager, err = connection.NewManager(
		adapters.ObserveAuthenticator(auth, s.control),
		s.conns,
		adapters.ObserveTransport(transport, s.control),
		logging.For("registry"),
	)
	if err != nil {
		_ = c.Close()
		_ = s.conns.Close()
		return nil, fmt.Errorf("connection registry init failure: %w", err)
	}
	s.tasks = taskctx.NewStore(cfg.TaskShards)

	s.registerProbes()
	_ = s.control.SetConfig(cfg.snapshot())
	return s, nil
}

func (s *State) registerProbes() {
	s.control.RegisterDebugProbe("cache.rows", func() any { return s.cache.Len() })
	s.control.RegisterDebugProbe("cache.memory", func() any { return humanize.IBytes(uint64(s.cache.MemoryUsage())) })
	s.control.RegisterDebugProbe("connections.amount", func() any { return s.manager.ConnectionsAmount() })
	s.control.RegisterDebugProbe("connections.rows", func() any { return s.conns.Count() })
	s.control.RegisterDebugProbe("connections.worker", func() any { return s.manager.Worker() })
	s.control.RegisterDebugProbe("tasks.live", func() any { return s.tasks.Live() })
}

// Start marks the facade as serving. Subsequent calls have no effect.
func (s *State) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrClosed
	}
	if s.started {
		return nil
	}
	s.started = true
	s.control.SetMetric("started_at", time.Now().UTC().Format(time.RFC3339))
	s.log.Info().
		Int("cache_capacity", s.cache.Table().Capacity()).
		Int("connections_capacity", s.conns.Table().Capacity()).
		Msg("state started")
	return nil
}

// Stop unmaps both tables. Shared segments stay for other processes.
// Calling Stop more than once is a no-op.
func (s *State) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed, s.started = true, false
	cerr := s.cache.Close()
	terr := s.conns.Close()
	s.log.Info().Msg("state stopped")
	if cerr != nil {
		return cerr
	}
	return terr
}

// Shutdown implements api.GracefulShutdown by delegating to Stop.
func (s *State) Shutdown() error {
	return s.Stop()
}

// Cache returns the shared cache.
func (s *State) Cache() *cache.Cache[any] { return s.cache }

// Connections returns the connection registry.
func (s *State) Connections() *connection.Manager { return s.manager }

// Tasks returns the task context store.
func (s *State) Tasks() *taskctx.Store { return s.tasks }

// Control returns the runtime control interface.
func (s *State) Control() api.Control { return s.control }

// Config returns the configuration the facade was built with.
func (s *State) Config() Config { return *s.config }
