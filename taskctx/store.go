// File: taskctx/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package taskctx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-state/api"
)

// TaskID identifies a task within a Store. Zero means no task.
type TaskID uint64

type taskKey struct{}

// TaskOf returns the task carried by ctx.
func TaskOf(ctx context.Context) (TaskID, bool) {
	id, ok := ctx.Value(taskKey{}).(TaskID)
	return id, ok && id != 0
}

// node is one task's scope. refs counts the task itself plus its live
// children; the node is released when it drops to zero.
type node struct {
	parent TaskID
	refs   int32
	values map[string]any
}

type shard struct {
	mu    sync.RWMutex
	nodes map[TaskID]*node
}

// Store is an arena of task nodes sharded by task id.
type Store struct {
	shards []*shard
	mask   uint64
	nextID atomic.Uint64
	live   atomic.Int64
}

// NewStore creates a store with shardCount shards, rounded up to a power
// of two. Non-positive counts default to 16.
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = 16
	}
	n := nextPowerOfTwo(uint32(shardCount))
	s := &Store{shards: make([]*shard, n), mask: uint64(n - 1)}
	for i := range s.shards {
		s.shards[i] = &shard{nodes: make(map[TaskID]*node)}
	}
	return s
}

func (s *Store) shard(id TaskID) *shard {
	return s.shards[uint64(id)&s.mask]
}

// Spawn starts a task whose parent is the task carried by ctx, if any. The
// returned function ends the task; it is safe to call more than once.
func (s *Store) Spawn(ctx context.Context) (context.Context, func()) {
	parent, hasParent := TaskOf(ctx)
	if hasParent && !s.retain(parent) {
		hasParent, parent = false, 0
	}
	id := TaskID(s.nextID.Add(1))
	sh := s.shard(id)
	sh.mu.Lock()
	sh.nodes[id] = &node{parent: parent, refs: 1}
	sh.mu.Unlock()
	s.live.Add(1)

	var once sync.Once
	return context.WithValue(ctx, taskKey{}, id), func() {
		once.Do(func() { s.release(id) })
	}
}

// Go runs fn in a new goroutine as a child task of ctx's task. The task
// ends when fn returns.
func (s *Store) Go(ctx context.Context, fn func(ctx context.Context)) {
	child, done := s.Spawn(ctx)
	go func() {
		defer done()
		fn(child)
	}()
}

// retain adds a child reference to a live task.
func (s *Store) retain(id TaskID) bool {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, ok := sh.nodes[id]
	if !ok {
		return false
	}
	n.refs++
	return true
}

// release drops one reference and frees nodes up the chain that reach zero.
func (s *Store) release(id TaskID) {
	for id != 0 {
		sh := s.shard(id)
		sh.mu.Lock()
		n, ok := sh.nodes[id]
		if !ok {
			sh.mu.Unlock()
			return
		}
		n.refs--
		if n.refs > 0 {
			sh.mu.Unlock()
			return
		}
		delete(sh.nodes, id)
		sh.mu.Unlock()
		s.live.Add(-1)
		id = n.parent
	}
}

// Set stores value under key in the scope of ctx's task.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	id, ok := TaskOf(ctx)
	if !ok {
		return api.ErrNoTask
	}
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	n, ok := sh.nodes[id]
	if !ok {
		return fmt.Errorf("taskctx: task %d ended: %w", id, api.ErrNoTask)
	}
	if n.values == nil {
		n.values = make(map[string]any)
	}
	n.values[key] = value
	return nil
}

// Lookup finds key in ctx's task or the nearest ancestor holding it. A
// stored nil is a value.
func (s *Store) Lookup(ctx context.Context, key string) (any, bool) {
	id, ok := TaskOf(ctx)
	if !ok {
		return nil, false
	}
	for id != 0 {
		sh := s.shard(id)
		sh.mu.RLock()
		n, ok := sh.nodes[id]
		if !ok {
			sh.mu.RUnlock()
			return nil, false
		}
		v, found := n.values[key]
		parent := n.parent
		sh.mu.RUnlock()
		if found {
			return v, true
		}
		id = parent
	}
	return nil, false
}

// Get is Lookup that fails with a not-found error naming key.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	if v, ok := s.Lookup(ctx, key); ok {
		return v, nil
	}
	return nil, api.NewError(api.ErrCodeNotFound,
		fmt.Sprintf("could not find %q in current task context", key)).WithContext("key", key)
}

// GetDefault is Lookup returning def when key is not found. def is returned
// as given, even when nil.
func (s *Store) GetDefault(ctx context.Context, key string, def any) any {
	if v, ok := s.Lookup(ctx, key); ok {
		return v
	}
	return def
}

// Delete removes key from the scope of ctx's task only.
func (s *Store) Delete(ctx context.Context, key string) {
	id, ok := TaskOf(ctx)
	if !ok {
		return
	}
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if n, ok := sh.nodes[id]; ok {
		delete(n.values, key)
	}
}

// Parent returns the parent of ctx's task.
func (s *Store) Parent(ctx context.Context) (TaskID, bool) {
	id, ok := TaskOf(ctx)
	if !ok {
		return 0, false
	}
	sh := s.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	n, ok := sh.nodes[id]
	if !ok || n.parent == 0 {
		return 0, false
	}
	return n.parent, true
}

// Live returns the number of nodes not yet released.
func (s *Store) Live() int { return int(s.live.Load()) }

// Value looks key up and asserts its type. A value of another type is
// reported as missing.
func Value[T any](ctx context.Context, s *Store, key string) (T, bool) {
	v, ok := s.Lookup(ctx, key)
	t, isT := v.(T)
	return t, ok && isT
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
