// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration snapshot with reload listeners.

package control

import (
	"maps"
	"sync"
)

// ConfigStore is a key/value map of effective settings.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes an empty store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{config: make(map[string]any)}
}

// GetSnapshot returns a copy of all values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return maps.Clone(cs.config)
}

// Get returns one value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// SetConfig merges values and then calls every listener synchronously,
// outside the lock.
func (cs *ConfigStore) SetConfig(values map[string]any) {
	cs.mu.Lock()
	maps.Copy(cs.config, values)
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnReload registers a listener called after every SetConfig.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
