package bpmn

import (
	"maps"
	"sync"
)

// DataStore is the key/value data an instance evaluates flow conditions
// against.
type DataStore interface {
	Get(key string) any
	Put(key string, value any)
}

// MapStore is a DataStore backed by a map. It is safe for concurrent use.
type MapStore struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMapStore returns a store seeded with a copy of initial.
func NewMapStore(initial map[string]any) *MapStore {
	data := maps.Clone(initial)
	if data == nil {
		data = make(map[string]any)
	}
	return &MapStore{data: data}
}

// Get returns the value stored under key, or nil.
func (s *MapStore) Get(key string) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data[key]
}

// Put stores value under key.
func (s *MapStore) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Snapshot returns a copy of the stored data.
func (s *MapStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}
