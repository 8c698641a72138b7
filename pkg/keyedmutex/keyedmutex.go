// Package keyedmutex provides a mutex map keyed by string, used to serialize
// state transitions per order identity. Entries are reference-counted and
// removed once the last holder unlocks, so the map does not grow with the
// number of distinct keys seen.
package keyedmutex

import "sync"

type entry struct {
	mu      sync.Mutex
	waiters int
}

// Map is a set of named mutexes. The zero value is not usable; create one
// with New.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// Lock acquires the mutex for key, blocking until it is available, and
// returns the matching unlock function. Callers must invoke the returned
// function exactly once.
func (m *Map) Lock(key string) func() {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{}
		m.entries[key] = e
	}
	e.waiters++
	m.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		m.mu.Lock()
		e.waiters--
		if e.waiters == 0 {
			delete(m.entries, key)
		}
		m.mu.Unlock()
	}
}

// Len reports the number of keys currently held or contended.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
