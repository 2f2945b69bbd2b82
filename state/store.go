package state

import "sync"

// Store holds the confirmed value and revision of every property the device
// has reported. Revisions are allocated from a single counter per store, so
// ordering is comparable across keys of the same entity.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	values map[Key]storedValue
	rev    uint64
}

type storedValue struct {
	value    any
	revision uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{values: make(map[Key]storedValue)}
}

// Get returns the confirmed value for key, or ok=false if the device has
// never confirmed one.
func (s *Store) Get(key Key) (value any, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v.value, ok
}

// Revision returns the revision of key's confirmed value, or 0 if unset.
func (s *Store) Revision(key Key) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key].revision
}

// Apply records value as the confirmed value for key under the next
// revision. changed reports whether the value differs from what was stored,
// so the caller publishes exactly one event per actual change.
func (s *Store) Apply(key Key, value any) (revision uint64, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.values[key]
	s.rev++
	s.values[key] = storedValue{value: value, revision: s.rev}
	return s.rev, !had || prev.value != value
}

// Snapshot returns a copy of every confirmed value.
func (s *Store) Snapshot() map[Key]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[Key]any, len(s.values))
	for k, v := range s.values {
		out[k] = v.value
	}
	return out
}
