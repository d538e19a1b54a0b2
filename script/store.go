package script

import "sync"

// StateStore is the host-persisted per-instance key-value storage. Values
// written here survive hot reloads unconditionally: the reload manager
// never touches the store, so it is the migration fallback when a module
// does not export the state transfer group.
//
// Keys and values are owned by the store; values are copied both ways.
// Guest calls run on a watchdog goroutine, so access is locked.
type StateStore struct {
	mu   sync.Mutex
	data map[InstanceID]map[string][]byte
}

func NewStateStore() *StateStore {
	return &StateStore{data: make(map[InstanceID]map[string][]byte)}
}

// Set writes a value for an instance.
func (s *StateStore) Set(id InstanceID, key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[id]
	if !ok {
		bucket = make(map[string][]byte)
		s.data[id] = bucket
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	bucket[key] = buf
}

// Get reads a value for an instance.
func (s *StateStore) Get(id InstanceID, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[id]
	if !ok {
		return nil, false
	}
	value, ok := bucket[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true
}

// Drop removes every key for an instance. Called on detach; never called
// during reload.
func (s *StateStore) Drop(id InstanceID) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

// Len returns the number of keys stored for an instance.
func (s *StateStore) Len(id InstanceID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data[id])
}
