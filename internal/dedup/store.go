// Package dedup stores each distinct attachment payload of a job exactly once.
package dedup

import "sync"

// Store maps content hashes to blob keys for one job. It is never shared between jobs.
type Store struct {
	mu   sync.Mutex
	keys map[string]string
}

// NewStore creates an empty job-scoped store
func NewStore() *Store {
	return &Store{keys: make(map[string]string)}
}

// Claim registers key for hash unless the hash is already known.
// It returns the registered key and whether this call made the registration.
func (s *Store) Claim(hash, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.keys[hash]; ok {
		return existing, false
	}
	s.keys[hash] = key
	return key, true
}

// Release forgets a claim whose upload failed
func (s *Store) Release(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, hash)
}
