// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with a process-local map. It backs
// single-node deployments and tests; expiry is evaluated lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	recs map[string]memoryRecord
	now  func() time.Time
}

type memoryRecord struct {
	rec     Record
	expires time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[string]memoryRecord),
		now:  time.Now,
	}
}

// PutIfAbsent claims key for rec if no live record holds it.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, rec Record, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.recs[key]; ok && s.now().Before(existing.expires) {
		return false, nil
	}
	s.recs[key] = memoryRecord{rec: rec, expires: s.now().Add(ttl)}
	return true, nil
}

// Get reads the live record under key.
func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.recs[key]
	if !ok {
		return Record{}, false, nil
	}
	if !s.now().Before(existing.expires) {
		delete(s.recs, key)
		return Record{}, false, nil
	}
	return existing.rec, true, nil
}

// Delete removes the record under key. Deleting a missing key is a no-op.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
	return nil
}
