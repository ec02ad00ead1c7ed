package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps documents in process. It suits single-replica
// deployments and tests.
type MemoryStore struct {
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, gatewayID string, data []byte, ttl time.Duration) error {
	entry := memoryEntry{data: append([]byte(nil), data...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[gatewayID] = entry
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, gatewayID string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.entries[gatewayID]
	s.mu.RUnlock()

	if !ok || entry.expired(s.now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), entry.data...), nil
}

// List implements Store. Expired entries are pruned.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	now := s.now()

	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, id)
			continue
		}
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}
