package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with TTL support. Expired drafts are
// hidden immediately and removed by Purge.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]*memEntry
	ttl     time.Duration
	now     func() time.Time
}

type memEntry struct {
	payload   []byte
	version   int64
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory draft store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key]*memEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the stored draft.
func (s *MemoryStore) Get(_ context.Context, key Key) (*Draft, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || s.expired(entry) {
		return nil, false, nil
	}

	var d Draft
	if err := json.Unmarshal(entry.payload, &d); err != nil {
		return nil, false, fmt.Errorf("unmarshal draft %s: %w", key, err)
	}
	return &d, true, nil
}

// Update stores d under optimistic versioning and refreshes its TTL.
func (s *MemoryStore) Update(_ context.Context, d *Draft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if entry, ok := s.entries[d.Key]; ok && !s.expired(entry) {
		current = entry.version
	}
	if current != d.Version {
		return conflict(d.Key)
	}

	now := s.now()
	next := *d
	next.Version = current + 1
	next.UpdatedAt = now
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal draft %s: %w", d.Key, err)
	}

	s.entries[d.Key] = &memEntry{payload: payload, version: next.Version, expiresAt: now.Add(s.ttl)}
	d.Version = next.Version
	d.UpdatedAt = now
	return nil
}

// Delete removes a draft.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Purge removes expired drafts.
func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, entry := range s.entries {
		if s.expired(entry) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of entries, including expired ones.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) expired(e *memEntry) bool {
	return s.ttl > 0 && s.now().After(e.expiresAt)
}
