package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store is a process-wide key-value cache with per-entry TTL. Expiry is lazy:
// an entry is checked and evicted at read time, never by a background sweeper.
// There is no size bound; callers keep a small, well-known key set.
type Store[V any] struct {
	defaultTTL time.Duration

	mu      sync.Mutex
	entries map[string]entry[V]
}

// NewStore builds a Store whose Set uses defaultTTL. Non-positive values fall
// back to five minutes.
func NewStore[V any](defaultTTL time.Duration) *Store[V] {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Store[V]{
		defaultTTL: defaultTTL,
		entries:    make(map[string]entry[V]),
	}
}

// Set stores value under key with the default TTL, overwriting any existing
// entry.
func (s *Store[V]) Set(key string, value V) {
	s.SetTTL(key, value, s.defaultTTL)
}

// SetTTL stores value under key with an explicit TTL.
func (s *Store[V]) SetTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Get returns the value stored under key. An entry past its expiry is deleted
// and reported as a miss; a stale value is never returned.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(ent.expiresAt) {
		delete(s.entries, key)
		var zero V
		return zero, false
	}
	return ent.value, true
}

// Clear removes the entry under key. Clearing an absent key is a no-op.
func (s *Store[V]) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// ClearAll removes every entry.
func (s *Store[V]) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]entry[V])
}

// Len reports the number of stored entries, expired or not.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
