// Package cache implements the in-memory TTL cache used by the market data
// facade. Entries are never evicted: an expired entry is only stale, and
// stays readable as a degraded fallback.
package cache

import (
	"sync"
	"time"
)

// Resource names a cached resource class.
type Resource string

const (
	Price      Resource = "price"
	Forecast   Resource = "forecast"
	Info       Resource = "info"
	Historical Resource = "historical"
)

// Default freshness windows.
const (
	DefaultPriceTTL      = 60 * time.Second
	DefaultForecastTTL   = 30 * time.Minute
	DefaultInfoTTL       = 24 * time.Hour
	DefaultHistoricalTTL = 6 * time.Hour
)

// Key builds the cache key of a time series: "{entity}_{period}".
func Key(entity, period string) string {
	return entity + "_" + period
}

// Entry is a cached value and the time it was fetched.
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time
}

// Store is a TTL cache for one resource class. It is safe for concurrent
// use.
type Store[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]Entry[V]
	now     func() time.Time
}

// New creates a Store whose entries go stale after ttl.
func New[V any](ttl time.Duration) *Store[V] {
	return &Store[V]{
		ttl:     ttl,
		entries: make(map[string]Entry[V]),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock. Tests only.
func (s *Store[V]) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// TTL returns the freshness window.
func (s *Store[V]) TTL() time.Duration { return s.ttl }

// Now returns the store's current time.
func (s *Store[V]) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

// Get returns the entry for key whether or not it is stale.
func (s *Store[V]) Get(key string) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// Fresh returns the entry for key only if it is within its TTL.
func (s *Store[V]) Fresh(key string) (Entry[V], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || s.now().Sub(e.FetchedAt) > s.ttl {
		return Entry[V]{}, false
	}
	return e, true
}

// IsStale reports whether key is absent or older than the TTL.
func (s *Store[V]) IsStale(key string) bool {
	_, ok := s.Fresh(key)
	return !ok
}

// Put stores value under key, stamped with the current time.
func (s *Store[V]) Put(key string, value V) Entry[V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := Entry[V]{Key: key, Value: value, FetchedAt: s.now()}
	s.entries[key] = e
	return e
}

// PutAt stores value stamped with startedAt, the moment its fetch began.
// It reports false and keeps the existing entry when that entry came from a
// fetch that started later, so a slow response cannot overwrite newer data.
func (s *Store[V]) PutAt(key string, value V, startedAt time.Time) (Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[key]; ok && cur.FetchedAt.After(startedAt) {
		return cur, false
	}
	e := Entry[V]{Key: key, Value: value, FetchedAt: startedAt}
	s.entries[key] = e
	return e, true
}

// Len returns the number of entries, stale ones included.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear drops every entry.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]Entry[V])
	s.mu.Unlock()
}
