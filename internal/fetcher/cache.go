package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/flowsentry/flowsentry/internal/models"
)

// Store is the record cache behind the fetcher, keyed by (symbol, kind).
// Implementations must be safe for concurrent use from all strategies.
type Store interface {
	Get(ctx context.Context, symbol string, kind models.DataKind) ([]models.RawMarketRecord, bool)
	Set(ctx context.Context, symbol string, kind models.DataKind, records []models.RawMarketRecord, ttl time.Duration)
	Invalidate(ctx context.Context, symbol string, kind models.DataKind)
	Close()
}

// CacheKey builds the canonical store key for a (symbol, kind) pair.
func CacheKey(symbol string, kind models.DataKind) string {
	return symbol + ":" + string(kind)
}

type cacheItem struct {
	records    []models.RawMarketRecord
	expiration int64
}

// MemoryStore is an in-process TTL store with a janitor goroutine that
// sweeps expired entries so long-running scans don't grow the map unbounded.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]*cacheItem
	stop   chan struct{}
	hits   int64
	misses int64
}

// NewMemoryStore creates a memory store sweeping at cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]*cacheItem),
		stop:  make(chan struct{}),
	}
	go s.janitor(cleanupInterval)
	return s
}

// Get returns the cached record set if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, symbol string, kind models.DataKind) ([]models.RawMarketRecord, bool) {
	key := CacheKey(symbol, kind)

	s.mu.RLock()
	item, found := s.items[key]
	s.mu.RUnlock()

	if !found || time.Now().UnixNano() > item.expiration {
		s.mu.Lock()
		s.misses++
		s.mu.Unlock()
		return nil, false
	}

	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
	return item.records, true
}

// Set stores records under (symbol, kind) with the given TTL.
func (s *MemoryStore) Set(_ context.Context, symbol string, kind models.DataKind, records []models.RawMarketRecord, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[CacheKey(symbol, kind)] = &cacheItem{
		records:    records,
		expiration: time.Now().Add(ttl).UnixNano(),
	}
}

// Invalidate drops the entry for (symbol, kind).
func (s *MemoryStore) Invalidate(_ context.Context, symbol string, kind models.DataKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, CacheKey(symbol, kind))
}

// Flush removes all expired entries and returns how many were dropped.
func (s *MemoryStore) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixNano()
	removed := 0
	for key, item := range s.items {
		if now > item.expiration {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// ItemCount returns the number of entries, expired or not.
func (s *MemoryStore) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// StoreStats summarizes cache effectiveness.
type StoreStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int     `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns hit/miss counters since start.
func (s *MemoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := StoreStats{Hits: s.hits, Misses: s.misses, ItemCount: len(s.items)}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// Close stops the janitor and clears the map.
func (s *MemoryStore) Close() {
	close(s.stop)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*cacheItem)
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush()
		case <-s.stop:
			return
		}
	}
}
