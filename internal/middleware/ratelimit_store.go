package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/charlesng35/clinicauth/internal/cache"
)

// RateStore counts requests for a key within a fixed window.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// sweepEvery bounds how many increments pass between expired-window sweeps.
const sweepEvery = 256

type window struct {
	count int
	ends  time.Time
}

// MemoryRateStore keeps counters in process memory. Expired windows are
// swept lazily while counting, so no background goroutine is needed.
type MemoryRateStore struct {
	mu      sync.Mutex
	windows map[string]*window
	calls   int
	now     func() time.Time
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{windows: make(map[string]*window), now: time.Now}
}

func (s *MemoryRateStore) Increment(_ context.Context, key string, span time.Duration) (int, time.Duration, error) {
	if span <= 0 {
		span = time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%sweepEvery == 0 {
		for k, w := range s.windows {
			if !now.Before(w.ends) {
				delete(s.windows, k)
			}
		}
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.ends) {
		w = &window{ends: now.Add(span)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.ends.Sub(now), nil
}

// Len reports how many windows are tracked.
func (s *MemoryRateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// cacheRateStore counts through a shared cache so limits hold across
// replicas when the cache is Redis.
type cacheRateStore struct {
	store cache.Store
}

// NewRedisRateStore counts in Redis.
func NewRedisRateStore(store cache.Store) RateStore {
	return newCacheRateStore(store)
}

// NewDatabaseRateStore counts in the cache_entries table.
func NewDatabaseRateStore(store cache.Store) RateStore {
	return newCacheRateStore(store)
}

func newCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return NewMemoryRateStore()
	}
	return &cacheRateStore{store: store}
}

func (s *cacheRateStore) Increment(ctx context.Context, key string, span time.Duration) (int, time.Duration, error) {
	if span <= 0 {
		span = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, span)
	return int(count), ttl, err
}
