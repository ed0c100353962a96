package cache

import (
	"context"
	"time"
)

// Store is the shared key/value cache used for rate limiting and session
// lookups. A zero ttl means the entry does not expire.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
