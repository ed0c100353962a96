package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxWatchAttempts = 5

// SetField writes field inside the hash at key. The hash expiry is pushed out
// to expireAt when that is later than the current expiry, so a hash lives as
// long as its longest-lived field.
func (s *RedisStore) SetField(ctx context.Context, key, field string, value []byte, expireAt time.Time) error {
	k := redisKeyPrefix + key

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: pttl: %w", err)
	}
	current := time.Now().Add(ttl)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, field, value)
		if ttl <= 0 || expireAt.After(current) {
			pipe.PExpireAt(ctx, k, expireAt)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: hset: %w", err)
	}
	return nil
}

// Fields returns every field of the hash at key. A missing key yields an empty map.
func (s *RedisStore) Fields(ctx context.Context, key string) (map[string][]byte, error) {
	values, err := s.client.HGetAll(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: hgetall: %w", err)
	}
	out := make(map[string][]byte, len(values))
	for field, value := range values {
		out[field] = []byte(value)
	}
	return out, nil
}

// DeleteFieldIf removes field from the hash at key when match accepts its
// current value. The read and the delete run under WATCH; a concurrent write
// to the hash aborts the transaction and the read is repeated.
func (s *RedisStore) DeleteFieldIf(ctx context.Context, key, field string, match func([]byte) bool) (bool, error) {
	k := redisKeyPrefix + key

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		deleted := false
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			value, err := tx.HGet(ctx, k, field).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			if !match(value) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, k, field)
				return nil
			})
			if err == nil {
				deleted = true
			}
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("redis: hdel: %w", err)
		}
		return deleted, nil
	}
	return false, fmt.Errorf("redis: hdel: %w", redis.TxFailedErr)
}
