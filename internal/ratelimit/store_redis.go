package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements the sliding window on a sorted set per key, scored
// by timestamp. The trim+count+add sequence runs in one pipeline so
// concurrent workers see consistent counts.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := time.Now()
	cutoff := now.Add(-window)
	member := strconv.FormatInt(now.UnixNano(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	count := int(countCmd.Val()) + 1
	if count > limit {
		// Over the limit: undo this attempt's member so denied requests
		// don't extend the lockout.
		s.client.ZRem(ctx, key, member)
		return &Result{Allowed: false, Remaining: 0, Limit: limit, ResetAt: now.Add(window)}, nil
	}
	return &Result{Allowed: true, Remaining: limit - count, Limit: limit, ResetAt: now.Add(window)}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
