package nonce

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const nonceKeyPrefix = "nonce:"

// RedisStore is the production store. GETDEL gives the atomic
// verify-and-consume primitive; expiry is handled by Redis TTLs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	return s.client.Set(ctx, nonceKeyPrefix+token, "1", ttl).Err()
}

func (s *RedisStore) Consume(ctx context.Context, token string) (bool, error) {
	_, err := s.client.GetDel(ctx, nonceKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
