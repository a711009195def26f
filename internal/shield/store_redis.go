package shield

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares risk state across instances. Scores live under
// "shield:risk:", blocks under "shield:block:"; both expire server-side.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func riskKey(addr string) string  { return "shield:risk:" + addr }
func blockKey(addr string) string { return "shield:block:" + addr }

func (s *RedisStore) IncrementRisk(ctx context.Context, addr string, weight int, ttl time.Duration) (int, error) {
	pipe := s.client.TxPipeline()
	incrCmd := pipe.IncrBy(ctx, riskKey(addr), int64(weight))
	pipe.Expire(ctx, riskKey(addr), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incrCmd.Val()), nil
}

func (s *RedisStore) Block(ctx context.Context, addr string, ttl time.Duration) error {
	return s.client.Set(ctx, blockKey(addr), "1", ttl).Err()
}

func (s *RedisStore) IsBlocked(ctx context.Context, addr string) (bool, error) {
	_, err := s.client.Get(ctx, blockKey(addr)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) RiskScore(ctx context.Context, addr string) (int, error) {
	score, err := s.client.Get(ctx, riskKey(addr)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return score, nil
}
