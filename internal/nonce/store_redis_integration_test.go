//go:build integration

package nonce_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veilvote/internal/nonce"
	"veilvote/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *nonce.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = nonce.NewRedisStore(s.redis.Client)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestConsumeIsSingleUse() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "token-1", time.Minute))

	ok, err := s.store.Consume(ctx, "token-1")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.Consume(ctx, "token-1")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestConsumeUnknownToken() {
	ok, err := s.store.Consume(context.Background(), "never-issued")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *RedisStoreSuite) TestConsumeExpiredToken() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "token-1", 50*time.Millisecond))
	time.Sleep(100 * time.Millisecond)

	ok, err := s.store.Consume(ctx, "token-1")
	s.Require().NoError(err)
	s.False(ok)
}

// TestConcurrentConsumeSingleWinner exercises the GETDEL atomicity that
// prevents two concurrent submissions from both observing a valid nonce.
func (s *RedisStoreSuite) TestConcurrentConsumeSingleWinner() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, "token-1", time.Minute))

	const goroutines = 32
	var wg sync.WaitGroup
	var winners atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.store.Consume(ctx, "token-1")
			s.Require().NoError(err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), winners.Load())
}
