package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestInMemoryStoreAllowsUnderLimit(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := store.Allow(ctx, "k", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := store.Allow(ctx, "k", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
}

func TestInMemoryStoreWindowSlides(t *testing.T) {
	store := NewInMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := store.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// Half the window elapses: still full.
	now = now.Add(30 * time.Second)
	res, err = store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// All three original entries age out.
	now = now.Add(31 * time.Second)
	res, err = store.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestInMemoryStoreIsolatesKeys(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	res, err := store.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = store.Allow(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	res, err = store.Allow(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestInMemoryStoreReset(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, err := store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Reset(ctx, "k"))

	res, err := store.Allow(ctx, "k", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestInMemoryStoreConcurrentExactCount(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	const workers = 50
	const limit = 20
	var wg sync.WaitGroup
	allowed := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := store.Allow(ctx, "k", limit, time.Minute)
			require.NoError(t, err)
			allowed <- res.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	assert.Equal(t, limit, count)
}

func TestServiceMissingRuleAllows(t *testing.T) {
	svc := NewService(NewInMemoryStore(), DefaultLimits(), testLogger())

	res, err := svc.Check(context.Background(), ActionQueryResults, ClassIP, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestServiceEmptyIdentifierAllows(t *testing.T) {
	svc := NewService(NewInMemoryStore(), DefaultLimits(), testLogger())

	res, err := svc.Check(context.Background(), ActionSubmitVote, ClassDevice, "")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestServiceCheckAllFirstDenialWins(t *testing.T) {
	limits := map[Action]map[IdentifierClass]Limit{
		ActionSubmitVote: {
			ClassVoter: {Count: 1, Window: time.Minute},
		},
	}
	svc := NewService(NewInMemoryStore(), limits, testLogger())
	ctx := context.Background()

	ids := map[IdentifierClass]string{ClassVoter: "voter-1", ClassIP: "10.0.0.1"}
	res, err := svc.CheckAll(ctx, ActionSubmitVote, ids)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = svc.CheckAll(ctx, ActionSubmitVote, ids)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "rl:submit_vote:device:abc", Key(ActionSubmitVote, ClassDevice, "abc"))
}
