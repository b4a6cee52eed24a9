package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subvoyager/subvoyager/pkg/circuitbreaker"
)

func TestStoreBreaker_OpensWhenRedisGoesAway(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Now()
	cb := NewBreaker(circuitbreaker.Config{
		Name:             "redis",
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		Now:              func() time.Time { return now },
	})
	store := NewStoreFromClient(client)
	store.UseBreaker(cb)

	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	var doc counterDoc
	assert.ErrorIs(t, store.GetJSON(ctx, "missing", &doc), ErrMiss)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State(), "a miss is not a failure")

	mr.Close()
	for i := 0; i < 2; i++ {
		assert.Error(t, store.Ping(ctx))
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())

	err := store.SetJSON(ctx, "doc:1", counterDoc{Name: "a"})
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)

	require.NoError(t, mr.Restart())

	// Pooled connections died with the server, so the first half-open call may fail
	// and reopen the circuit.
	require.Eventually(t, func() bool {
		now = now.Add(time.Minute)
		return store.Ping(ctx) == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

func TestIsStoreFailure(t *testing.T) {
	assert.False(t, IsStoreFailure(nil))
	assert.False(t, IsStoreFailure(redis.Nil))
	assert.False(t, IsStoreFailure(redis.TxFailedErr))
	assert.False(t, IsStoreFailure(context.Canceled))
	assert.False(t, IsStoreFailure(fmt.Errorf("wrapped: %w", redis.Nil)))
	assert.True(t, IsStoreFailure(errors.New("dial tcp: connection refused")))
	assert.True(t, IsStoreFailure(context.DeadlineExceeded))
}
