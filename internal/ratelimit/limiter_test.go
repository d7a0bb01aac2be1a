package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLimiter(client, zap.NewNop()), mr
}

func TestAllowWithinWindow(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := MessageRule(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "sess-1", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i+1)
	}

	ok, err := l.Allow(ctx, "sess-1", rule)
	require.NoError(t, err)
	assert.False(t, ok, "fourth request should be limited")

	// Other identifiers and rules have their own counters.
	ok, err = l.Allow(ctx, "sess-2", rule)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, "sess-1", PrivateRule(3, 10*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()
	rule := MessageRule(1, 10*time.Second)

	ok, _ := l.Allow(ctx, "sess-1", rule)
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "sess-1", rule)
	require.False(t, ok)

	retry, err := l.RetryAfter(ctx, "sess-1", rule)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, retry)

	mr.FastForward(11 * time.Second)

	ok, err = l.Allow(ctx, "sess-1", rule)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRetryAfterWithoutWindow(t *testing.T) {
	l, _ := newTestLimiter(t)

	retry, err := l.RetryAfter(context.Background(), "nobody", RuleConnect)
	require.NoError(t, err)
	assert.Zero(t, retry)
}

func TestFailOpen(t *testing.T) {
	l, mr := newTestLimiter(t)
	mr.Close()

	ok, err := l.Allow(context.Background(), "sess-1", MessageRule(1, time.Second))
	assert.Error(t, err)
	assert.True(t, ok, "limiter must fail open when redis is down")
}
