package ratelimit

import (
	"context"
	"testing"
	"time"

	"dlqueue/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketBurstAndRefill(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := NewTokenBucket(3, 60, time.Minute)
	tb.now = func() time.Time { return now }
	tb.last = now

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "burst token %d", i+1)
	}
	assert.False(t, tb.Allow())

	now = now.Add(time.Second)
	assert.True(t, tb.Allow(), "one token per second")
	assert.False(t, tb.Allow())

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow())
	}
	assert.False(t, tb.Allow(), "refill is capped at capacity")

	tb.Reset()
	assert.True(t, tb.Allow())
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1, time.Hour)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestTokenBucketWaitReturnsOnRefill(t *testing.T) {
	tb := NewTokenBucket(1, 100, time.Second)
	require.True(t, tb.Allow())

	start := time.Now()
	require.NoError(t, tb.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSlidingWindow(t *testing.T) {
	sw := NewSlidingWindow(2, 50*time.Millisecond)
	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())

	require.NoError(t, sw.Wait(context.Background()))

	sw.Reset()
	assert.True(t, sw.Allow())
}

func TestHostLimiterIsolatesHosts(t *testing.T) {
	limits := FromConfig(config.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 1})

	assert.True(t, limits.For("https://a.example.com/x").Allow())
	assert.False(t, limits.For("https://A.example.com/y").Allow(), "same host, case-insensitive")
	assert.True(t, limits.For("https://b.example.com/x").Allow())
	assert.Equal(t, 2, limits.Hosts())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limits.Wait(ctx, "https://a.example.com/z"), context.Canceled)
}

func TestFromConfigSelectsStrategy(t *testing.T) {
	bucket := FromConfig(config.RateLimitConfig{Strategy: config.StrategyTokenBucket, RequestsPerMinute: 1, BurstSize: 3})
	assert.IsType(t, &TokenBucket{}, bucket.For("https://a.example.com"))

	window := FromConfig(config.RateLimitConfig{Strategy: config.StrategySlidingWindow, RequestsPerMinute: 2, BurstSize: 10})
	l := window.For("https://a.example.com")
	require.IsType(t, &SlidingWindow{}, l)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow(), "burst size does not apply to a sliding window")
}
