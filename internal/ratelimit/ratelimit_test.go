package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleRateLimiterEnforcesGap(t *testing.T) {
	limiter := NewSimpleRateLimiter(50*time.Millisecond, 51*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestSimpleRateLimiterZeroDelayDoesNotBlock(t *testing.T) {
	limiter := NewSimpleRateLimiter(0, 0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestSimpleRateLimiterHonorsCancel(t *testing.T) {
	limiter := NewSimpleRateLimiter(time.Minute, time.Minute)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := limiter.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdaptiveRateLimiterBacksOffAfterErrors(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(1*time.Second, 2*time.Second)

	for i := 0; i < 3; i++ {
		limiter.RecordError()
	}

	assert.Equal(t, 1500*time.Millisecond, limiter.minDelay)
	assert.Equal(t, 3*time.Second, limiter.maxDelay)
}

func TestAdaptiveRateLimiterRelaxesDownToFloor(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(520*time.Millisecond, 2*time.Second)

	for round := 0; round < 5; round++ {
		for i := 0; i < 10; i++ {
			limiter.RecordSuccess()
		}
	}

	assert.Equal(t, limiter.floor, limiter.minDelay)
}

func TestAdaptiveRateLimiterErrorResetsSuccessStreak(t *testing.T) {
	limiter := NewAdaptiveRateLimiter(1*time.Second, 2*time.Second)

	for i := 0; i < 9; i++ {
		limiter.RecordSuccess()
	}
	limiter.RecordError()
	limiter.RecordSuccess()

	assert.Equal(t, 1*time.Second, limiter.minDelay)
}

func TestTokenBucketAllowsBurstThenThrottles(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(2, 60*time.Millisecond)
	limiter.SetDelay(time.Millisecond, 0)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	require.NoError(t, limiter.Wait(ctx))
	burst := time.Since(start)

	require.NoError(t, limiter.Wait(ctx))
	throttled := time.Since(start) - burst

	assert.Less(t, burst, 50*time.Millisecond)
	assert.GreaterOrEqual(t, throttled, 50*time.Millisecond)
}
