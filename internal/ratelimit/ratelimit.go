package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RateLimiter paces site interactions. Wait blocks until the next action
// is allowed or the context is done.
type RateLimiter interface {
	Wait(ctx context.Context) error
	SetDelay(min, max time.Duration)
}

// SimpleRateLimiter enforces a jittered minimum gap between actions. It
// paces card scrapes so a crawl does not hammer a results page at
// machine speed.
type SimpleRateLimiter struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	lastAction time.Time
	mu         sync.Mutex
	jitter     bool
}

func NewSimpleRateLimiter(minDelay, maxDelay time.Duration) *SimpleRateLimiter {
	return &SimpleRateLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		jitter:   true,
	}
}

// NewItemPacer returns the default limiter for the gap between two result
// cards.
func NewItemPacer() *SimpleRateLimiter {
	return NewSimpleRateLimiter(400*time.Millisecond, 1200*time.Millisecond)
}

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.nextDelay()

	if elapsed < delay {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay - elapsed):
		}
	}

	r.lastAction = time.Now()
	return nil
}

func (r *SimpleRateLimiter) SetDelay(min, max time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.minDelay = min
	r.maxDelay = max
}

func (r *SimpleRateLimiter) nextDelay() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return r.minDelay
	}

	span := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int63n(int64(span)))
}

// AdaptiveRateLimiter stretches its delays while a site is pushing back
// and relaxes them again after a stretch of clean responses. The browser
// layer feeds it from navigation outcomes.
type AdaptiveRateLimiter struct {
	*SimpleRateLimiter
	errorStreak   int
	successStreak int
	errorLimit    int
	backoffFactor float64
	floor         time.Duration
	ceiling       time.Duration
}

func NewAdaptiveRateLimiter(minDelay, maxDelay time.Duration) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		SimpleRateLimiter: NewSimpleRateLimiter(minDelay, maxDelay),
		errorLimit:        3,
		backoffFactor:     1.5,
		floor:             500 * time.Millisecond,
		ceiling:           90 * time.Second,
	}
}

// RecordSuccess notes a clean interaction. Ten in a row shave the minimum
// delay back toward the floor.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successStreak++
	a.errorStreak = 0

	if a.successStreak >= 10 {
		relaxed := time.Duration(float64(a.minDelay) * 0.9)
		if relaxed < a.floor {
			relaxed = a.floor
		}
		a.minDelay = relaxed
		a.successStreak = 0
	}
}

// RecordError notes a pushback such as a challenge page or a timed-out
// navigation. Repeated errors widen the delay window.
func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorStreak++
	a.successStreak = 0

	if a.errorStreak < a.errorLimit {
		return
	}
	a.errorStreak = 0

	newMin := time.Duration(float64(a.minDelay) * a.backoffFactor)
	newMax := time.Duration(float64(a.maxDelay) * a.backoffFactor)
	if newMin > a.ceiling {
		newMin = a.ceiling
	}
	if newMax > 2*a.ceiling {
		newMax = 2 * a.ceiling
	}
	a.minDelay = newMin
	a.maxDelay = newMax
}

// TokenBucketRateLimiter caps the rate of page navigations: a burst of up
// to maxTokens, refilled one token per refill interval.
type TokenBucketRateLimiter struct {
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
	minDelay   time.Duration
	mu         sync.Mutex
}

func NewTokenBucketRateLimiter(maxTokens int, refillRate time.Duration) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		minDelay:   time.Second,
	}
}

func (t *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	t.mu.Lock()

	t.refill()
	for t.tokens <= 0 {
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.refillRate):
		}

		t.mu.Lock()
		t.refill()
	}
	t.tokens--
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.minDelay):
		return nil
	}
}

func (t *TokenBucketRateLimiter) refill() {
	elapsed := time.Since(t.lastRefill)
	add := int(elapsed / t.refillRate)
	if add <= 0 {
		return
	}
	t.tokens += add
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
	t.lastRefill = time.Now()
}

func (t *TokenBucketRateLimiter) SetDelay(min, _ time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minDelay = min
}
