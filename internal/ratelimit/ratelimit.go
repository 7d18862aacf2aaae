package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type RateLimiter interface {
	Wait(ctx context.Context) error
}

// Feedback lets a limiter react to upstream throttling.
type Feedback interface {
	RecordSuccess()
	RecordError()
}

// SimpleRateLimiter spaces actions by a random delay in [minDelay, maxDelay).
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

func (r *SimpleRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	elapsed := time.Since(r.lastAction)
	delay := r.calculateDelay()

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

func (r *SimpleRateLimiter) calculateDelay() time.Duration {
	if !r.jitter || r.maxDelay <= r.minDelay {
		return r.minDelay
	}

	delta := r.maxDelay - r.minDelay
	return r.minDelay + time.Duration(rand.Int63n(int64(delta)))
}

// TokenBucketRateLimiter is a shared request budget of perSecond tokens with
// the given burst.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter
}

func NewTokenBucketRateLimiter(perSecond float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (t *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

func (t *TokenBucketRateLimiter) Rate() float64 {
	return float64(t.limiter.Limit())
}

func (t *TokenBucketRateLimiter) SetRate(perSecond float64) {
	t.limiter.SetLimit(rate.Limit(perSecond))
}

// AdaptiveRateLimiter slows a token bucket down after repeated throttling
// and recovers towards the base rate after a run of successes.
type AdaptiveRateLimiter struct {
	*TokenBucketRateLimiter
	mu            sync.Mutex
	baseRate      float64
	minRate       float64
	errorCount    int
	successCount  int
	maxErrorCount int
	backoffFactor float64
}

func NewAdaptiveRateLimiter(perSecond float64, burst int) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		TokenBucketRateLimiter: NewTokenBucketRateLimiter(perSecond, burst),
		baseRate:               perSecond,
		minRate:                perSecond / 16,
		maxErrorCount:          3,
		backoffFactor:          2,
	}
}

func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successCount++
	a.errorCount = 0

	if a.successCount > 5 {
		newRate := a.Rate() * 1.25
		if newRate > a.baseRate {
			newRate = a.baseRate
		}
		a.SetRate(newRate)
		a.successCount = 0
	}
}

func (a *AdaptiveRateLimiter) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errorCount++
	a.successCount = 0

	if a.errorCount >= a.maxErrorCount {
		newRate := a.Rate() / a.backoffFactor
		if newRate < a.minRate {
			newRate = a.minRate
		}
		a.SetRate(newRate)
		a.errorCount = 0
	}
}
