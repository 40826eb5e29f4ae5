package service

import (
	"context"
	"sync"
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
)

// unthrottledRate is the refill rate used when a provider declares no
// minimum spacing.
const unthrottledRate = 1e9

// Throttle is a token bucket enforcing minimum spacing between outbound
// requests to one provider. Spacing applies regardless of request outcome;
// it pre-empts server-side throttling instead of only reacting to it.
// Rate-limit errors halve the rate; consecutive successes restore it up to
// the configured spacing.
type Throttle struct {
	tokens     float64
	maxTokens  float64
	baseRate   float64 // tokens per second as configured
	refillRate float64 // current tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// NewThrottle creates a throttle from a provider's minimum inter-request
// interval. A zero interval yields an unthrottled pass-through.
func NewThrottle(minInterval time.Duration) *Throttle {
	rate := float64(unthrottledRate)
	if minInterval > 0 {
		rate = 1.0 / minInterval.Seconds()
	}
	return &Throttle{
		tokens:     1,
		maxTokens:  1,
		baseRate:   rate,
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until the next request slot or context cancellation.
func (t *Throttle) Acquire(ctx context.Context) error {
	for {
		t.mu.Lock()
		t.refill()

		if t.tokens >= 1 {
			t.tokens--
			t.mu.Unlock()
			return nil
		}

		waitTime := time.Duration(float64(time.Second) / t.refillRate)
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
			// Try again
		}
	}
}

// RecordError halves the refill rate after a rate-limit classified error.
func (t *Throttle) RecordError() {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRate := t.refillRate * 0.5
	if newRate >= t.baseRate*0.1 {
		t.refillRate = newRate
	}
}

// RecordSuccess nudges the refill rate back toward the configured spacing.
func (t *Throttle) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	newRate := t.refillRate * 1.1
	if newRate > t.baseRate {
		newRate = t.baseRate
	}
	t.refillRate = newRate
}

// CurrentRate returns the current refill rate (for testing).
func (t *Throttle) CurrentRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refillRate
}

func (t *Throttle) refill() {
	now := time.Now()
	elapsed := now.Sub(t.lastRefill)
	t.lastRefill = now

	t.tokens += elapsed.Seconds() * t.refillRate
	if t.tokens > t.maxTokens {
		t.tokens = t.maxTokens
	}
}

// ThrottleRegistry holds one throttle per provider.
type ThrottleRegistry struct {
	throttles map[string]*Throttle
	mu        sync.Mutex
}

// NewThrottleRegistry creates an empty registry.
func NewThrottleRegistry() *ThrottleRegistry {
	return &ThrottleRegistry{throttles: make(map[string]*Throttle)}
}

// For returns the throttle for a provider, creating it from the profile on
// first use.
func (r *ThrottleRegistry) For(profile core.ProviderProfile) *Throttle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.throttles[profile.Name]; ok {
		return t
	}
	t := NewThrottle(profile.MinInterval)
	r.throttles[profile.Name] = t
	return t
}
