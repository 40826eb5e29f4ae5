package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/mediascribe/mediascribe/internal/core"
)

// RetryPolicy defines retry behavior for one item.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64 // Exponential factor
	// TotalBackoffCap bounds the cumulative sleep across all retries of a
	// single item, so one bad item cannot stall a large batch. Delays are
	// truncated to whatever remains of the cap.
	TotalBackoffCap time.Duration
}

// DefaultRetryPolicy returns the default policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		Multiplier:      1.5,
		TotalBackoffCap: 3500 * time.Millisecond,
	}
}

// DescribeRetryPolicy returns the policy for provider describe calls,
// sized to the provider's retry budget.
func DescribeRetryPolicy(budget int) *RetryPolicy {
	p := DefaultRetryPolicy()
	if budget > 0 {
		p.MaxAttempts = budget
	}
	return p
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxAttempts = n
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithTotalBackoffCap sets the cumulative backoff ceiling.
func WithTotalBackoffCap(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.TotalBackoffCap = d
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RetryableFunc is one attempt; attempt numbering starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// RetryNotifyFunc is called before each retry sleep.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs fn with retry. It returns the number of attempts made and
// the final error. Non-retryable errors stop immediately after one attempt.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) (int, error) {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// ExecuteWithNotify runs fn with retry and per-retry notifications.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) (int, error) {
	var lastErr error
	var spent time.Duration

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		default:
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !core.IsRetryable(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.CalculateDelay(attempt)
		if remaining := p.TotalBackoffCap - spent; p.TotalBackoffCap > 0 && delay > remaining {
			delay = remaining
		}
		if delay < 0 {
			delay = 0
		}
		spent += delay

		if notify != nil {
			notify(attempt, err, delay)
		}

		if delay > 0 {
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return p.MaxAttempts, &RetryExhaustedError{
		Attempts: p.MaxAttempts,
		LastErr:  lastErr,
	}
}

// CalculateDelay computes the backoff delay for a given attempt.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// RetryExhaustedError indicates all retry attempts failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	_, ok := err.(*RetryExhaustedError)
	return ok
}
