package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// RetryPolicy runs a generation step again when it fails in a way the
// policy considers transient, backing off exponentially between attempts.
type RetryPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // fraction of the delay, 0 disables jitter
	Multiplier   float64
	// RetryIf selects retryable errors. Defaults to core.IsRetryable.
	RetryIf func(error) bool
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxAttempts sets the total number of attempts, the first included.
func WithMaxAttempts(n int) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxAttempts = n }
}

// WithBaseDelay sets the delay after the first failed attempt.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.BaseDelay = d }
}

// WithMaxDelay caps the backoff.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) { p.MaxDelay = d }
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.JitterFactor = factor }
}

// WithMultiplier sets the backoff growth factor.
func WithMultiplier(m float64) RetryPolicyOption {
	return func(p *RetryPolicy) { p.Multiplier = m }
}

// WithRetryIf replaces the retryable-error predicate.
func WithRetryIf(fn func(error) bool) RetryPolicyOption {
	return func(p *RetryPolicy) { p.RetryIf = fn }
}

// NewRetryPolicy returns a policy of three attempts starting at one second.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := &RetryPolicy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
		Multiplier:   2,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Backoff returns the delay before attempt+1, without jitter.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt && d < float64(p.MaxDelay); i++ {
		d *= p.Multiplier
	}
	return min(time.Duration(d), p.MaxDelay)
}

func (p *RetryPolicy) delay(attempt int) time.Duration {
	d := p.Backoff(attempt)
	if p.JitterFactor <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.JitterFactor
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

func (p *RetryPolicy) retryable(err error) bool {
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return core.IsRetryable(err)
}

// RetryExhaustedError is returned when every attempt failed with a
// retryable error. It unwraps to the last failure.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error { return e.LastErr }

// IsRetryExhausted reports whether err came from a policy running out of
// attempts.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

// RetryNotifyFunc observes each failed attempt that will be retried.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs fn until it succeeds, fails with a non-retryable error, or
// runs out of attempts.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	return p.ExecuteWithNotify(ctx, fn, nil)
}

// ExecuteWithNotify is Execute with a callback before each retry.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn func(context.Context) error, notify RetryNotifyFunc) error {
	attempts := max(p.MaxAttempts, 1)
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !p.retryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}

		d := p.delay(attempt)
		if notify != nil {
			notify(attempt, last, d)
		}
		if d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return &RetryExhaustedError{Attempts: attempts, LastErr: last}
}
