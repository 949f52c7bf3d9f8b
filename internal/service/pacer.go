package service

import (
	"context"
	"sync"
	"time"
)

// Pacer keeps a fixed gap between the end of one call and the start of
// the next. The first call never waits.
type Pacer struct {
	interval time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	lastDone time.Time
}

// PacerOption configures a Pacer.
type PacerOption func(*Pacer)

// WithPacerClock overrides the clock and sleep function.
func WithPacerClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) {
		p.now = now
		p.sleep = sleep
	}
}

// NewPacer creates a pacer with the given interval.
func NewPacer(interval time.Duration, opts ...PacerOption) *Pacer {
	p := &Pacer{
		interval: interval,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do waits until interval has passed since the previous call returned,
// then runs fn. Calls are serialized. The gap is measured from when fn
// returns, whether or not it failed.
func (p *Pacer) Do(ctx context.Context, fn func(context.Context) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastDone.IsZero() && p.interval > 0 {
		if remaining := p.interval - p.now().Sub(p.lastDone); remaining > 0 {
			if err := p.sleep(ctx, remaining); err != nil {
				return err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer func() { p.lastDone = p.now() }()
	return fn(ctx)
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
