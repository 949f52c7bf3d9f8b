package scheduler

import (
	"context"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/logging"
)

// DefaultPollInterval is how often the dispatcher checks for due entries.
const DefaultPollInterval = 5 * time.Second

// Dispatcher drains due continuations from the durable queue.
type Dispatcher struct {
	queue    core.ContinuationQueue
	registry *Registry
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPollInterval sets the polling interval.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(d2 *Dispatcher) {
		if d > 0 {
			d2.interval = d
		}
	}
}

// WithDispatcherClock overrides the clock used to select due entries.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// NewDispatcher creates a dispatcher for queue.
func NewDispatcher(queue core.ContinuationQueue, registry *Registry, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Dispatcher{
		queue:    queue,
		registry: registry,
		interval: DefaultPollInterval,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.DrainDue(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("draining continuations failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DrainDue invokes every due continuation in order and acknowledges it.
// An entry is acknowledged after its invocation returns, so a crash mid-run
// redelivers it. Unknown entry points are acknowledged and dropped.
func (d *Dispatcher) DrainDue(ctx context.Context) (int, error) {
	due, err := d.queue.Due(ctx, d.now())
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if !d.registry.Has(c.EntryPoint) {
			d.logger.Warn("dropping continuation for unknown entry point",
				"entry_point", c.EntryPoint, "id", c.ID)
		} else if err := d.registry.Invoke(ctx, c.EntryPoint); err != nil {
			d.logger.Error("continuation failed", "entry_point", c.EntryPoint, "id", c.ID, "error", err)
		} else {
			delivered++
		}
		if err := d.queue.Ack(ctx, c.ID); err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}
