package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/logging"
)

// Local schedules continuations as in-process timers. Pending timers are
// lost when the process exits; the durable queue covers that case.
type Local struct {
	registry *Registry
	logger   *logging.Logger
	base     context.Context

	mu      sync.Mutex
	timers  map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewLocal creates a local scheduler. Fired entry points run with base as
// their context.
func NewLocal(base context.Context, registry *Registry, logger *logging.Logger) *Local {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Local{
		registry: registry,
		logger:   logger,
		base:     base,
		timers:   make(map[*time.Timer]struct{}),
	}
}

// ScheduleOnce fires entryPoint once after delay.
func (l *Local) ScheduleOnce(_ context.Context, entryPoint string, delay time.Duration) error {
	if !l.registry.Has(entryPoint) {
		return core.ErrNotFound("entry point", entryPoint)
	}
	if delay < 0 {
		delay = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return core.ErrState("SCHEDULER_STOPPED", "scheduler is stopped")
	}

	var timer *time.Timer
	l.wg.Add(1)
	timer = time.AfterFunc(delay, func() {
		defer l.wg.Done()
		l.mu.Lock()
		delete(l.timers, timer)
		l.mu.Unlock()

		if err := l.registry.Invoke(l.base, entryPoint); err != nil {
			l.logger.Error("continuation failed", "entry_point", entryPoint, "error", err)
		}
	})
	l.timers[timer] = struct{}{}
	l.logger.Debug("continuation scheduled", "entry_point", entryPoint, "delay", delay)
	return nil
}

// Pending returns the number of timers that have not fired yet.
func (l *Local) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// Stop cancels pending timers and waits for running invocations.
func (l *Local) Stop() {
	l.mu.Lock()
	l.stopped = true
	for t := range l.timers {
		if t.Stop() {
			l.wg.Done()
		}
		delete(l.timers, t)
	}
	l.mu.Unlock()
	l.wg.Wait()
}

var _ core.Scheduler = (*Local)(nil)
