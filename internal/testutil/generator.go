package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// ManualClock is a clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock set to start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current fake time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// GenerateFunc answers one generation request.
type GenerateFunc func(req core.GenerateRequest) (string, error)

// ScriptedGenerator answers requests per purpose. Queued responses are
// consumed first; once a purpose's queue is empty its handler (if any)
// answers. Every call is recorded.
type ScriptedGenerator struct {
	mu       sync.Mutex
	queued   map[string][]scripted
	handlers map[string]GenerateFunc
	calls    []core.GenerateRequest

	// Clock and Cost, when set, advance the clock by Cost per call.
	Clock *ManualClock
	Cost  time.Duration
}

type scripted struct {
	out string
	err error
}

// NewScriptedGenerator creates a generator with no scripted answers.
func NewScriptedGenerator() *ScriptedGenerator {
	return &ScriptedGenerator{
		queued:   make(map[string][]scripted),
		handlers: make(map[string]GenerateFunc),
	}
}

// Queue appends a response for purpose.
func (g *ScriptedGenerator) Queue(purpose, out string) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued[purpose] = append(g.queued[purpose], scripted{out: out})
	return g
}

// QueueError appends a failure for purpose.
func (g *ScriptedGenerator) QueueError(purpose string, err error) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queued[purpose] = append(g.queued[purpose], scripted{err: err})
	return g
}

// Handle answers every otherwise unscripted request for purpose with fn.
func (g *ScriptedGenerator) Handle(purpose string, fn GenerateFunc) *ScriptedGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[purpose] = fn
	return g
}

// Generate implements core.Generator.
func (g *ScriptedGenerator) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	g.calls = append(g.calls, req)
	var next *scripted
	if q := g.queued[req.Purpose]; len(q) > 0 {
		next = &q[0]
		g.queued[req.Purpose] = q[1:]
	}
	handler := g.handlers[req.Purpose]
	g.mu.Unlock()

	if g.Clock != nil && g.Cost > 0 {
		g.Clock.Advance(g.Cost)
	}
	if next != nil {
		return next.out, next.err
	}
	if handler != nil {
		return handler(req)
	}
	return "", fmt.Errorf("no scripted response for %q", req.Purpose)
}

// Calls returns every recorded request.
func (g *ScriptedGenerator) Calls() []core.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]core.GenerateRequest(nil), g.calls...)
}

// CallsFor returns the recorded requests for one purpose.
func (g *ScriptedGenerator) CallsFor(purpose string) []core.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []core.GenerateRequest
	for _, c := range g.calls {
		if c.Purpose == purpose {
			out = append(out, c)
		}
	}
	return out
}

var _ core.Generator = (*ScriptedGenerator)(nil)
