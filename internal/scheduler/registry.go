// Package scheduler delivers continuations to named entry points, either
// with in-process timers or by draining the durable continuation queue.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// EntryFunc runs one invocation of an entry point.
type EntryFunc func(ctx context.Context) error

// Registry maps entry-point names to the work they trigger.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]EntryFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]EntryFunc)}
}

// Register binds name to fn, replacing any earlier binding.
func (r *Registry) Register(name string, fn EntryFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = fn
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Names returns the registered entry points, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the entry point synchronously.
func (r *Registry) Invoke(ctx context.Context, name string) error {
	r.mu.RLock()
	fn, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return core.ErrNotFound("entry point", name)
	}
	if err := fn(ctx); err != nil {
		return fmt.Errorf("invoking %s: %w", name, err)
	}
	return nil
}
