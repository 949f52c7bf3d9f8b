// Package pipeline implements the resumable phase runners that turn a
// task's prompt and source items into a finished document: ingestion,
// planning, raw-text generation and finalization. Every runner invocation
// works on at most one task for a bounded time and leaves the task either
// paused with a checkpoint, advanced to the next stage, or in its phase's
// error stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/logging"
	"github.com/hugo-lorenzo-mato/docforge/internal/scheduler"
	"github.com/hugo-lorenzo-mato/docforge/internal/service"
)

// CrashDumper records a panic that escaped a phase handler.
type CrashDumper interface {
	WriteCrashDump(phase, taskID string, panicValue any, stack []byte) (string, error)
}

// Deps are the ports the runners work against.
type Deps struct {
	Ledger      core.TaskLedger
	Checkpoints core.CheckpointStore
	Lock        core.Lock
	Scheduler   core.Scheduler
	Generator   core.Generator
	Documents   core.DocumentStore
	Source      core.IngestionSource
	Extractor   core.Extractor

	// Prompts defaults to the embedded templates.
	Prompts *service.PromptRenderer
	// CrashDumps is optional.
	CrashDumps CrashDumper
	Logger     *logging.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Ledger == nil:
		return errors.New("pipeline: ledger is required")
	case d.Checkpoints == nil:
		return errors.New("pipeline: checkpoint store is required")
	case d.Lock == nil:
		return errors.New("pipeline: lock is required")
	case d.Scheduler == nil:
		return errors.New("pipeline: scheduler is required")
	case d.Generator == nil:
		return errors.New("pipeline: generator is required")
	case d.Documents == nil:
		return errors.New("pipeline: document store is required")
	case d.Source == nil:
		return errors.New("pipeline: ingestion source is required")
	case d.Extractor == nil:
		return errors.New("pipeline: extractor is required")
	}
	return nil
}

// Option configures a Pipeline.
type Option func(*env)

// WithClock replaces the wall clock used for budgets and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *env) {
		e.now = now
	}
}

// WithSleep replaces the context-aware sleep used between paced calls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *env) {
		e.sleep = sleep
	}
}

// WithRetryDelay sets the delay between planning and contract retries.
func WithRetryDelay(d time.Duration) Option {
	return func(e *env) {
		e.retryDelay = d
	}
}

// env is shared by every handler of one Pipeline.
type env struct {
	deps       Deps
	cfg        Config
	prompts    *service.PromptRenderer
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	retryDelay time.Duration
	logger     *logging.Logger
}

// generate calls the generator with the model configured for purpose.
func (e *env) generate(ctx context.Context, purpose, prompt string, refs []string) (string, error) {
	out, err := e.deps.Generator.Generate(ctx, core.GenerateRequest{
		Prompt:      prompt,
		ContextRefs: refs,
		Model:       e.cfg.modelFor(purpose),
		Purpose:     purpose,
	})
	if err != nil {
		return "", fmt.Errorf("%s generation: %w", purpose, err)
	}
	return out, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PhaseRunner is one phase's entry point.
type PhaseRunner interface {
	Phase() core.Phase
	Invoke(ctx context.Context) (Report, error)
}

// Pipeline bundles the four phase runners.
type Pipeline struct {
	env     *env
	runners map[core.Phase]PhaseRunner
}

// New builds a Pipeline over deps.
func New(deps Deps, cfg Config, opts ...Option) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	e := &env{
		deps:       deps,
		cfg:        cfg,
		prompts:    deps.Prompts,
		now:        time.Now,
		sleep:      sleepContext,
		retryDelay: time.Second,
		logger:     deps.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.prompts == nil {
		r, err := service.NewPromptRenderer()
		if err != nil {
			return nil, fmt.Errorf("loading prompts: %w", err)
		}
		e.prompts = r
	}

	p := &Pipeline{env: e, runners: make(map[core.Phase]PhaseRunner, 4)}
	p.add(newRunner[ingestState](&ingestion{env: e}, e))
	p.add(newRunner[noState](&planning{env: e}, e))
	p.add(newRunner[rawState](&rawText{env: e}, e))
	p.add(newRunner[noState](&finalization{env: e, consolidator: newConsolidator(e)}, e))
	return p, nil
}

func (p *Pipeline) add(r PhaseRunner) {
	p.runners[r.Phase()] = r
}

// Runner returns the runner of a phase.
func (p *Pipeline) Runner(phase core.Phase) (PhaseRunner, bool) {
	r, ok := p.runners[phase]
	return r, ok
}

// Invoke runs one invocation of a phase.
func (p *Pipeline) Invoke(ctx context.Context, phase core.Phase) (Report, error) {
	r, ok := p.runners[phase]
	if !ok {
		return Report{Phase: phase}, core.ErrNotFound("phase", string(phase))
	}
	return r.Invoke(ctx)
}

// Tick runs one invocation of every phase in pipeline order. A failing
// phase does not stop the later ones.
func (p *Pipeline) Tick(ctx context.Context) ([]Report, error) {
	reports := make([]Report, 0, len(p.runners))
	var errs []error
	for _, phase := range core.AllPhases() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		rep, err := p.Invoke(ctx, phase)
		reports = append(reports, rep)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", phase, err))
		}
	}
	return reports, errors.Join(errs...)
}

// Register exposes every phase as a scheduler entry point named after it.
func (p *Pipeline) Register(reg *scheduler.Registry) {
	for _, phase := range core.AllPhases() {
		reg.Register(string(phase), func(ctx context.Context) error {
			rep, err := p.Invoke(ctx, phase)
			if err != nil {
				return err
			}
			p.env.logger.Debug("entry point finished",
				"phase", rep.Phase, "task_id", rep.TaskID, "outcome", rep.Outcome)
			return nil
		})
	}
}
