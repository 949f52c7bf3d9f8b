package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/logging"
)

// releaseTimeout bounds lock release and commit writes after the caller's
// context is gone.
const releaseTimeout = 5 * time.Second

// Outcome is what one runner invocation did.
type Outcome string

const (
	OutcomeLocked    Outcome = "locked"    // another invocation holds the lock
	OutcomeIdle      Outcome = "idle"      // no task to work on
	OutcomePaused    Outcome = "paused"    // checkpoint written, continuation requested
	OutcomeCompleted Outcome = "completed" // phase output persisted, stage advanced
	OutcomeFailed    Outcome = "failed"    // task moved to the phase's error stage
)

// Report describes one runner invocation.
type Report struct {
	Phase   core.Phase  `json:"phase"`
	TaskID  core.TaskID `json:"task_id,omitempty"`
	Outcome Outcome     `json:"outcome"`
	Resumed bool        `json:"resumed,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// step is a handler's decision at the end of a slice.
type step[S any] struct {
	pause bool
	state *S
	patch core.TaskPatch
}

func pauseWith[S any](state *S) step[S] {
	return step[S]{pause: true, state: state}
}

func completeWith[S any](patch core.TaskPatch) step[S] {
	return step[S]{patch: patch}
}

// handler performs the bounded work of one phase for one task. A nil
// state means the phase starts from scratch.
type handler[S any] interface {
	phase() core.Phase
	validate(task *core.Task, state *S) error
	run(ctx context.Context, sl *slice, task *core.Task, state *S) (step[S], error)
}

// slice tracks the execution budget of one invocation.
type slice struct {
	taskID  core.TaskID
	started time.Time
	budget  time.Duration
	now     func() time.Time
	ledger  core.TaskLedger
	logger  *logging.Logger
}

// overBudget reports whether the invocation has used its execution budget.
// A zero budget never runs out.
func (s *slice) overBudget() bool {
	return s.budget > 0 && s.now().Sub(s.started) >= s.budget
}

func (s *slice) elapsed() time.Duration {
	return s.now().Sub(s.started)
}

// setStage moves the task to an intermediate stage mid-run.
func (s *slice) setStage(ctx context.Context, stage core.Stage) error {
	if err := s.ledger.Write(ctx, s.taskID, core.StagePatch(stage)); err != nil {
		return fmt.Errorf("setting stage %s: %w", stage, err)
	}
	return nil
}

// Runner drives one phase: it resumes or selects a single task, runs one
// bounded slice of work and commits exactly one of pause, complete or
// error.
type Runner[S any] struct {
	h      handler[S]
	stages core.PhaseStages
	env    *env
	logger *logging.Logger
}

func newRunner[S any](h handler[S], e *env) *Runner[S] {
	return &Runner[S]{
		h:      h,
		stages: h.phase().Stages(),
		env:    e,
		logger: e.logger.WithPhase(string(h.phase())),
	}
}

// Phase returns the phase this runner drives.
func (r *Runner[S]) Phase() core.Phase {
	return r.h.phase()
}

// Invoke runs one invocation. Per-task failures are reported through the
// task's error stage and the returned Report; the error return is reserved
// for failures that prevented selecting a task at all.
func (r *Runner[S]) Invoke(ctx context.Context) (Report, error) {
	started := r.env.now()
	phase := r.Phase()
	rep := Report{Phase: phase, Outcome: OutcomeIdle}

	ok, err := r.env.deps.Lock.TryAcquire(ctx, r.env.cfg.LockTimeout)
	if err != nil {
		return rep, fmt.Errorf("acquiring lock: %w", err)
	}
	if !ok {
		r.logger.Debug("lock busy, skipping invocation")
		rep.Outcome = OutcomeLocked
		return rep, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := r.env.deps.Lock.Release(releaseCtx); err != nil {
			r.logger.Warn("releasing lock failed", "error", err)
		}
	}()

	task, state, err := r.resume(ctx)
	if err != nil {
		return rep, err
	}
	if task != nil {
		rep.Resumed = true
	} else {
		task, err = r.selectFresh(ctx)
		if err != nil {
			return rep, err
		}
		if task == nil {
			r.logger.Debug("no eligible task")
			return rep, nil
		}
	}
	rep.TaskID = task.ID

	sl := &slice{
		taskID:  task.ID,
		started: started,
		budget:  r.env.cfg.ExecutionBudget,
		now:     r.env.now,
		ledger:  r.env.deps.Ledger,
		logger:  r.logger.WithTask(string(task.ID)),
	}
	return r.process(ctx, sl, task, state, rep), nil
}

// resume finds the first usable checkpoint of this phase. Every checkpoint
// it loads is deleted before any work starts; stale ones are dropped with
// a warning.
func (r *Runner[S]) resume(ctx context.Context) (*core.Task, *S, error) {
	phase := r.Phase()
	store := r.env.deps.Checkpoints

	keys, err := store.ListKeys(ctx, core.CheckpointPrefix(phase))
	if err != nil {
		return nil, nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	for _, key := range keys {
		_, id, err := core.ParseCheckpointKey(key)
		if err != nil {
			r.logger.Warn("ignoring malformed checkpoint key", "key", key)
			continue
		}
		blob, err := store.Get(ctx, phase, id)
		if err != nil {
			return nil, nil, fmt.Errorf("loading checkpoint %s: %w", key, err)
		}
		if blob == nil {
			continue
		}
		task, err := r.env.deps.Ledger.Get(ctx, id)
		if err != nil && !core.IsCategory(err, core.ErrCatNotFound) {
			return nil, nil, fmt.Errorf("reading task %s: %w", id, err)
		}
		if err := store.Delete(ctx, phase, id); err != nil {
			return nil, nil, fmt.Errorf("deleting checkpoint %s: %w", key, err)
		}

		logger := r.logger.WithTask(string(id))
		switch {
		case task == nil:
			logger.Warn("deleted checkpoint of missing task")
			continue
		case task.Stage.IsTerminal():
			logger.Warn("deleted checkpoint of finished task", "stage", task.Stage)
			continue
		case !r.stages.Owns(task.Stage):
			logger.Warn("deleted checkpoint of task that left the phase", "stage", task.Stage)
			continue
		}

		state, err := decodeCheckpoint[S](blob, phase, id)
		if err == nil {
			err = r.h.validate(task, state)
		}
		if err != nil {
			logger.Warn("discarding unusable checkpoint, restarting phase", "error", err)
			state = nil
		}
		return task, state, nil
	}
	return nil, nil, nil
}

// selectFresh returns the first task in ledger order this phase accepts.
func (r *Runner[S]) selectFresh(ctx context.Context) (*core.Task, error) {
	tasks, err := r.env.deps.Ledger.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning ledger: %w", err)
	}
	for _, t := range tasks {
		if r.Phase().Accepts(t) {
			return t, nil
		}
	}
	return nil, nil
}

func (r *Runner[S]) process(ctx context.Context, sl *slice, task *core.Task, state *S, rep Report) Report {
	logger := sl.logger
	if err := task.Validate(); err != nil {
		return r.fail(ctx, sl, task, err, rep)
	}
	if err := r.env.deps.Ledger.Write(ctx, task.ID, core.StagePatch(r.stages.Active)); err != nil {
		return r.fail(ctx, sl, task, fmt.Errorf("marking task active: %w", err), rep)
	}
	task.Stage = r.stages.Active
	logger.Info("phase slice started", "resumed", rep.Resumed, "fresh_state", state == nil)

	st, err := r.runSafely(ctx, sl, task, state)
	if err != nil {
		return r.fail(ctx, sl, task, err, rep)
	}
	if st.pause {
		return r.pause(ctx, sl, task, st.state, rep)
	}
	return r.complete(ctx, sl, task, st.patch, rep)
}

func (r *Runner[S]) runSafely(ctx context.Context, sl *slice, task *core.Task, state *S) (st step[S], err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		stack := debug.Stack()
		err = core.ErrInternal(core.CodePanic, fmt.Sprintf("panic in %s phase: %v", r.Phase(), rec))
		if w := r.env.deps.CrashDumps; w != nil {
			path, dumpErr := w.WriteCrashDump(string(r.Phase()), string(task.ID), rec, stack)
			if dumpErr != nil {
				sl.logger.Warn("writing crash dump failed", "error", dumpErr)
			} else {
				sl.logger.Error("phase panicked", "crash_dump", path)
			}
		}
	}()
	return r.h.run(ctx, sl, task, state)
}

func (r *Runner[S]) pause(ctx context.Context, sl *slice, task *core.Task, state *S, rep Report) Report {
	phase := r.Phase()
	if r.stages.Paused == "" || state == nil {
		return r.fail(ctx, sl, task, core.ErrInternal("UNEXPECTED_PAUSE",
			fmt.Sprintf("%s phase cannot pause", phase)), rep)
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	blob, err := encodeCheckpoint(phase, task.ID, state, r.env.now())
	if err != nil {
		return r.fail(ctx, sl, task, err, rep)
	}
	if err := r.env.deps.Checkpoints.Set(wctx, phase, task.ID, blob); err != nil {
		return r.fail(ctx, sl, task, fmt.Errorf("saving checkpoint: %w", err), rep)
	}
	if err := r.env.deps.Scheduler.ScheduleOnce(wctx, string(phase), r.env.cfg.ContinuationDelay); err != nil {
		sl.logger.Warn("scheduling continuation failed, waiting for the next tick", "error", err)
	}
	if err := r.env.deps.Ledger.Write(wctx, task.ID, core.StagePatch(r.stages.Paused)); err != nil {
		return r.fail(ctx, sl, task, fmt.Errorf("marking task paused: %w", err), rep)
	}

	sl.logger.Info("phase paused", "elapsed", sl.elapsed(), "checkpoint_bytes", len(blob))
	rep.Outcome = OutcomePaused
	return rep
}

func (r *Runner[S]) complete(ctx context.Context, sl *slice, task *core.Task, patch core.TaskPatch, rep Report) Report {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	exit := r.stages.Exit
	patch.Stage = &exit
	if err := r.env.deps.Ledger.Write(wctx, task.ID, patch); err != nil {
		return r.fail(ctx, sl, task, fmt.Errorf("saving phase output: %w", err), rep)
	}
	if err := r.env.deps.Checkpoints.Delete(wctx, r.Phase(), task.ID); err != nil {
		sl.logger.Warn("deleting checkpoint failed", "error", err)
	}

	sl.logger.Info("phase completed", "elapsed", sl.elapsed(), "stage", exit)
	rep.Outcome = OutcomeCompleted
	return rep
}

func (r *Runner[S]) fail(ctx context.Context, sl *slice, task *core.Task, cause error, rep Report) Report {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	msg := core.TruncateMessage(errorMessage(cause), r.env.cfg.ErrorMessageLimit)
	sl.logger.Error("phase failed", "error", cause)

	patch := core.StagePatch(r.stages.Error).SetErrorMessage(msg)
	if err := r.env.deps.Ledger.Write(wctx, task.ID, patch); err != nil {
		sl.logger.Error("recording task error failed", "error", err)
	}
	if err := r.env.deps.Checkpoints.Delete(wctx, r.Phase(), task.ID); err != nil {
		sl.logger.Warn("deleting checkpoint failed", "error", err)
	}

	rep.Outcome = OutcomeFailed
	rep.Error = msg
	return rep
}

// errorMessage renders an error for the ledger's message field.
func errorMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "interrupted: " + err.Error()
	}
	if de, ok := err.(*core.DomainError); ok {
		msg := de.Message
		if de.Cause != nil {
			msg += ": " + de.Cause.Error()
		}
		return msg
	}
	return err.Error()
}
