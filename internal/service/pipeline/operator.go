package pipeline

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// cancelMessage is written to the ledger by Cancel.
const cancelMessage = "cancelled by operator"

// withLock runs fn while holding the pipeline lock. A busy lock is a state
// error so operator commands never race a running phase.
func (p *Pipeline) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	lock := p.env.deps.Lock
	ok, err := lock.TryAcquire(ctx, p.env.cfg.LockTimeout)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !ok {
		return core.ErrState("LOCK_BUSY", "a phase runner is active, try again shortly")
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			p.env.logger.Warn("releasing lock failed", "error", err)
		}
	}()
	return fn(ctx)
}

// Cancel stops a task for good: every checkpoint it has is deleted and it
// is forced into the error stage of the phase that owns it.
func (p *Pipeline) Cancel(ctx context.Context, id core.TaskID) (*core.Task, error) {
	var out *core.Task
	err := p.withLock(ctx, func(ctx context.Context) error {
		task, err := p.env.deps.Ledger.Get(ctx, id)
		if err != nil {
			return err
		}
		if task.Stage.IsTerminal() {
			return core.ErrState("TASK_FINISHED",
				fmt.Sprintf("task %s is already %s", id, task.Stage))
		}
		phase := core.OwningPhase(task.Stage, task.Mode)
		if phase == "" {
			return core.ErrState("UNKNOWN_STAGE",
				fmt.Sprintf("task %s has unknown stage %q", id, task.Stage))
		}
		for _, ph := range core.AllPhases() {
			if err := p.env.deps.Checkpoints.Delete(ctx, ph, id); err != nil {
				return fmt.Errorf("deleting %s checkpoint: %w", ph, err)
			}
		}
		patch := core.StagePatch(phase.Stages().Error).SetErrorMessage(cancelMessage)
		if err := p.env.deps.Ledger.Write(ctx, id, patch); err != nil {
			return err
		}
		task.Apply(patch)
		out = task
		p.env.logger.WithTask(string(id)).Info("task cancelled", "phase", phase)
		return nil
	})
	return out, err
}

// Retry moves a failed or stuck task back to its phase's entry stage and
// clears the error message. Tasks that can still be resumed from a
// checkpoint are left alone.
func (p *Pipeline) Retry(ctx context.Context, id core.TaskID) (*core.Task, error) {
	var out *core.Task
	err := p.withLock(ctx, func(ctx context.Context) error {
		task, err := p.env.deps.Ledger.Get(ctx, id)
		if err != nil {
			return err
		}
		phase := core.OwningPhase(task.Stage, task.Mode)
		stuck := phase != "" && phase.Stages().Owns(task.Stage)
		if !task.Stage.IsError() && !stuck {
			return core.ErrState("NOT_RETRYABLE",
				fmt.Sprintf("task %s is %s; only failed or stuck tasks can be retried", id, task.Stage))
		}
		if stuck {
			blob, err := p.env.deps.Checkpoints.Get(ctx, phase, id)
			if err != nil {
				return fmt.Errorf("reading checkpoint: %w", err)
			}
			if blob != nil {
				return core.ErrState("RESUMABLE",
					fmt.Sprintf("task %s has a checkpoint and will resume on the next %s invocation", id, phase))
			}
		}

		patch := core.StagePatch(core.EntryStage(phase, task.Mode)).SetErrorMessage("")
		if err := p.env.deps.Ledger.Write(ctx, id, patch); err != nil {
			return err
		}
		task.Apply(patch)
		out = task
		p.env.logger.WithTask(string(id)).Info("task queued for retry", "phase", phase, "stage", task.Stage)
		return nil
	})
	return out, err
}
