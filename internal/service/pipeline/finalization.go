package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// finalization consolidates the raw text into the final document.
type finalization struct {
	*env
	consolidator *Consolidator
}

func (h *finalization) phase() core.Phase { return core.PhaseFinalization }

func (h *finalization) validate(*core.Task, *noState) error { return nil }

func (h *finalization) run(ctx context.Context, sl *slice, task *core.Task, _ *noState) (step[noState], error) {
	if task.OutputRef == "" {
		return step[noState]{}, core.ErrValidation("MISSING_RAW_TEXT", "task has no raw text to finalize")
	}
	text, err := h.deps.Documents.Read(ctx, task.OutputRef)
	if err != nil {
		return step[noState]{}, fmt.Errorf("reading raw text %s: %w", task.OutputRef, err)
	}

	res, err := h.consolidator.Consolidate(ctx, task, text, func(ctx context.Context) error {
		return sl.setStage(ctx, core.StageFinalizing)
	})
	if err != nil {
		return step[noState]{}, err
	}

	doc, err := RenderDocument(task, res, h.now())
	if err != nil {
		return step[noState]{}, err
	}
	ref, err := h.deps.Documents.Create(ctx, res.Title, doc)
	if err != nil {
		return step[noState]{}, core.ErrExecution(core.CodeDocumentCreate, "storing final document").WithCause(err)
	}
	h.file(ctx, sl, ref, h.cfg.FinalLocation, slugify(res.Title)+".md")

	patch := core.TaskPatch{}.SetOutputRef(ref)
	if res.Fallback {
		notes := append(append([]string{}, task.Notes...),
			"finalization: title, summary and references could not be recovered; title derived from the goal")
		patch = patch.SetNotes(notes)
	}
	sl.logger.Info("document finalized",
		"ref", ref, "chunks", res.Chunks, "chars", len([]rune(doc)), "fallback", res.Fallback)
	return completeWith[noState](patch), nil
}

// file moves and renames a stored document. Failures only warn.
func (e *env) file(ctx context.Context, sl *slice, ref, location, name string) {
	if location != "" {
		if err := e.deps.Documents.Move(ctx, ref, location); err != nil {
			sl.logger.Warn("moving document failed", "ref", ref, "location", location, "error", err)
		}
	}
	if name = strings.TrimSpace(name); name != "" {
		if err := e.deps.Documents.Rename(ctx, ref, name); err != nil {
			sl.logger.Warn("renaming document failed", "ref", ref, "name", name, "error", err)
		}
	}
}
