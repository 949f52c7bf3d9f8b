package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service"
)

// rawState is the checkpoint of a paused raw-text generation.
type rawState struct {
	Prompt        string          `json:"prompt"`
	Mode          core.Mode       `json:"mode"`
	Subtopics     []core.Subtopic `json:"subtopics"`
	LastCompleted int             `json:"last_completed"`
	Accumulated   string          `json:"accumulated"`
}

// rawText generates the raw text. Deep-mode tasks advance by exactly one
// sub-topic per invocation; everything else is a single whole-task call.
type rawText struct {
	*env
}

func (h *rawText) phase() core.Phase { return core.PhaseRawText }

func (h *rawText) validate(task *core.Task, st *rawState) error {
	switch {
	case st.Prompt != task.Prompt:
		return core.ErrValidation(core.CodeCheckpointShape, "checkpoint was taken for a different prompt")
	case st.Mode != core.ModeDeep:
		return core.ErrValidation(core.CodeCheckpointShape, "only deep-mode generation is checkpointed")
	case len(st.Subtopics) == 0:
		return core.ErrValidation(core.CodeCheckpointShape, "checkpoint has no sub-topics")
	case st.LastCompleted < -1 || st.LastCompleted >= len(st.Subtopics)-1:
		return core.ErrValidation(core.CodeCheckpointShape,
			fmt.Sprintf("checkpoint cursor %d is out of range", st.LastCompleted))
	}
	return nil
}

func (h *rawText) run(ctx context.Context, sl *slice, task *core.Task, st *rawState) (step[rawState], error) {
	if st == nil {
		subs, err := task.Subtopics()
		if err != nil {
			return step[rawState]{}, err
		}
		st = &rawState{
			Prompt:        task.Prompt,
			Mode:          task.Mode,
			Subtopics:     subs,
			LastCompleted: -1,
		}
	}

	if st.Mode != core.ModeDeep || len(st.Subtopics) == 0 {
		return h.whole(ctx, sl, task, st)
	}

	i := st.LastCompleted + 1
	if i >= len(st.Subtopics) {
		return h.finish(ctx, sl, task, st)
	}
	if sl.overBudget() {
		return pauseWith(st), nil
	}

	sub := &st.Subtopics[i]
	params := service.SubtopicParams{
		Prompt:  st.Prompt,
		Title:   sub.Title,
		Outline: sub.Outline,
		Tail:    tailParagraphs(st.Accumulated, h.cfg.TailParagraphs),
		Index:   i,
		Total:   len(st.Subtopics),
	}

	reflectPrompt, err := h.prompts.RenderReflect(params)
	if err != nil {
		return step[rawState]{}, err
	}
	revised, err := h.generate(ctx, core.PurposeReflect, reflectPrompt, nil)
	switch {
	case core.HasCode(err, core.CodeEmptyOutput):
		sl.logger.Info("reflection returned nothing, keeping outline", "subtopic", i)
	case err != nil:
		return step[rawState]{}, err
	default:
		if revised = strings.TrimSpace(revised); revised != "" {
			sub.Outline = revised
			params.Outline = revised
		}
	}

	if sl.overBudget() {
		sl.logger.Info("budget spent after reflection, sub-topic will be redone", "subtopic", i)
		return pauseWith(st), nil
	}

	sectionPrompt, err := h.prompts.RenderSection(params)
	if err != nil {
		return step[rawState]{}, err
	}
	text, err := h.generate(ctx, core.PurposeSection, sectionPrompt, task.FileRefs)
	if err != nil {
		return step[rawState]{}, err
	}
	st.Accumulated = appendSection(st.Accumulated, sub.Title, text)
	st.LastCompleted = i
	sl.logger.Info("sub-topic written", "subtopic", i+1, "of", len(st.Subtopics), "title", sub.Title)

	if i < len(st.Subtopics)-1 {
		return pauseWith(st), nil
	}
	return h.finish(ctx, sl, task, st)
}

// whole generates the raw text in one call.
func (h *rawText) whole(ctx context.Context, sl *slice, task *core.Task, st *rawState) (step[rawState], error) {
	prompt, err := h.prompts.RenderWhole(service.WholeParams{
		Prompt:       st.Prompt,
		ContextCount: len(task.FileRefs),
	})
	if err != nil {
		return step[rawState]{}, err
	}
	text, err := h.generate(ctx, core.PurposeWhole, prompt, task.FileRefs)
	if err != nil {
		return step[rawState]{}, err
	}
	st.Accumulated = strings.TrimSpace(text) + "\n"
	return h.finish(ctx, sl, task, st)
}

// finish stores the accumulated text as an intermediate document.
func (h *rawText) finish(ctx context.Context, sl *slice, task *core.Task, st *rawState) (step[rawState], error) {
	ref, err := h.deps.Documents.Create(ctx, fmt.Sprintf("%s raw text", task.ID), st.Accumulated)
	if err != nil {
		return step[rawState]{}, core.ErrExecution(core.CodeDocumentCreate, "storing raw text").WithCause(err)
	}
	h.file(ctx, sl, ref, h.cfg.IntermediateLocation, string(task.ID)+"-raw.md")

	patch := core.TaskPatch{}.SetOutputRef(ref)
	if st.Mode == core.ModeDeep && len(st.Subtopics) > 0 {
		raw, err := core.EncodeSubtopics(st.Subtopics)
		if err != nil {
			return step[rawState]{}, err
		}
		patch = patch.SetSubtopics(raw)
	}
	return completeWith[rawState](patch), nil
}
