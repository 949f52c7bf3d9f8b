package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service"
)

// noState marks phases that never pause.
type noState struct{}

// codeSubtopicCount marks a plan with too many or too few sub-topics.
const codeSubtopicCount = "SUBTOPIC_COUNT"

// planning asks for the sub-topic list in a single call, retrying only
// when the answer cannot be parsed or breaks the count constraint.
type planning struct {
	*env
}

func (h *planning) phase() core.Phase { return core.PhasePlanning }

func (h *planning) validate(*core.Task, *noState) error { return nil }

func (h *planning) run(ctx context.Context, sl *slice, task *core.Task, _ *noState) (step[noState], error) {
	prompt, err := h.prompts.RenderPlan(service.PlanParams{
		Prompt:       task.Prompt,
		MaxSubtopics: task.MaxSubtopics,
		ContextCount: len(task.FileRefs),
	})
	if err != nil {
		return step[noState]{}, err
	}

	var best []core.Subtopic
	attempts := 0
	policy := service.NewRetryPolicy(
		service.WithMaxAttempts(max(h.cfg.PlanningMaxAttempts, 1)),
		service.WithBaseDelay(h.retryDelay),
		service.WithMaxDelay(h.retryDelay),
		service.WithJitter(0),
		service.WithRetryIf(isPlanViolation),
	)
	err = policy.ExecuteWithNotify(ctx, func(ctx context.Context) error {
		attempts++
		out, err := h.generate(ctx, core.PurposePlan, prompt, task.FileRefs)
		if err != nil {
			return err
		}
		subs, err := parsePlan(out)
		if err != nil {
			return err
		}
		best = subs
		if task.MaxSubtopics > 0 && len(subs) > task.MaxSubtopics {
			return core.ErrValidation(codeSubtopicCount,
				fmt.Sprintf("plan has %d sub-topics, at most %d allowed", len(subs), task.MaxSubtopics))
		}
		return nil
	}, func(attempt int, err error, _ time.Duration) {
		sl.logger.Warn("plan rejected, retrying", "attempt", attempt, "error", err)
	})

	switch {
	case err == nil:
	case service.IsRetryExhausted(err) && len(best) > 0:
		sl.logger.Warn("plan still too long after retries, truncating",
			"attempts", attempts, "planned", len(best), "max", task.MaxSubtopics)
		best = best[:task.MaxSubtopics]
	case service.IsRetryExhausted(err):
		var de *core.DomainError
		if errors.As(err, &de) {
			return step[noState]{}, core.ErrValidation(de.Code,
				fmt.Sprintf("no usable plan after %d attempt(s): %s", attempts, de.Message))
		}
		return step[noState]{}, err
	default:
		return step[noState]{}, err
	}

	raw, err := core.EncodeSubtopics(best)
	if err != nil {
		return step[noState]{}, err
	}
	sl.logger.Info("plan accepted", "subtopics", len(best), "attempts", attempts)
	return completeWith[noState](core.TaskPatch{}.SetSubtopics(raw)), nil
}

func isPlanViolation(err error) bool {
	var de *core.DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == core.CodeParseFailed || de.Code == codeSubtopicCount
}

// parsePlan extracts the JSON array of sub-topics from a model answer,
// tolerating prose or a code fence around it.
func parsePlan(out string) ([]core.Subtopic, error) {
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start < 0 || end < start {
		return nil, core.ErrValidation(core.CodeParseFailed, "plan is not a JSON array")
	}
	var subs []core.Subtopic
	if err := json.Unmarshal([]byte(out[start:end+1]), &subs); err != nil {
		return nil, core.ErrValidation(core.CodeParseFailed, "plan is not a JSON array of sub-topics").WithCause(err)
	}
	clean := subs[:0]
	for _, s := range subs {
		s.Title = strings.Join(strings.Fields(s.Title), " ")
		s.Outline = strings.TrimSpace(s.Outline)
		if s.Title == "" {
			continue
		}
		clean = append(clean, s)
	}
	if len(clean) == 0 {
		return nil, core.ErrValidation(codeSubtopicCount, "plan has no sub-topics")
	}
	return clean, nil
}
