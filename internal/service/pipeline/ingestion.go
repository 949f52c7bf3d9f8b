package pipeline

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// ingestState is the checkpoint of a paused ingestion.
type ingestState struct {
	Source     string   `json:"source"`
	Prompt     string   `json:"prompt"`
	Processed  []string `json:"processed"`
	FileRefs   []string `json:"file_refs"`
	Notes      []string `json:"notes"`
	TotalChars int      `json:"total_chars"`
}

// ingestion pulls source items into the document store, one item at a
// time, checking the budget before and after each.
type ingestion struct {
	*env
}

func (h *ingestion) phase() core.Phase { return core.PhaseIngestion }

func (h *ingestion) validate(task *core.Task, st *ingestState) error {
	if st.Prompt != task.Prompt {
		return core.ErrValidation(core.CodeCheckpointShape, "checkpoint was taken for a different prompt")
	}
	if st.TotalChars < 0 {
		return core.ErrValidation(core.CodeCheckpointShape, "checkpoint progress is inconsistent")
	}
	return nil
}

func (h *ingestion) run(ctx context.Context, sl *slice, task *core.Task, st *ingestState) (step[ingestState], error) {
	if st == nil {
		st = &ingestState{
			Source:   task.Source,
			Prompt:   task.Prompt,
			FileRefs: append([]string{}, task.FileRefs...),
			Notes:    append([]string{}, task.Notes...),
		}
	}

	view := task.Clone()
	view.Source = st.Source
	items, err := h.deps.Source.List(ctx, view)
	if err != nil {
		return step[ingestState]{}, core.ErrExecution(core.CodeIngestionFailed, "listing source items").WithCause(err)
	}

	done := make(map[string]bool, len(st.Processed))
	for _, name := range st.Processed {
		done[name] = true
	}
	var pending []core.SourceItem
	for _, it := range items {
		if !done[it.Name] {
			pending = append(pending, it)
		}
	}
	sl.logger.Debug("ingesting", "pending", len(pending), "processed", len(st.Processed))

	for i, item := range pending {
		if sl.overBudget() {
			return pauseWith(st), nil
		}

		stop, err := h.ingestItem(ctx, st, item, len(pending)-i-1)
		if err != nil {
			return step[ingestState]{}, err
		}
		if stop {
			break
		}

		if sl.overBudget() && i < len(pending)-1 {
			return pauseWith(st), nil
		}
	}

	return completeWith[ingestState](core.TaskPatch{}.SetFileRefs(st.FileRefs).SetNotes(st.Notes)), nil
}

// ingestItem processes one item and records it in st. It reports stop when
// the cumulative character budget ends the phase early.
func (h *ingestion) ingestItem(ctx context.Context, st *ingestState, item core.SourceItem, remaining int) (stop bool, err error) {
	limit := h.cfg.MaxItemBytes
	if limit > 0 && item.Size > limit {
		st.Notes = append(st.Notes, fmt.Sprintf("skipped %s: %d bytes exceeds the %d byte item limit", item.Name, item.Size, limit))
		st.Processed = append(st.Processed, item.Name)
		return false, nil
	}

	data, err := h.readItem(ctx, item)
	if err != nil {
		return false, err
	}
	if limit > 0 && int64(len(data)) > limit {
		st.Notes = append(st.Notes, fmt.Sprintf("skipped %s: grew past the %d byte item limit", item.Name, limit))
		st.Processed = append(st.Processed, item.Name)
		return false, nil
	}

	text, err := h.deps.Extractor.Extract(item, data)
	if err != nil {
		if core.IsCategory(err, core.ErrCatValidation) {
			st.Notes = append(st.Notes, fmt.Sprintf("skipped %s: %s", item.Name, errorMessage(err)))
			st.Processed = append(st.Processed, item.Name)
			return false, nil
		}
		return false, fmt.Errorf("extracting %s: %w", item.Name, err)
	}

	chars := utf8.RuneCountInString(text)
	if h.cfg.MaxTotalChars > 0 && st.TotalChars+chars > h.cfg.MaxTotalChars {
		st.Notes = append(st.Notes, fmt.Sprintf(
			"stopped at %s: the %d character ingestion limit was reached, %d item(s) not ingested",
			item.Name, h.cfg.MaxTotalChars, remaining+1))
		return true, nil
	}

	ref, err := h.deps.Documents.Create(ctx, item.Name, text)
	if err != nil {
		return false, core.ErrExecution(core.CodeDocumentCreate, fmt.Sprintf("storing %s", item.Name)).WithCause(err)
	}
	st.FileRefs = append(st.FileRefs, ref)
	st.Processed = append(st.Processed, item.Name)
	st.TotalChars += chars
	return false, nil
}

func (h *ingestion) readItem(ctx context.Context, item core.SourceItem) ([]byte, error) {
	rc, err := h.deps.Source.Open(ctx, item)
	if err != nil {
		return nil, core.ErrExecution(core.CodeIngestionFailed, fmt.Sprintf("opening %s", item.Name)).WithCause(err)
	}
	defer rc.Close()

	r := io.Reader(rc)
	if h.cfg.MaxItemBytes > 0 {
		r = io.LimitReader(rc, h.cfg.MaxItemBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, core.ErrExecution(core.CodeIngestionFailed, fmt.Sprintf("reading %s", item.Name)).WithCause(err)
	}
	return data, nil
}
