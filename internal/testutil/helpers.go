package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// Epoch is the fixed start time used by pipeline tests.
var Epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// NewTestTask creates a task with sensible defaults. Use functional
// options to override specific fields.
func NewTestTask(id string, opts ...func(*core.Task)) *core.Task {
	t := &core.Task{
		ID:        core.TaskID(id),
		Stage:     core.StagePendingIngestion,
		Mode:      core.ModeSimple,
		Prompt:    "Write a short history of " + id,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AtStage sets the task stage.
func AtStage(s core.Stage) func(*core.Task) {
	return func(t *core.Task) { t.Stage = s }
}

// Deep switches the task to deep mode.
func Deep() func(*core.Task) {
	return func(t *core.Task) { t.Mode = core.ModeDeep }
}

// WithSubtopics stores the given sub-topics on the task.
func WithSubtopics(subs ...core.Subtopic) func(*core.Task) {
	return func(t *core.Task) {
		raw, err := core.EncodeSubtopics(subs)
		if err != nil {
			panic(err)
		}
		t.SubtopicsRaw = raw
	}
}

// WithOutputRef sets the task output reference.
func WithOutputRef(ref string) func(*core.Task) {
	return func(t *core.Task) { t.OutputRef = ref }
}

// WriteInboxItem writes one ingestion item under <inbox>/<taskID>/.
func WriteInboxItem(t *testing.T, inbox, taskID, name, content string) string {
	t.Helper()
	dir := filepath.Join(inbox, taskID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("creating inbox dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing inbox item: %v", err)
	}
	return path
}
