package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/testutil"
)

func stagedTask(id string, stage core.Stage, mode core.Mode) *core.Task {
	t := core.NewTask(core.TaskID(id), "Prompt for "+id, mode)
	t.Stage = stage
	return t
}

func sampleLedger() *testutil.MemoryLedger {
	failed := stagedTask("t-fail", core.StageErrorText, core.ModeDeep)
	failed.ErrorMessage = "section generation: backend unavailable"
	return testutil.NewMemoryLedger(
		stagedTask("t-new", core.StagePendingIngestion, core.ModeSimple),
		stagedTask("t-run", core.StageGeneratingText, core.ModeDeep),
		stagedTask("t-paused", core.StagePausedIngestion, core.ModeSimple),
		failed,
		stagedTask("t-done", core.StageCompleted, core.ModeSimple),
	)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tests := map[core.Stage]Status{
		core.StagePendingIngestion:  StatusWaiting,
		core.StageIngesting:         StatusActive,
		core.StagePausedIngestion:   StatusPaused,
		core.StageIngested:          StatusWaiting,
		core.StagePlanning:          StatusActive,
		core.StagePlanned:           StatusWaiting,
		core.StageGeneratingText:    StatusActive,
		core.StagePausedText:        StatusPaused,
		core.StageTextSaved:         StatusWaiting,
		core.StageConsolidating:     StatusActive,
		core.StageFinalizing:        StatusActive,
		core.StageCompleted:         StatusCompleted,
		core.StageErrorPlanning:     StatusFailed,
		core.StageErrorFinalization: StatusFailed,
	}
	for stage, want := range tests {
		assert.Equal(t, want, StatusOf(stage), stage)
	}
}

func TestFormatAge(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "now", FormatAge(-time.Second))
	assert.Equal(t, "42s", FormatAge(42*time.Second))
	assert.Equal(t, "5m", FormatAge(5*time.Minute+10*time.Second))
	assert.Equal(t, "30h", FormatAge(30*time.Hour))
	assert.Equal(t, "3d", FormatAge(80*time.Hour))
}

func TestSummary(t *testing.T) {
	t.Parallel()

	tasks, err := sampleLedger().Scan(context.Background())
	require.NoError(t, err)

	s := Summary(tasks)
	for _, want := range []string{"1 active", "1 paused", "1 waiting", "1 completed", "1 failed"} {
		assert.Contains(t, s, want)
	}
	assert.Contains(t, Summary(nil), "no tasks")
}

func TestRenderTable(t *testing.T) {
	t.Parallel()

	tasks, err := sampleLedger().Scan(context.Background())
	require.NoError(t, err)

	out := RenderTable(tasks, TableOptions{Selected: -1, Spinner: "*"})
	for _, want := range []string{"TASK", "t-new", "t-run", "error_text", "rawtext", "ingestion"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, out, "✓")
	assert.Contains(t, out, "*")
}

func TestRenderDetails(t *testing.T) {
	t.Parallel()

	task := stagedTask("t-1", core.StageErrorText, core.ModeDeep)
	task.SubtopicsRaw = `[{"title":"A","outline":"a"},{"title":"B","outline":"b"}]`
	task.ErrorMessage = "cancelled by operator"
	task.Notes = []string{"skipped image.png: binary content"}

	out := RenderDetails(task)
	assert.Contains(t, out, "t-1")
	assert.Contains(t, out, "2 sub-topics")
	assert.Contains(t, out, "cancelled by operator")
	assert.Contains(t, out, "skipped image.png")
	assert.NotContains(t, out, "output")
}

func TestModel_ScanAndNavigate(t *testing.T) {
	t.Parallel()

	m := New(sampleLedger(), time.Second)
	msg := m.scan(false)()
	scanned, ok := msg.(TasksMsg)
	require.True(t, ok)
	require.NoError(t, scanned.Err)

	updated, cmd := m.Update(scanned)
	m = updated.(Model)
	assert.NotNil(t, cmd, "a scheduled scan should poll again")
	assert.Len(t, m.tasks, 5)
	assert.Equal(t, core.TaskID("t-new"), m.Selected().ID)

	down := tea.KeyMsg{Type: tea.KeyDown}
	for i := 0; i < 10; i++ {
		updated, _ = m.Update(down)
		m = updated.(Model)
	}
	assert.Equal(t, core.TaskID("t-done"), m.Selected().ID)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m = updated.(Model)
	assert.Equal(t, core.TaskID("t-fail"), m.Selected().ID)

	view := m.View()
	assert.Contains(t, view, "docforge watch")
	assert.Contains(t, view, "backend unavailable")
}

func TestModel_ManualRefreshDoesNotPoll(t *testing.T) {
	t.Parallel()

	m := New(sampleLedger(), time.Second)
	_, cmd := m.Update(TasksMsg{Manual: true, At: time.Now()})
	assert.Nil(t, cmd)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	msg, ok := cmd().(TasksMsg)
	require.True(t, ok)
	assert.True(t, msg.Manual)
}

func TestModel_ShrinkingLedgerClampsSelection(t *testing.T) {
	t.Parallel()

	m := New(sampleLedger(), time.Second)
	m.tasks = make([]*core.Task, 5)
	m.selectedIdx = 4

	updated, _ := m.Update(TasksMsg{Tasks: []*core.Task{stagedTask("only", core.StageIngested, core.ModeDeep)}})
	m = updated.(Model)
	assert.Equal(t, 0, m.selectedIdx)
	assert.Equal(t, core.TaskID("only"), m.Selected().ID)
}

func TestModel_ScanErrorKeepsTasks(t *testing.T) {
	t.Parallel()

	m := New(sampleLedger(), time.Second)
	m.tasks = []*core.Task{stagedTask("kept", core.StageIngested, core.ModeSimple)}

	updated, _ := m.Update(TasksMsg{Err: errors.New("database is locked")})
	m = updated.(Model)
	assert.Len(t, m.tasks, 1)
	assert.Contains(t, m.View(), "ledger unavailable: database is locked")
}

func TestModel_Quit(t *testing.T) {
	t.Parallel()

	m := New(sampleLedger(), 0)
	assert.Equal(t, 2*time.Second, m.interval)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestRunPlain_Once(t *testing.T) {
	t.Parallel()

	var sb strings.Builder
	require.NoError(t, RunPlain(context.Background(), &sb, sampleLedger(), 0))
	assert.Contains(t, sb.String(), "t-paused")
	assert.Contains(t, sb.String(), "1 paused")
}

func TestDetector(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("DOCFORGE_OUTPUT", "")
	t.Setenv("TERM", "xterm")

	d := &Detector{isTTY: func() bool { return true }}
	assert.Equal(t, ModeTUI, d.Detect())

	d.isTTY = func() bool { return false }
	assert.Equal(t, ModePlain, d.Detect())

	d.isTTY = func() bool { return true }
	t.Setenv("DOCFORGE_OUTPUT", "plain")
	assert.Equal(t, ModePlain, d.Detect())

	assert.Equal(t, ModeTUI, d.ForceMode(ModeTUI).Detect())
	assert.Equal(t, "plain", ModePlain.String())
	assert.Equal(t, "unknown", OutputMode(9).String())
}
