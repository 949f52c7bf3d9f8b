package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service/pipeline"
	"github.com/hugo-lorenzo-mato/docforge/internal/testutil"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// writeTestConfig points the commands at a json-backed workspace under dir.
func writeTestConfig(t *testing.T, dir string) {
	t.Helper()
	data := fmt.Sprintf(`log:
  level: error
  format: text
state:
  backend: json
  dir: %[1]s/state
  lock_path: %[1]s/state/docforge.lock
  lock_timeout: 100ms
documents:
  dir: %[1]s/documents
ingestion:
  inbox_dir: %[1]s/inbox
generation:
  preflight: false
scheduler:
  mode: local
diagnostics:
  crash_dump_dir: %[1]s/crashdumps
`, filepath.ToSlash(dir))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })
}

// resetFlags restores command flag variables between tests.
func resetFlags() {
	taskID, taskMode, taskMaxSubtopics, taskSource = "", "simple", 0, ""
	taskStage, taskJSON, taskRaw, taskCopy = "", false, false, false
	runJSON = false
	initForce = false
}

// runCommand invokes fn as cmd would run it and returns its output.
func runCommand(t *testing.T, cmd *cobra.Command, fn func(*cobra.Command, []string) error, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	err := fn(cmd, args)
	return out.String(), err
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func TestRunInit(t *testing.T) {
	resetFlags()
	t.Chdir(t.TempDir())

	out, err := runCommand(t, initCmd, runInit)
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized docforge workspace")

	_, err = os.Stat(configPath)
	require.NoError(t, err)
	for _, dir := range []string{".docforge/state", ".docforge/documents", ".docforge/inbox", ".docforge/crashdumps"} {
		stat, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, stat.IsDir(), dir)
	}

	t.Run("existing config without force", func(t *testing.T) {
		_, err := runCommand(t, initCmd, runInit)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("existing config with force", func(t *testing.T) {
		initForce = true
		defer func() { initForce = false }()
		_, err := runCommand(t, initCmd, runInit)
		assert.NoError(t, err)
	})
}

// ---------------------------------------------------------------------------
// task commands
// ---------------------------------------------------------------------------

func TestTaskAddAndList(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	writeTestConfig(t, dir)

	taskID = "lighthouses"
	taskMode = "deep"
	taskMaxSubtopics = 4
	out, err := runCommand(t, taskAddCmd, runTaskAdd, "The", "economics", "of", "lighthouses")
	require.NoError(t, err)
	assert.Contains(t, out, "Added task lighthouses (deep)")
	assert.Contains(t, out, filepath.Join(dir, "inbox", "lighthouses"))

	_, err = runCommand(t, taskAddCmd, runTaskAdd, "again")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	resetFlags()
	taskJSON = true
	out, err = runCommand(t, taskListCmd, runTaskList)
	require.NoError(t, err)

	var tasks []core.Task
	require.NoError(t, json.Unmarshal([]byte(out), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, core.TaskID("lighthouses"), tasks[0].ID)
	assert.Equal(t, "The economics of lighthouses", tasks[0].Prompt)
	assert.Equal(t, core.StagePendingIngestion, tasks[0].Stage)
	assert.Equal(t, 4, tasks[0].MaxSubtopics)

	taskStage = string(core.StageCompleted)
	out, err = runCommand(t, taskListCmd, runTaskList)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	taskStage = "bogus"
	_, err = runCommand(t, taskListCmd, runTaskList)
	assert.Error(t, err)
}

func TestTaskImport(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	writeTestConfig(t, dir)

	file := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`tasks:
  - id: press
    prompt: A short history of the printing press
  - id: ink
    prompt: Inks through the ages
    mode: deep
`), 0o600))

	out, err := runCommand(t, taskImportCmd, runTaskImport, file)
	require.NoError(t, err)
	assert.Contains(t, out, "Added task press (simple)")
	assert.Contains(t, out, "Added task ink (deep)")
	assert.Contains(t, out, "Imported 2 tasks")

	_, err = runCommand(t, taskImportCmd, runTaskImport, file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imported 0 of 2 tasks")
}

func TestTaskShowCancelRetry(t *testing.T) {
	resetFlags()
	dir := t.TempDir()
	writeTestConfig(t, dir)

	taskID = "printing-press"
	_, err := runCommand(t, taskAddCmd, runTaskAdd, "A short history of the printing press")
	require.NoError(t, err)
	resetFlags()

	out, err := runCommand(t, taskShowCmd, runTaskShow, "printing")
	require.NoError(t, err)
	assert.Contains(t, out, "printing-press")
	assert.Contains(t, out, string(core.StagePendingIngestion))

	taskCopy = true
	_, err = runCommand(t, taskShowCmd, runTaskShow, "printing-press")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document yet")
	taskCopy = false

	out, err = runCommand(t, taskCancelCmd, runTaskCancel, "printing-press")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled task printing-press")

	out, err = runCommand(t, taskRetryCmd, runTaskRetry, "printing-press")
	require.NoError(t, err)
	assert.Contains(t, out, "now "+string(core.StagePendingIngestion))
}

// ---------------------------------------------------------------------------
// run / tick
// ---------------------------------------------------------------------------

func TestRunPhase_IdleLedger(t *testing.T) {
	resetFlags()
	writeTestConfig(t, t.TempDir())

	runJSON = true
	defer func() { runJSON = false }()
	out, err := runCommand(t, runCmd, runPhase, "planning")
	require.NoError(t, err)

	var rep pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, core.PhasePlanning, rep.Phase)
	assert.Equal(t, pipeline.OutcomeIdle, rep.Outcome)
}

func TestRunPhase_UnknownPhase(t *testing.T) {
	resetFlags()
	writeTestConfig(t, t.TempDir())

	_, err := runCommand(t, runCmd, runPhase, "publishing")
	assert.Error(t, err)
}

func TestRunTick_IdleLedger(t *testing.T) {
	resetFlags()
	writeTestConfig(t, t.TempDir())

	out, err := runCommand(t, tickCmd, runTick)
	require.NoError(t, err)
	for _, phase := range core.AllPhases() {
		assert.Contains(t, out, string(phase))
	}
	assert.Contains(t, out, string(pipeline.OutcomeIdle))
}

func TestPrintReports(t *testing.T) {
	resetFlags()
	var buf bytes.Buffer
	err := printReports(&buf, []pipeline.Report{
		{Phase: core.PhaseRawText, TaskID: "t1", Outcome: pipeline.OutcomePaused, Resumed: true},
		{Phase: core.PhaseFinalization, Outcome: pipeline.OutcomeIdle},
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "rawtext")
	assert.Contains(t, buf.String(), "paused t1")
	assert.Contains(t, buf.String(), "(resumed)")
	assert.Contains(t, buf.String(), "finalization")
}

// ---------------------------------------------------------------------------
// resolveTaskID
// ---------------------------------------------------------------------------

func TestResolveTaskID(t *testing.T) {
	ledger := testutil.NewMemoryLedger(
		core.NewTask("printing-press-1a2b", "press", core.ModeSimple),
		core.NewTask("printing-ink-3c4d", "ink", core.ModeSimple),
		core.NewTask("lighthouses-5e6f", "lighthouses", core.ModeDeep),
	)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   string
		want    core.TaskID
		wantErr string
	}{
		{name: "exact", input: "printing-ink-3c4d", want: "printing-ink-3c4d"},
		{name: "unique prefix", input: "light", want: "lighthouses-5e6f"},
		{name: "fuzzy", input: "ppress", want: "printing-press-1a2b"},
		{name: "ambiguous prefix", input: "printing", wantErr: "matches several tasks"},
		{name: "no match", input: "zzz", wantErr: "not found"},
		{name: "blank", input: "  ", wantErr: "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveTaskID(ctx, ledger, tt.input)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmbiguousListsAtMostFive(t *testing.T) {
	err := ambiguous("x", []string{"a", "b", "c", "d", "e", "f", "g"})
	assert.Contains(t, err.Error(), "a, b, c, d, e, ...")
	assert.NotContains(t, err.Error(), "f")
}
