package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/testutil"
)

func TestCancel_PausedTask(t *testing.T) {
	h := newHarness(t, testutil.NewTestTask("deep", testutil.Deep(), testutil.AtStage(core.StagePlanned),
		testutil.WithSubtopics(subs(3)...)))
	scriptSections(h)
	require.Equal(t, OutcomePaused, h.invoke(core.PhaseRawText).Outcome)

	got, err := h.pipeline().Cancel(t.Context(), "deep")

	require.NoError(t, err)
	assert.Equal(t, core.StageErrorText, got.Stage)
	assert.Equal(t, cancelMessage, got.ErrorMessage)
	assert.Equal(t, core.StageErrorText, h.task("deep").Stage)
	assert.False(t, h.checkpoints.Has(core.PhaseRawText, "deep"))
	assert.False(t, h.lock.Held())

	// Nothing resumes a cancelled task.
	assert.Equal(t, OutcomeIdle, h.invoke(core.PhaseRawText).Outcome)
}

func TestCancel_Rejections(t *testing.T) {
	h := newHarness(t,
		testutil.NewTestTask("done", testutil.AtStage(core.StageCompleted)),
		testutil.NewTestTask("pending"),
	)

	_, err := h.pipeline().Cancel(t.Context(), "done")
	assert.True(t, core.IsCategory(err, core.ErrCatState))

	_, err = h.pipeline().Cancel(t.Context(), "nope")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))

	h.lock.SetBusy(true)
	_, err = h.pipeline().Cancel(t.Context(), "pending")
	assert.True(t, core.IsCategory(err, core.ErrCatState))
	assert.Equal(t, core.StagePendingIngestion, h.task("pending").Stage)
}

func TestRetry(t *testing.T) {
	tests := []struct {
		name  string
		task  *core.Task
		want  core.Stage
		fails bool
	}{
		{"planning error", testutil.NewTestTask("t", testutil.Deep(), testutil.AtStage(core.StageErrorPlanning)), core.StageIngested, false},
		{"deep text error", testutil.NewTestTask("t", testutil.Deep(), testutil.AtStage(core.StageErrorText)), core.StagePlanned, false},
		{"simple text error", testutil.NewTestTask("t", testutil.AtStage(core.StageErrorText)), core.StageIngested, false},
		{"finalization error", testutil.NewTestTask("t", testutil.AtStage(core.StageErrorFinalization)), core.StageTextSaved, false},
		{"stuck generating", testutil.NewTestTask("t", testutil.AtStage(core.StageGeneratingText)), core.StageIngested, false},
		{"stuck paused", testutil.NewTestTask("t", testutil.AtStage(core.StagePausedIngestion)), core.StagePendingIngestion, false},
		{"pending", testutil.NewTestTask("t"), "", true},
		{"completed", testutil.NewTestTask("t", testutil.AtStage(core.StageCompleted)), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.task.ErrorMessage = "earlier failure"
			h := newHarness(t, tt.task)

			got, err := h.pipeline().Retry(t.Context(), "t")

			if tt.fails {
				assert.True(t, core.IsCategory(err, core.ErrCatState))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Stage)
			assert.Empty(t, h.task("t").ErrorMessage)
			assert.Equal(t, tt.want, h.task("t").Stage)
		})
	}
}

func TestRetry_ResumableTaskIsLeftAlone(t *testing.T) {
	h := newHarness(t, testutil.NewTestTask("deep", testutil.Deep(), testutil.AtStage(core.StagePlanned),
		testutil.WithSubtopics(subs(2)...)))
	scriptSections(h)
	require.Equal(t, OutcomePaused, h.invoke(core.PhaseRawText).Outcome)

	_, err := h.pipeline().Retry(t.Context(), "deep")

	assert.True(t, core.IsCategory(err, core.ErrCatState))
	assert.Equal(t, core.StagePausedText, h.task("deep").Stage)
	assert.True(t, h.checkpoints.Has(core.PhaseRawText, "deep"))
}

func TestRetry_FailedTaskRunsAgain(t *testing.T) {
	h := newHarness(t, testutil.NewTestTask("s", testutil.AtStage(core.StageIngested)))
	h.gen.QueueError(core.PurposeWhole, core.ErrNetwork("offline"))
	h.gen.Queue(core.PurposeWhole, "Recovered text.")
	require.Equal(t, OutcomeFailed, h.invoke(core.PhaseRawText).Outcome)

	_, err := h.pipeline().Retry(t.Context(), "s")
	require.NoError(t, err)

	// Retry is an operator override of the forward-only stage order, so
	// the harness monotonicity check does not apply here.
	rep, err := h.pipeline().Invoke(t.Context(), core.PhaseRawText)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, rep.Outcome)
	assert.Equal(t, core.StageTextSaved, h.task("s").Stage)
}
