package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/testutil"
)

func TestCheckpoint_RoundTrip(t *testing.T) {
	in := &rawState{
		Prompt:        "Explain <tides> & currents",
		Mode:          core.ModeDeep,
		Subtopics:     subs(3),
		LastCompleted: 1,
		Accumulated:   appendSection("", "Part A", "Körper"),
	}

	blob, err := encodeCheckpoint(core.PhaseRawText, "t1", in, testutil.Epoch)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(blob, &env))
	assert.Equal(t, core.PhaseRawText, env.Phase)
	assert.Equal(t, core.TaskID("t1"), env.TaskID)
	assert.Equal(t, checkpointVersion, env.Version)
	assert.Equal(t, testutil.Epoch, env.SavedAt)

	out, err := decodeCheckpoint[rawState](blob, core.PhaseRawText, "t1")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCheckpoint_RejectsMismatch(t *testing.T) {
	good, err := encodeCheckpoint(core.PhaseIngestion, "t1", &ingestState{Prompt: "p"}, testutil.Epoch)
	require.NoError(t, err)

	tamper := func(fn func(m map[string]any)) []byte {
		var m map[string]any
		require.NoError(t, json.Unmarshal(good, &m))
		fn(m)
		b, err := json.Marshal(m)
		require.NoError(t, err)
		return b
	}

	tests := []struct {
		name  string
		blob  []byte
		phase core.Phase
		id    core.TaskID
	}{
		{"garbage", []byte("not json"), core.PhaseIngestion, "t1"},
		{"other phase", good, core.PhaseRawText, "t1"},
		{"other task", good, core.PhaseIngestion, "t2"},
		{"version", tamper(func(m map[string]any) { m["version"] = 2 }), core.PhaseIngestion, "t1"},
		{"checksum", tamper(func(m map[string]any) {
			m["state"].(map[string]any)["total_chars"] = 99
		}), core.PhaseIngestion, "t1"},
		{"no state", tamper(func(m map[string]any) { delete(m, "state") }), core.PhaseIngestion, "t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeCheckpoint[ingestState](tt.blob, tt.phase, tt.id)
			require.Error(t, err)
			var de *core.DomainError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, core.CodeCheckpointShape, de.Code)
			assert.True(t, core.IsCategory(err, core.ErrCatState))
		})
	}
}

func TestCheckpoint_RejectsUnknownStateFields(t *testing.T) {
	blob, err := encodeCheckpoint(core.PhaseRawText, "t1", &ingestState{Prompt: "p"}, testutil.Epoch)
	require.NoError(t, err)

	_, err = decodeCheckpoint[rawState](blob, core.PhaseRawText, "t1")

	assert.Error(t, err)
}
