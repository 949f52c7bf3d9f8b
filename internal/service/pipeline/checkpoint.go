package pipeline

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// checkpointVersion is bumped whenever a phase state struct changes shape.
const checkpointVersion = 1

// envelope wraps a phase state with enough metadata to reject checkpoints
// written for another phase, task or state layout.
type envelope struct {
	Phase    core.Phase      `json:"phase"`
	TaskID   core.TaskID     `json:"task_id"`
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	SavedAt  time.Time       `json:"saved_at"`
	State    json.RawMessage `json:"state"`
}

func checksum(state []byte) string {
	sum := sha256.Sum256(state)
	return hex.EncodeToString(sum[:])
}

// encodeCheckpoint renders a phase state as a checkpoint blob.
func encodeCheckpoint[S any](phase core.Phase, id core.TaskID, state *S, savedAt time.Time) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding %s state: %w", phase, err)
	}
	blob, err := json.Marshal(envelope{
		Phase:    phase,
		TaskID:   id,
		Version:  checkpointVersion,
		Checksum: checksum(raw),
		SavedAt:  savedAt.UTC(),
		State:    raw,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return blob, nil
}

// decodeCheckpoint validates a blob and decodes its state. Any mismatch is
// reported as a CheckpointShape state error.
func decodeCheckpoint[S any](blob []byte, phase core.Phase, id core.TaskID) (*S, error) {
	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, shapeError("checkpoint is not a JSON envelope").WithCause(err)
	}
	switch {
	case env.Phase != phase:
		return nil, shapeError(fmt.Sprintf("checkpoint belongs to phase %q", env.Phase))
	case env.TaskID != id:
		return nil, shapeError(fmt.Sprintf("checkpoint belongs to task %q", env.TaskID))
	case env.Version != checkpointVersion:
		return nil, shapeError(fmt.Sprintf("unsupported checkpoint version %d", env.Version))
	case len(env.State) == 0:
		return nil, shapeError("checkpoint has no state")
	case env.Checksum != checksum(env.State):
		return nil, shapeError("checkpoint checksum mismatch")
	}

	dec := json.NewDecoder(bytes.NewReader(env.State))
	dec.DisallowUnknownFields()
	var state S
	if err := dec.Decode(&state); err != nil {
		return nil, shapeError("checkpoint state does not match the phase").WithCause(err)
	}
	return &state, nil
}

func shapeError(msg string) *core.DomainError {
	return core.ErrState(core.CodeCheckpointShape, msg)
}
