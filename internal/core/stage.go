package core

import "fmt"

// Stage is the position of a task in the pipeline state machine, as
// stored in the ledger.
type Stage string

const (
	StagePendingIngestion Stage = "pending_ingestion"
	StageIngesting        Stage = "ingesting"
	StagePausedIngestion  Stage = "paused_ingestion"
	StageIngested         Stage = "ingested"
	StageErrorIngestion   Stage = "error_ingestion"

	StagePlanning      Stage = "planning"
	StagePlanned       Stage = "planned"
	StageErrorPlanning Stage = "error_planning"

	StageGeneratingText Stage = "generating_text"
	StagePausedText     Stage = "paused_text"
	StageTextSaved      Stage = "text_saved"
	StageErrorText      Stage = "error_text"

	StageConsolidating     Stage = "consolidating"
	StageFinalizing        Stage = "finalizing"
	StageCompleted         Stage = "completed"
	StageErrorFinalization Stage = "error_finalizing"
)

// PhaseStages groups the stages a phase reads and writes.
type PhaseStages struct {
	Active       Stage
	Paused       Stage // empty for phases that never pause
	Intermediate Stage // optional stage set mid-run
	Exit         Stage
	Error        Stage
}

var stagesByPhase = map[Phase]PhaseStages{
	PhaseIngestion: {
		Active: StageIngesting,
		Paused: StagePausedIngestion,
		Exit:   StageIngested,
		Error:  StageErrorIngestion,
	},
	PhasePlanning: {
		Active: StagePlanning,
		Exit:   StagePlanned,
		Error:  StageErrorPlanning,
	},
	PhaseRawText: {
		Active: StageGeneratingText,
		Paused: StagePausedText,
		Exit:   StageTextSaved,
		Error:  StageErrorText,
	},
	PhaseFinalization: {
		Active:       StageConsolidating,
		Intermediate: StageFinalizing,
		Exit:         StageCompleted,
		Error:        StageErrorFinalization,
	},
}

// Owns reports whether the stage is one of the phase's in-flight stages
// (active, paused or intermediate).
func (ps PhaseStages) Owns(s Stage) bool {
	if s == "" {
		return false
	}
	return s == ps.Active || s == ps.Paused || s == ps.Intermediate
}

// stageRank orders stages along the pipeline. Paused and active stages of
// the same phase share a rank.
var stageRank = map[Stage]int{
	StagePendingIngestion: 0,
	StageIngesting:        1,
	StagePausedIngestion:  1,
	StageIngested:         2,
	StagePlanning:         3,
	StagePlanned:          4,
	StageGeneratingText:   5,
	StagePausedText:       5,
	StageTextSaved:        6,
	StageConsolidating:    7,
	StageFinalizing:       8,
	StageCompleted:        9,
}

// errorRank places every error stage after all regular stages.
const errorRank = 100

// StageRank returns the pipeline order of a stage, or -1 if unknown.
func StageRank(s Stage) int {
	if s.IsError() {
		return errorRank
	}
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// ValidStage checks if a stage string is known.
func ValidStage(s Stage) bool {
	return StageRank(s) >= 0
}

// ParseStage converts a string to a Stage with validation.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !ValidStage(st) {
		return "", fmt.Errorf("invalid stage: %s", s)
	}
	return st, nil
}

// IsError reports whether the stage is an error stage.
func (s Stage) IsError() bool {
	switch s {
	case StageErrorIngestion, StageErrorPlanning, StageErrorText, StageErrorFinalization:
		return true
	default:
		return false
	}
}

// IsPaused reports whether the stage is a paused marker.
func (s Stage) IsPaused() bool {
	return s == StagePausedIngestion || s == StagePausedText
}

// IsTerminal reports whether no runner will pick the task up again.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s.IsError()
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// OwningPhase returns the phase that will act on a task next, given its
// current stage and mode. Error stages map to the phase that failed.
// Returns empty string for completed tasks and unknown stages.
func OwningPhase(s Stage, mode Mode) Phase {
	switch s {
	case StagePendingIngestion, StageIngesting, StagePausedIngestion, StageErrorIngestion:
		return PhaseIngestion
	case StageIngested:
		if mode == ModeDeep {
			return PhasePlanning
		}
		return PhaseRawText
	case StagePlanning, StageErrorPlanning:
		return PhasePlanning
	case StagePlanned, StageGeneratingText, StagePausedText, StageErrorText:
		return PhaseRawText
	case StageTextSaved, StageConsolidating, StageFinalizing, StageErrorFinalization:
		return PhaseFinalization
	default:
		return ""
	}
}

// EntryStage returns the stage a task must hold for the phase to pick it
// up fresh. Raw text for simple-mode tasks starts from StageIngested.
func EntryStage(p Phase, mode Mode) Stage {
	switch p {
	case PhaseIngestion:
		return StagePendingIngestion
	case PhasePlanning:
		return StageIngested
	case PhaseRawText:
		if mode == ModeSimple {
			return StageIngested
		}
		return StagePlanned
	case PhaseFinalization:
		return StageTextSaved
	default:
		return ""
	}
}

// ValidTransition reports whether moving from one stage to another keeps
// the pipeline monotonic: forward moves, paused to active toggles inside
// one phase, and any move into an error stage. Terminal stages absorb.
func ValidTransition(from, to Stage) bool {
	if from == to {
		return true
	}
	if from.IsTerminal() {
		return false
	}
	if to.IsError() {
		return true
	}
	fr, tr := StageRank(from), StageRank(to)
	if fr < 0 || tr < 0 {
		return false
	}
	return tr >= fr
}
