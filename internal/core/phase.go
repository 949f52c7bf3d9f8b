package core

import "fmt"

// Phase represents one runner of the document pipeline. The phase name is
// also the entry-point name used when scheduling continuations.
type Phase string

const (
	// PhaseIngestion pulls source items into the document store and records
	// their references on the task.
	PhaseIngestion Phase = "ingestion"

	// PhasePlanning splits a deep-mode goal into ordered sub-topics.
	// It runs as a single call and never pauses.
	PhasePlanning Phase = "planning"

	// PhaseRawText generates the accumulated raw text, one sub-topic per
	// invocation for deep-mode tasks.
	PhaseRawText Phase = "rawtext"

	// PhaseFinalization consolidates the raw text into the final document.
	PhaseFinalization Phase = "finalization"
)

// AllPhases returns all phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseIngestion, PhasePlanning, PhaseRawText, PhaseFinalization}
}

// PhaseOrder returns the numeric order of a phase (0-indexed).
func PhaseOrder(p Phase) int {
	switch p {
	case PhaseIngestion:
		return 0
	case PhasePlanning:
		return 1
	case PhaseRawText:
		return 2
	case PhaseFinalization:
		return 3
	default:
		return -1
	}
}

// NextPhase returns the phase following the given phase.
// Returns empty string if current phase is the last.
func NextPhase(p Phase) Phase {
	switch p {
	case PhaseIngestion:
		return PhasePlanning
	case PhasePlanning:
		return PhaseRawText
	case PhaseRawText:
		return PhaseFinalization
	default:
		return ""
	}
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	switch p {
	case PhaseIngestion, PhasePlanning, PhaseRawText, PhaseFinalization:
		return true
	default:
		return false
	}
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseIngestion:
		return "Ingest source items into the document store"
	case PhasePlanning:
		return "Plan the sub-topics of a deep-mode task"
	case PhaseRawText:
		return "Generate the raw text, one sub-topic per slice"
	case PhaseFinalization:
		return "Consolidate raw text into the final document"
	default:
		return "Unknown phase"
	}
}

// Stages returns the ledger stages owned by the phase.
func (p Phase) Stages() PhaseStages {
	return stagesByPhase[p]
}

// Accepts reports whether a task sitting at its current stage is a fresh
// candidate for this phase.
func (p Phase) Accepts(t *Task) bool {
	if t == nil {
		return false
	}
	switch p {
	case PhaseIngestion:
		return t.Stage == StagePendingIngestion
	case PhasePlanning:
		return t.Stage == StageIngested && t.Mode == ModeDeep
	case PhaseRawText:
		return t.Stage == StagePlanned || (t.Stage == StageIngested && t.Mode == ModeSimple)
	case PhaseFinalization:
		return t.Stage == StageTextSaved
	default:
		return false
	}
}
