package core

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// taskIDPattern keeps ids usable as file and URL path segments.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidTaskID reports whether id is a well-formed task id.
func ValidTaskID(id TaskID) bool {
	return taskIDPattern.MatchString(string(id))
}

// TaskID uniquely identifies a task in the ledger.
type TaskID string

// Mode selects how much structure the generation pipeline applies.
type Mode string

const (
	// ModeSimple generates the raw text in one call and skips planning.
	ModeSimple Mode = "simple"
	// ModeDeep plans sub-topics and generates one per raw-text slice.
	ModeDeep Mode = "deep"
)

// ParseMode converts a string to a Mode with validation.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSimple:
		return ModeSimple, nil
	case ModeDeep:
		return ModeDeep, nil
	default:
		return "", ErrValidation(CodeInvalidMode, fmt.Sprintf("invalid mode %q (want simple or deep)", s))
	}
}

// Subtopic is one planned section of a deep-mode task.
type Subtopic struct {
	Title   string `json:"title" yaml:"title"`
	Outline string `json:"outline" yaml:"outline"`
}

// Task is one ledger row.
type Task struct {
	ID           TaskID
	Stage        Stage
	Mode         Mode
	Prompt       string
	MaxSubtopics int
	// Source overrides the default inbox location for ingestion.
	Source   string
	FileRefs []string
	// SubtopicsRaw holds the planned sub-topics as JSON text. The ledger is
	// editable by hand, so it is parsed on use rather than on load.
	SubtopicsRaw string
	OutputRef    string
	ErrorMessage string
	Notes        []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewTask creates a task waiting for ingestion.
func NewTask(id TaskID, prompt string, mode Mode) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		Stage:     StagePendingIngestion,
		Mode:      mode,
		Prompt:    prompt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// WithMaxSubtopics caps the number of planned sub-topics (0 = unlimited).
func (t *Task) WithMaxSubtopics(n int) *Task {
	t.MaxSubtopics = n
	return t
}

// WithSource sets the ingestion source location.
func (t *Task) WithSource(src string) *Task {
	t.Source = src
	return t
}

// Subtopics parses the stored sub-topic list. An empty value yields an
// empty list; malformed JSON is a validation error.
func (t *Task) Subtopics() ([]Subtopic, error) {
	raw := strings.TrimSpace(t.SubtopicsRaw)
	if raw == "" {
		return nil, nil
	}
	var subs []Subtopic
	if err := json.Unmarshal([]byte(raw), &subs); err != nil {
		return nil, ErrValidation(CodeMalformedJSON,
			fmt.Sprintf("task %s: stored sub-topics are not valid JSON", t.ID)).WithCause(err)
	}
	for i, s := range subs {
		if strings.TrimSpace(s.Title) == "" {
			return nil, ErrValidation(CodeInvalidSubtopics,
				fmt.Sprintf("task %s: sub-topic %d has no title", t.ID, i))
		}
	}
	return subs, nil
}

// EncodeSubtopics renders sub-topics in the ledger representation.
func EncodeSubtopics(subs []Subtopic) (string, error) {
	if len(subs) == 0 {
		return "", nil
	}
	data, err := json.Marshal(subs)
	if err != nil {
		return "", fmt.Errorf("encoding sub-topics: %w", err)
	}
	return string(data), nil
}

// Validate checks task invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &DomainError{
			Category: ErrCatValidation,
			Code:     "TASK_ID_REQUIRED",
			Message:  "task ID cannot be empty",
		}
	}
	if !ValidTaskID(t.ID) {
		return ErrValidation("INVALID_TASK_ID",
			fmt.Sprintf("task ID %q must be alphanumeric with . _ or -", t.ID))
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return ErrValidation(CodeEmptyPrompt, fmt.Sprintf("task %s has no prompt", t.ID))
	}
	if len(t.Prompt) > MaxPromptLength {
		return ErrValidation(CodePromptTooLong,
			fmt.Sprintf("task %s prompt exceeds %d characters", t.ID, MaxPromptLength))
	}
	if t.Mode != ModeSimple && t.Mode != ModeDeep {
		return ErrValidation(CodeInvalidMode, fmt.Sprintf("task %s has invalid mode %q", t.ID, t.Mode))
	}
	if t.MaxSubtopics < 0 {
		return ErrValidation("INVALID_MAX_SUBTOPICS", "max sub-topics cannot be negative")
	}
	if !ValidStage(t.Stage) {
		return ErrValidation(CodeInvalidStage, fmt.Sprintf("task %s has unknown stage %q", t.ID, t.Stage))
	}
	return nil
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.FileRefs = append([]string(nil), t.FileRefs...)
	c.Notes = append([]string(nil), t.Notes...)
	return &c
}

// Apply copies every field set on the patch into the task.
func (t *Task) Apply(p TaskPatch) {
	if p.Stage != nil {
		t.Stage = *p.Stage
	}
	if p.FileRefs != nil {
		t.FileRefs = append([]string(nil), (*p.FileRefs)...)
	}
	if p.Subtopics != nil {
		t.SubtopicsRaw = *p.Subtopics
	}
	if p.OutputRef != nil {
		t.OutputRef = *p.OutputRef
	}
	if p.ErrorMessage != nil {
		t.ErrorMessage = *p.ErrorMessage
	}
	if p.Notes != nil {
		t.Notes = append([]string(nil), (*p.Notes)...)
	}
}

// TaskPatch names the fields to upsert on a ledger row. Nil fields are
// left unchanged.
type TaskPatch struct {
	Stage        *Stage
	FileRefs     *[]string
	Subtopics    *string
	OutputRef    *string
	ErrorMessage *string
	Notes        *[]string
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Stage == nil && p.FileRefs == nil && p.Subtopics == nil &&
		p.OutputRef == nil && p.ErrorMessage == nil && p.Notes == nil
}

// StagePatch is a patch that only moves the stage.
func StagePatch(s Stage) TaskPatch {
	return TaskPatch{Stage: &s}
}

// SetFileRefs sets the file references on the patch.
func (p TaskPatch) SetFileRefs(refs []string) TaskPatch {
	cp := append([]string{}, refs...)
	p.FileRefs = &cp
	return p
}

// SetSubtopics sets the raw sub-topic JSON on the patch.
func (p TaskPatch) SetSubtopics(raw string) TaskPatch {
	p.Subtopics = &raw
	return p
}

// SetOutputRef sets the output reference on the patch.
func (p TaskPatch) SetOutputRef(ref string) TaskPatch {
	p.OutputRef = &ref
	return p
}

// SetErrorMessage sets the error message on the patch.
func (p TaskPatch) SetErrorMessage(msg string) TaskPatch {
	p.ErrorMessage = &msg
	return p
}

// SetNotes sets the skip notes on the patch.
func (p TaskPatch) SetNotes(notes []string) TaskPatch {
	cp := append([]string{}, notes...)
	p.Notes = &cp
	return p
}

// TruncateMessage shortens an error message to at most limit runes.
func TruncateMessage(msg string, limit int) string {
	if limit <= 0 {
		return msg
	}
	r := []rune(msg)
	if len(r) <= limit {
		return msg
	}
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}
