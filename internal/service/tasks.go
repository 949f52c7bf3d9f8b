package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// TaskRequest describes a task to add to the ledger.
type TaskRequest struct {
	ID           string `json:"id,omitempty" yaml:"id,omitempty"`
	Prompt       string `json:"prompt" yaml:"prompt"`
	Mode         string `json:"mode,omitempty" yaml:"mode,omitempty"`
	MaxSubtopics int    `json:"max_subtopics,omitempty" yaml:"max_subtopics,omitempty"`
	Source       string `json:"source,omitempty" yaml:"source,omitempty"`
}

// maxSlugLen bounds the readable part of generated task ids.
const maxSlugLen = 32

// NewTaskID derives a readable, unique id from a prompt: up to five words
// of the prompt followed by a short random suffix.
func NewTaskID(prompt string) core.TaskID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	var sb strings.Builder
	words := 0
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		word := asciiWord(w)
		if word == "" {
			continue
		}
		if sb.Len()+len(word)+1 > maxSlugLen {
			break
		}
		if sb.Len() > 0 {
			sb.WriteByte('-')
		}
		sb.WriteString(word)
		if words++; words == 5 {
			break
		}
	}
	if sb.Len() == 0 {
		return core.TaskID("task-" + suffix)
	}
	return core.TaskID(sb.String() + "-" + suffix)
}

func asciiWord(w string) string {
	var sb strings.Builder
	for _, r := range w {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// BuildTask validates a request and returns the ledger row it describes,
// waiting for ingestion. An empty mode means simple.
func BuildTask(req TaskRequest) (*core.Task, error) {
	mode := core.ModeSimple
	if strings.TrimSpace(req.Mode) != "" {
		m, err := core.ParseMode(req.Mode)
		if err != nil {
			return nil, err
		}
		mode = m
	}

	id := core.TaskID(strings.TrimSpace(req.ID))
	if id == "" {
		id = NewTaskID(req.Prompt)
	}

	task := core.NewTask(id, strings.TrimSpace(req.Prompt), mode).
		WithMaxSubtopics(req.MaxSubtopics).
		WithSource(strings.TrimSpace(req.Source))
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return task, nil
}

// CreateTask builds a task from req and inserts it into the ledger.
func CreateTask(ctx context.Context, ledger core.TaskLedger, req TaskRequest) (*core.Task, error) {
	task, err := BuildTask(req)
	if err != nil {
		return nil, err
	}
	if err := ledger.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task %s: %w", task.ID, err)
	}
	return task, nil
}

// taskFile is the document accepted by ParseTaskFile.
type taskFile struct {
	Tasks []TaskRequest `yaml:"tasks"`
}

// ParseTaskFile reads task requests from YAML, either a top-level list or
// a mapping with a "tasks" list. Every request is validated before any is
// returned.
func ParseTaskFile(data []byte) ([]TaskRequest, error) {
	var reqs []TaskRequest
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, core.ErrValidation("INVALID_TASK_FILE", "task file is not valid YAML").WithCause(err)
	}
	if len(node.Content) == 0 {
		return nil, core.ErrValidation("EMPTY_TASK_FILE", "task file contains no tasks")
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&reqs); err != nil {
			return nil, core.ErrValidation("INVALID_TASK_FILE", "decoding task list").WithCause(err)
		}
	case yaml.MappingNode:
		var f taskFile
		if err := root.Decode(&f); err != nil {
			return nil, core.ErrValidation("INVALID_TASK_FILE", "decoding task file").WithCause(err)
		}
		reqs = f.Tasks
	default:
		return nil, core.ErrValidation("INVALID_TASK_FILE", "task file must be a list or a mapping with a tasks key")
	}
	if len(reqs) == 0 {
		return nil, core.ErrValidation("EMPTY_TASK_FILE", "task file contains no tasks")
	}

	seen := make(map[string]int, len(reqs))
	for i, req := range reqs {
		if _, err := BuildTask(req); err != nil {
			return nil, fmt.Errorf("task %d: %w", i+1, err)
		}
		if req.ID == "" {
			continue
		}
		if j, dup := seen[req.ID]; dup {
			return nil, core.ErrValidation("DUPLICATE_TASK_ID",
				fmt.Sprintf("tasks %d and %d share id %q", j+1, i+1, req.ID))
		}
		seen[req.ID] = i
	}
	return reqs, nil
}
