package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/fsutil"
)

const ledgerVersion = 1

// JSONStore keeps the ledger in an indented, hand-editable tasks.json and
// each checkpoint in its own file under checkpoints/<phase>/.
type JSONStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// JSONStoreOption configures the store.
type JSONStoreOption func(*JSONStore)

// WithJSONClock overrides the clock used for timestamps.
func WithJSONClock(now func() time.Time) JSONStoreOption {
	return func(s *JSONStore) {
		s.now = now
	}
}

// NewJSONStore creates a store rooted at dir.
func NewJSONStore(dir string, opts ...JSONStoreOption) (*JSONStore, error) {
	s := &JSONStore{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Join(dir, "checkpoints"), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return s, nil
}

// LedgerPath returns the path of the tasks file.
func (s *JSONStore) LedgerPath() string {
	return filepath.Join(s.dir, "tasks.json")
}

type ledgerFile struct {
	Version int        `json:"version"`
	Tasks   []jsonTask `json:"tasks"`
}

type jsonTask struct {
	ID           string          `json:"id"`
	Stage        string          `json:"stage"`
	Mode         string          `json:"mode"`
	Prompt       string          `json:"prompt"`
	MaxSubtopics int             `json:"max_subtopics,omitempty"`
	Source       string          `json:"source,omitempty"`
	FileRefs     []string        `json:"file_refs,omitempty"`
	Subtopics    json.RawMessage `json:"subtopics,omitempty"`
	OutputRef    string          `json:"output_ref,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Notes        []string        `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toJSONTask(t *core.Task) jsonTask {
	jt := jsonTask{
		ID:           string(t.ID),
		Stage:        string(t.Stage),
		Mode:         string(t.Mode),
		Prompt:       t.Prompt,
		MaxSubtopics: t.MaxSubtopics,
		Source:       t.Source,
		FileRefs:     t.FileRefs,
		OutputRef:    t.OutputRef,
		ErrorMessage: t.ErrorMessage,
		Notes:        t.Notes,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if raw := strings.TrimSpace(t.SubtopicsRaw); raw != "" {
		if json.Valid([]byte(raw)) {
			jt.Subtopics = json.RawMessage(raw)
		} else {
			// Keep hand-edited garbage as a string so the file stays loadable.
			quoted, _ := json.Marshal(raw)
			jt.Subtopics = quoted
		}
	}
	return jt
}

func (jt jsonTask) toTask() *core.Task {
	t := &core.Task{
		ID:           core.TaskID(jt.ID),
		Stage:        core.Stage(jt.Stage),
		Mode:         core.Mode(jt.Mode),
		Prompt:       jt.Prompt,
		MaxSubtopics: jt.MaxSubtopics,
		Source:       jt.Source,
		FileRefs:     jt.FileRefs,
		OutputRef:    jt.OutputRef,
		ErrorMessage: jt.ErrorMessage,
		Notes:        jt.Notes,
		CreatedAt:    jt.CreatedAt,
		UpdatedAt:    jt.UpdatedAt,
	}
	if len(jt.Subtopics) > 0 {
		var s string
		if err := json.Unmarshal(jt.Subtopics, &s); err == nil {
			t.SubtopicsRaw = s
		} else {
			t.SubtopicsRaw = string(jt.Subtopics)
		}
	}
	return t
}

func (s *JSONStore) readLedger() (*ledgerFile, error) {
	data, err := fsutil.ReadFileScoped(s.LedgerPath())
	if errors.Is(err, os.ErrNotExist) {
		return &ledgerFile{Version: ledgerVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "tasks.json is not valid JSON").WithCause(err)
	}
	return &lf, nil
}

func (s *JSONStore) writeLedger(lf *ledgerFile) error {
	lf.Version = ledgerVersion
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling ledger: %w", err)
	}
	return fsutil.WriteFileAtomic(s.LedgerPath(), append(data, '\n'), 0o600)
}

// Scan returns every task in file order.
func (s *JSONStore) Scan(_ context.Context) ([]*core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := s.readLedger()
	if err != nil {
		return nil, err
	}
	tasks := make([]*core.Task, 0, len(lf.Tasks))
	for _, jt := range lf.Tasks {
		tasks = append(tasks, jt.toTask())
	}
	return tasks, nil
}

// Get returns one task.
func (s *JSONStore) Get(_ context.Context, id core.TaskID) (*core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := s.readLedger()
	if err != nil {
		return nil, err
	}
	for _, jt := range lf.Tasks {
		if jt.ID == string(id) {
			return jt.toTask(), nil
		}
	}
	return nil, core.ErrNotFound("task", string(id))
}

// Create appends a task to the ledger.
func (s *JSONStore) Create(_ context.Context, task *core.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := s.readLedger()
	if err != nil {
		return err
	}
	for _, jt := range lf.Tasks {
		if jt.ID == string(task.ID) {
			return core.ErrValidation("TASK_EXISTS", fmt.Sprintf("task %s already exists", task.ID))
		}
	}
	row := task.Clone()
	row.CreatedAt = s.now().UTC()
	row.UpdatedAt = row.CreatedAt
	lf.Tasks = append(lf.Tasks, toJSONTask(row))
	return s.writeLedger(lf)
}

// Write applies a patch to one row.
func (s *JSONStore) Write(_ context.Context, id core.TaskID, patch core.TaskPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lf, err := s.readLedger()
	if err != nil {
		return err
	}
	for i, jt := range lf.Tasks {
		if jt.ID != string(id) {
			continue
		}
		t := jt.toTask()
		t.Apply(patch)
		t.UpdatedAt = s.now().UTC()
		lf.Tasks[i] = toJSONTask(t)
		return s.writeLedger(lf)
	}
	return core.ErrNotFound("task", string(id))
}

// CheckpointStore returns the file-backed checkpoint view of the store.
func (s *JSONStore) CheckpointStore() core.CheckpointStore {
	return jsonCheckpoints{s}
}

type jsonCheckpoints struct {
	s *JSONStore
}

func (c jsonCheckpoints) path(phase core.Phase, id core.TaskID) (string, error) {
	if !core.ValidPhase(phase) {
		return "", fmt.Errorf("invalid phase %q", phase)
	}
	if !core.ValidTaskID(id) {
		return "", fmt.Errorf("invalid task id %q", id)
	}
	return filepath.Join(c.s.dir, "checkpoints", string(phase), string(id)+".json"), nil
}

func (c jsonCheckpoints) Get(_ context.Context, phase core.Phase, id core.TaskID) ([]byte, error) {
	p, err := c.path(phase, id)
	if err != nil {
		return nil, err
	}
	data, err := fsutil.ReadFileScoped(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	return data, nil
}

func (c jsonCheckpoints) Set(_ context.Context, phase core.Phase, id core.TaskID, blob []byte) error {
	p, err := c.path(phase, id)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(p, blob, 0o600)
}

func (c jsonCheckpoints) Delete(_ context.Context, phase core.Phase, id core.TaskID) error {
	p, err := c.path(phase, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting checkpoint: %w", err)
	}
	return nil
}

func (c jsonCheckpoints) ListKeys(_ context.Context, prefix string) ([]string, error) {
	root := filepath.Join(c.s.dir, "checkpoints")
	phases, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}

	var keys []string
	for _, ph := range phases {
		if !ph.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(root, ph.Name()))
		if err != nil {
			return nil, fmt.Errorf("listing checkpoints: %w", err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".json") {
				continue
			}
			key := core.CheckpointKey(core.Phase(ph.Name()), core.TaskID(strings.TrimSuffix(name, ".json")))
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var (
	_ core.TaskLedger      = (*JSONStore)(nil)
	_ core.CheckpointStore = jsonCheckpoints{}
)
