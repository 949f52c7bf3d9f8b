package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// MemoryLedger is an in-memory TaskLedger that records every stage a task
// passes through.
type MemoryLedger struct {
	mu      sync.Mutex
	order   []core.TaskID
	tasks   map[core.TaskID]*core.Task
	history map[core.TaskID][]core.Stage
	writes  int

	// FailWrite, when set, is returned by Write.
	FailWrite error
}

// NewMemoryLedger creates a ledger holding the given tasks in order.
func NewMemoryLedger(tasks ...*core.Task) *MemoryLedger {
	l := &MemoryLedger{
		tasks:   make(map[core.TaskID]*core.Task),
		history: make(map[core.TaskID][]core.Stage),
	}
	for _, t := range tasks {
		l.order = append(l.order, t.ID)
		l.tasks[t.ID] = t.Clone()
		l.history[t.ID] = []core.Stage{t.Stage}
	}
	return l
}

// Scan returns copies of every task in ledger order.
func (l *MemoryLedger) Scan(_ context.Context) ([]*core.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*core.Task, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.tasks[id].Clone())
	}
	return out, nil
}

// Get returns a copy of one task.
func (l *MemoryLedger) Get(_ context.Context, id core.TaskID) (*core.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.tasks[id]
	if !ok {
		return nil, core.ErrNotFound("task", string(id))
	}
	return t.Clone(), nil
}

// Create appends a task.
func (l *MemoryLedger) Create(_ context.Context, task *core.Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tasks[task.ID]; ok {
		return core.ErrValidation("TASK_EXISTS", fmt.Sprintf("task %s already exists", task.ID))
	}
	l.order = append(l.order, task.ID)
	l.tasks[task.ID] = task.Clone()
	l.history[task.ID] = []core.Stage{task.Stage}
	return nil
}

// Write applies a patch.
func (l *MemoryLedger) Write(_ context.Context, id core.TaskID, patch core.TaskPatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailWrite != nil {
		return l.FailWrite
	}
	t, ok := l.tasks[id]
	if !ok {
		return core.ErrNotFound("task", string(id))
	}
	l.writes++
	t.Apply(patch)
	if patch.Stage != nil {
		l.history[id] = append(l.history[id], *patch.Stage)
	}
	return nil
}

// Task returns a copy of one task, or nil.
func (l *MemoryLedger) Task(id core.TaskID) *core.Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tasks[id].Clone()
}

// History returns every stage written for a task, starting with the
// stage it was created with.
func (l *MemoryLedger) History(id core.TaskID) []core.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]core.Stage(nil), l.history[id]...)
}

// Writes counts successful Write calls.
func (l *MemoryLedger) Writes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

// MemoryCheckpoints is an in-memory CheckpointStore.
type MemoryCheckpoints struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	writes int

	// FailSet, when set, is returned by Set.
	FailSet error
}

// NewMemoryCheckpoints creates an empty checkpoint store.
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{blobs: make(map[string][]byte)}
}

// Get returns a blob or nil.
func (c *MemoryCheckpoints) Get(_ context.Context, phase core.Phase, id core.TaskID) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blobs[core.CheckpointKey(phase, id)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), b...), nil
}

// Set stores a blob.
func (c *MemoryCheckpoints) Set(_ context.Context, phase core.Phase, id core.TaskID, blob []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailSet != nil {
		return c.FailSet
	}
	c.writes++
	c.blobs[core.CheckpointKey(phase, id)] = append([]byte(nil), blob...)
	return nil
}

// Delete removes a blob.
func (c *MemoryCheckpoints) Delete(_ context.Context, phase core.Phase, id core.TaskID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := core.CheckpointKey(phase, id)
	if _, ok := c.blobs[key]; ok {
		c.writes++
		delete(c.blobs, key)
	}
	return nil
}

// ListKeys returns sorted keys with the prefix.
func (c *MemoryCheckpoints) ListKeys(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []string
	for k := range c.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Has reports whether a checkpoint exists.
func (c *MemoryCheckpoints) Has(phase core.Phase, id core.TaskID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blobs[core.CheckpointKey(phase, id)]
	return ok
}

// Put stores a raw blob without counting it as a write.
func (c *MemoryCheckpoints) Put(phase core.Phase, id core.TaskID, blob []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[core.CheckpointKey(phase, id)] = append([]byte(nil), blob...)
}

// Writes counts Set and effective Delete calls.
func (c *MemoryCheckpoints) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// FakeLock is a Lock whose availability is controlled by the test.
type FakeLock struct {
	mu       sync.Mutex
	held     bool
	busy     bool
	acquires int
	releases int
}

// NewFakeLock creates a free lock.
func NewFakeLock() *FakeLock {
	return &FakeLock{}
}

// SetBusy makes every TryAcquire fail as if another process held the lock.
func (l *FakeLock) SetBusy(busy bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.busy = busy
}

// TryAcquire takes the lock unless it is held or busy.
func (l *FakeLock) TryAcquire(_ context.Context, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy || l.held {
		return false, nil
	}
	l.held = true
	l.acquires++
	return true, nil
}

// Release frees the lock.
func (l *FakeLock) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		return errors.New("lock not held")
	}
	l.held = false
	l.releases++
	return nil
}

// Held reports whether the lock is currently held.
func (l *FakeLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Counts returns the number of successful acquires and releases.
func (l *FakeLock) Counts() (acquires, releases int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires, l.releases
}

// ScheduledCall is one recorded ScheduleOnce.
type ScheduledCall struct {
	EntryPoint string
	Delay      time.Duration
}

// RecordingScheduler records continuations without firing them.
type RecordingScheduler struct {
	mu    sync.Mutex
	calls []ScheduledCall
	Err   error
}

// NewRecordingScheduler creates a scheduler with no calls recorded.
func NewRecordingScheduler() *RecordingScheduler {
	return &RecordingScheduler{}
}

// ScheduleOnce records the request.
func (s *RecordingScheduler) ScheduleOnce(_ context.Context, entryPoint string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.calls = append(s.calls, ScheduledCall{EntryPoint: entryPoint, Delay: delay})
	return nil
}

// Calls returns the recorded requests.
func (s *RecordingScheduler) Calls() []ScheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScheduledCall(nil), s.calls...)
}

// MemoryDocument is one stored document.
type MemoryDocument struct {
	Title    string
	Name     string
	Content  string
	Location string
}

// MemoryDocStore is an in-memory DocumentStore.
type MemoryDocStore struct {
	mu   sync.Mutex
	seq  int
	docs map[string]*MemoryDocument

	FailCreate error
	FailMove   error
	FailRename error
}

// NewMemoryDocStore creates an empty document store.
func NewMemoryDocStore() *MemoryDocStore {
	return &MemoryDocStore{docs: make(map[string]*MemoryDocument)}
}

// Create stores content and returns a sequential ref.
func (s *MemoryDocStore) Create(_ context.Context, title, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return "", s.FailCreate
	}
	s.seq++
	ref := fmt.Sprintf("doc-%03d", s.seq)
	s.docs[ref] = &MemoryDocument{Title: title, Name: title, Content: content, Location: "created"}
	return ref, nil
}

// Move changes a document's location.
func (s *MemoryDocStore) Move(_ context.Context, ref, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailMove != nil {
		return s.FailMove
	}
	d, ok := s.docs[ref]
	if !ok {
		return core.ErrNotFound("document", ref)
	}
	d.Location = location
	return nil
}

// Read returns a document's content.
func (s *MemoryDocStore) Read(_ context.Context, ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[ref]
	if !ok {
		return "", core.ErrNotFound("document", ref)
	}
	return d.Content, nil
}

// Rename changes a document's display name.
func (s *MemoryDocStore) Rename(_ context.Context, ref, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailRename != nil {
		return s.FailRename
	}
	d, ok := s.docs[ref]
	if !ok {
		return core.ErrNotFound("document", ref)
	}
	d.Name = name
	return nil
}

// Put stores a document under a fixed ref.
func (s *MemoryDocStore) Put(ref, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[ref] = &MemoryDocument{Title: ref, Name: ref, Content: content, Location: "created"}
}

// Doc returns a copy of a stored document, or nil.
func (s *MemoryDocStore) Doc(ref string) *MemoryDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[ref]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// CountTitled counts documents created with the given title.
func (s *MemoryDocStore) CountTitled(title string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.docs {
		if d.Title == title {
			n++
		}
	}
	return n
}

// Len returns the number of stored documents.
func (s *MemoryDocStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

var (
	_ core.TaskLedger      = (*MemoryLedger)(nil)
	_ core.CheckpointStore = (*MemoryCheckpoints)(nil)
	_ core.Lock            = (*FakeLock)(nil)
	_ core.Scheduler       = (*RecordingScheduler)(nil)
	_ core.DocumentStore   = (*MemoryDocStore)(nil)
)
