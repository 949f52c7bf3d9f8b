package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// TaskLedger is the durable, human-editable table of tasks.
type TaskLedger interface {
	// Scan returns every task in ledger order.
	Scan(ctx context.Context) ([]*Task, error)
	// Get returns one task, or an ErrNotFound domain error.
	Get(ctx context.Context, id TaskID) (*Task, error)
	// Create inserts a new task row.
	Create(ctx context.Context, task *Task) error
	// Write upserts the patched fields of one row. The change is visible to
	// subsequent reads immediately.
	Write(ctx context.Context, id TaskID, patch TaskPatch) error
}

// CheckpointStore is a durable key to JSON-blob map keyed by phase and task.
type CheckpointStore interface {
	// Get returns the blob, or nil if none exists.
	Get(ctx context.Context, phase Phase, id TaskID) ([]byte, error)
	Set(ctx context.Context, phase Phase, id TaskID, blob []byte) error
	// Delete removes the blob. Deleting a missing checkpoint is not an error.
	Delete(ctx context.Context, phase Phase, id TaskID) error
	// ListKeys returns the keys starting with prefix, sorted.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// CheckpointKey builds the composite key for a checkpoint.
func CheckpointKey(phase Phase, id TaskID) string {
	return string(phase) + "/" + string(id)
}

// CheckpointPrefix is the key prefix shared by every checkpoint of a phase.
func CheckpointPrefix(phase Phase) string {
	return string(phase) + "/"
}

// ParseCheckpointKey splits a composite checkpoint key.
func ParseCheckpointKey(key string) (Phase, TaskID, error) {
	phase, id, ok := strings.Cut(key, "/")
	if !ok || phase == "" || id == "" {
		return "", "", fmt.Errorf("invalid checkpoint key: %q", key)
	}
	return Phase(phase), TaskID(id), nil
}

// GenerateRequest is one call to the generation backend.
type GenerateRequest struct {
	Prompt string
	// ContextRefs are document-store references attached as context.
	ContextRefs []string
	Model       string
	// Purpose names the pipeline step making the call (plan, reflect,
	// section, whole, chunk, assemble, single_pass).
	Purpose string
}

// Generator is the stateless text generation client.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Scheduler registers one-shot continuations of an entry point.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, entryPoint string, delay time.Duration) error
}

// Continuation is a scheduled re-invocation of an entry point.
type Continuation struct {
	ID         int64
	EntryPoint string
	DueAt      time.Time
}

// ContinuationQueue is a durable Scheduler whose due entries are drained
// by a dispatcher or by `docforge tick`.
type ContinuationQueue interface {
	Scheduler
	Due(ctx context.Context, now time.Time) ([]Continuation, error)
	Ack(ctx context.Context, id int64) error
}

// Lock is the process-wide mutual-exclusion primitive shared by all runners.
type Lock interface {
	// TryAcquire waits up to timeout for the lock.
	TryAcquire(ctx context.Context, timeout time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// DocumentStore persists intermediate and final artifacts.
type DocumentStore interface {
	Create(ctx context.Context, title, content string) (string, error)
	Move(ctx context.Context, ref, location string) error
	Read(ctx context.Context, ref string) (string, error)
	Rename(ctx context.Context, ref, name string) error
}

// SourceItem is one entry of an ingestion source.
type SourceItem struct {
	Name string
	Size int64
	Path string
}

// IngestionSource enumerates the raw items feeding a task.
type IngestionSource interface {
	List(ctx context.Context, task *Task) ([]SourceItem, error)
	Open(ctx context.Context, item SourceItem) (io.ReadCloser, error)
}

// Extractor turns raw item bytes into text.
type Extractor interface {
	Extract(item SourceItem, data []byte) (string, error)
}
