package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

const taskColumns = `id, stage, mode, prompt, max_subtopics, source, file_refs, subtopics,
	output_ref, error_message, notes, created_at, updated_at`

// Scan returns every task in insertion order.
func (s *SQLiteStore) Scan(ctx context.Context) ([]*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// Get returns one task.
func (s *SQLiteStore) Get(ctx context.Context, id core.TaskID) (*core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", string(id))
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("task", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", id, err)
	}
	return task, nil
}

// Create inserts a new task row.
func (s *SQLiteStore) Create(ctx context.Context, task *core.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fileRefs, err := nullableJSON(task.FileRefs)
	if err != nil {
		return fmt.Errorf("marshaling file refs: %w", err)
	}
	notes, err := nullableJSON(task.Notes)
	if err != nil {
		return fmt.Errorf("marshaling notes: %w", err)
	}
	now := s.timestamp()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(task.ID), string(task.Stage), string(task.Mode), task.Prompt, task.MaxSubtopics,
		nullableString(task.Source), fileRefs, nullableString(task.SubtopicsRaw),
		nullableString(task.OutputRef), nullableString(task.ErrorMessage), notes,
		now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return core.ErrValidation("TASK_EXISTS", fmt.Sprintf("task %s already exists", task.ID))
		}
		return fmt.Errorf("inserting task %s: %w", task.ID, err)
	}
	return nil
}

// Write upserts the patched fields of one row.
func (s *SQLiteStore) Write(ctx context.Context, id core.TaskID, patch core.TaskPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var sets []string
	var args []any
	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Stage != nil {
		add("stage", string(*patch.Stage))
	}
	if patch.FileRefs != nil {
		v, err := nullableJSON(*patch.FileRefs)
		if err != nil {
			return fmt.Errorf("marshaling file refs: %w", err)
		}
		add("file_refs", v)
	}
	if patch.Subtopics != nil {
		add("subtopics", nullableString(*patch.Subtopics))
	}
	if patch.OutputRef != nil {
		add("output_ref", nullableString(*patch.OutputRef))
	}
	if patch.ErrorMessage != nil {
		add("error_message", nullableString(*patch.ErrorMessage))
	}
	if patch.Notes != nil {
		v, err := nullableJSON(*patch.Notes)
		if err != nil {
			return fmt.Errorf("marshaling notes: %w", err)
		}
		add("notes", v)
	}
	add("updated_at", s.timestamp())
	args = append(args, string(id))

	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating task %s: %w", id, err)
	}
	if n == 0 {
		return core.ErrNotFound("task", string(id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.Task, error) {
	var task core.Task
	var id, stage, mode, createdAt, updatedAt string
	var source, fileRefs, subtopics, outputRef, errorMessage, notes sql.NullString

	err := row.Scan(&id, &stage, &mode, &task.Prompt, &task.MaxSubtopics,
		&source, &fileRefs, &subtopics, &outputRef, &errorMessage, &notes,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.ID = core.TaskID(id)
	task.Stage = core.Stage(stage)
	task.Mode = core.Mode(mode)
	task.Source = source.String
	task.SubtopicsRaw = subtopics.String
	task.OutputRef = outputRef.String
	task.ErrorMessage = errorMessage.String
	task.CreatedAt = parseTimestamp(createdAt)
	task.UpdatedAt = parseTimestamp(updatedAt)

	if task.FileRefs, err = decodeList(fileRefs); err != nil {
		return nil, fmt.Errorf("unmarshaling file refs of %s: %w", id, err)
	}
	if task.Notes, err = decodeList(notes); err != nil {
		return nil, fmt.Errorf("unmarshaling notes of %s: %w", id, err)
	}
	return &task, nil
}

var _ core.TaskLedger = (*SQLiteStore)(nil)
