package state

import (
	"context"
	"fmt"
	"time"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// ScheduleOnce records a continuation due after delay.
func (s *SQLiteStore) ScheduleOnce(ctx context.Context, entryPoint string, delay time.Duration) error {
	if entryPoint == "" {
		return core.ErrValidation("EMPTY_ENTRY_POINT", "entry point is required")
	}
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := s.now().Add(delay).UnixMilli()
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO continuations (entry_point, due_at, created_at) VALUES (?, ?, ?)",
		entryPoint, due, s.timestamp()); err != nil {
		return fmt.Errorf("scheduling %s: %w", entryPoint, err)
	}
	return nil
}

// Due returns the continuations whose due time is at or before now, oldest
// first.
func (s *SQLiteStore) Due(ctx context.Context, now time.Time) ([]core.Continuation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, entry_point, due_at FROM continuations WHERE due_at <= ? ORDER BY due_at, id",
		now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying continuations: %w", err)
	}
	defer rows.Close()

	var out []core.Continuation
	for rows.Next() {
		var c core.Continuation
		var dueMillis int64
		if err := rows.Scan(&c.ID, &c.EntryPoint, &dueMillis); err != nil {
			return nil, fmt.Errorf("scanning continuation: %w", err)
		}
		c.DueAt = time.UnixMilli(dueMillis)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Ack removes a delivered continuation.
func (s *SQLiteStore) Ack(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM continuations WHERE id = ?", id); err != nil {
		return fmt.Errorf("acknowledging continuation %d: %w", id, err)
	}
	return nil
}

// Pending counts continuations not yet delivered.
func (s *SQLiteStore) Pending(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM continuations").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting continuations: %w", err)
	}
	return n, nil
}

var _ core.ContinuationQueue = (*SQLiteStore)(nil)
