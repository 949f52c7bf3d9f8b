package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// CheckpointStore returns a view of the store satisfying core.CheckpointStore.
// The ledger and checkpoint interfaces both declare Get, so they cannot be
// implemented by the same method set.
func (s *SQLiteStore) CheckpointStore() core.CheckpointStore {
	return sqliteCheckpoints{s}
}

type sqliteCheckpoints struct {
	s *SQLiteStore
}

func (c sqliteCheckpoints) Get(ctx context.Context, phase core.Phase, id core.TaskID) ([]byte, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	var blob []byte
	err := c.s.db.QueryRowContext(ctx,
		"SELECT blob FROM checkpoints WHERE key = ?", core.CheckpointKey(phase, id)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", core.CheckpointKey(phase, id), err)
	}
	return blob, nil
}

func (c sqliteCheckpoints) Set(ctx context.Context, phase core.Phase, id core.TaskID, blob []byte) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	_, err := c.s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (key, phase, task_id, blob, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			blob = excluded.blob,
			updated_at = excluded.updated_at
	`, core.CheckpointKey(phase, id), string(phase), string(id), blob, c.s.timestamp())
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", core.CheckpointKey(phase, id), err)
	}
	return nil
}

func (c sqliteCheckpoints) Delete(ctx context.Context, phase core.Phase, id core.TaskID) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, err := c.s.db.ExecContext(ctx,
		"DELETE FROM checkpoints WHERE key = ?", core.CheckpointKey(phase, id)); err != nil {
		return fmt.Errorf("deleting checkpoint %s: %w", core.CheckpointKey(phase, id), err)
	}
	return nil
}

func (c sqliteCheckpoints) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()

	rows, err := c.s.db.QueryContext(ctx,
		"SELECT key FROM checkpoints WHERE substr(key, 1, ?) = ? ORDER BY key", len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning checkpoint key: %w", err)
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

var _ core.CheckpointStore = sqliteCheckpoints{}
