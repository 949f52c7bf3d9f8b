package state

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// Options selects and locates the state backend.
type Options struct {
	Backend string // sqlite or json
	Path    string // sqlite database path
	Dir     string // json backend directory
}

// Stores bundles the durable collaborators produced by one backend.
type Stores struct {
	Ledger      core.TaskLedger
	Checkpoints core.CheckpointStore
	// Queue is nil for backends without durable continuations.
	Queue core.ContinuationQueue
	// SQLite is set when the sqlite backend is in use.
	SQLite *SQLiteStore
	close  func() error
}

// Open creates the stores for the configured backend.
func Open(opts Options) (*Stores, error) {
	switch opts.Backend {
	case core.StateBackendSQLite, "":
		db, err := NewSQLiteStore(opts.Path)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Ledger:      db,
			Checkpoints: db.CheckpointStore(),
			Queue:       db,
			SQLite:      db,
			close:       db.Close,
		}, nil
	case core.StateBackendJSON:
		js, err := NewJSONStore(opts.Dir)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Ledger:      js,
			Checkpoints: js.CheckpointStore(),
			close:       func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
	}
}

// Close releases backend resources.
func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}
