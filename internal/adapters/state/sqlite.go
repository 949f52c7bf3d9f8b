// Package state implements the durable collaborators of the pipeline: the
// task ledger, the checkpoint store, the continuation queue and the
// process lock.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore keeps the ledger, checkpoints and continuations in one WAL
// database.
type SQLiteStore struct {
	dbPath     string
	backupPath string
	db         *sql.DB
	mu         sync.RWMutex
	now        func() time.Time
}

// SQLiteStoreOption configures the store.
type SQLiteStoreOption func(*SQLiteStore)

// WithSQLiteBackupPath sets the backup file path.
func WithSQLiteBackupPath(path string) SQLiteStoreOption {
	return func(s *SQLiteStore) {
		s.backupPath = path
	}
}

// WithSQLiteClock overrides the clock used for timestamps and due times.
func WithSQLiteClock(now func() time.Time) SQLiteStoreOption {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dbPath:     dbPath,
		backupPath: dbPath + ".bak",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// busy_timeout lets a cron-driven `docforge tick` wait for a running
	// `docforge serve` instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet.
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Backup writes a consistent copy of the database next to it.
func (s *SQLiteStore) Backup(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.backupPath); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("removing previous backup: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", s.backupPath); err != nil {
		return "", fmt.Errorf("backing up database: %w", err)
	}
	return s.backupPath, nil
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableJSON(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
