package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// CrashDump contains all information captured for a recovered panic.
type CrashDump struct {
	// Metadata
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	// Panic information
	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace,omitempty"`

	// Execution context
	Phase  string `json:"phase,omitempty"`
	TaskID string `json:"task_id,omitempty"`

	// Process state at crash
	ResourceState ResourceSnapshot `json:"resource_state"`
}

// CrashDumpWriter persists crash dumps and prunes old ones.
type CrashDumpWriter struct {
	dir      string
	maxFiles int
	logger   *slog.Logger
	monitor  *ResourceMonitor

	mu sync.Mutex // Protects file operations
}

// NewCrashDumpWriter creates a crash dump writer. The monitor is optional.
func NewCrashDumpWriter(dir string, maxFiles int, logger *slog.Logger, monitor *ResourceMonitor) *CrashDumpWriter {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if dir == "" {
		dir = ".docforge/crashdumps"
	}
	if monitor == nil {
		monitor = NewResourceMonitor(0, 1, nil)
	}
	return &CrashDumpWriter{
		dir:      dir,
		maxFiles: maxFiles,
		logger:   logger,
		monitor:  monitor,
	}
}

// Dir returns the dump directory.
func (w *CrashDumpWriter) Dir() string {
	return w.dir
}

// WriteCrashDump records a panic recovered while a phase worked on a task.
func (w *CrashDumpWriter) WriteCrashDump(phase, taskID string, panicValue any, stack []byte) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dump := CrashDump{
		Timestamp:     time.Now().UTC(),
		ProcessID:     os.Getpid(),
		GoVersion:     runtime.Version(),
		GOOS:          runtime.GOOS,
		GOARCH:        runtime.GOARCH,
		PanicValue:    fmt.Sprintf("%v", panicValue),
		StackTrace:    string(stack),
		Phase:         phase,
		TaskID:        taskID,
		ResourceState: w.monitor.TakeSnapshot(),
	}

	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("creating crash dump dir: %w", err)
	}

	filename := fmt.Sprintf("crash-%s.json", dump.Timestamp.Format("2006-01-02T15-04-05.000000000"))
	path := filepath.Join(w.dir, filename)

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}

	_ = w.cleanupOldDumps()

	if w.logger != nil {
		w.logger.Error("crash dump written", "path", path, "phase", phase, "task_id", taskID, "panic", dump.PanicValue)
	}
	return path, nil
}

// cleanupOldDumps removes crash dumps exceeding maxFiles.
func (w *CrashDumpWriter) cleanupOldDumps() error {
	dumps, err := listDumps(w.dir)
	if err != nil {
		return err
	}
	for len(dumps) > w.maxFiles {
		path := filepath.Join(w.dir, dumps[0])
		if err := os.Remove(path); err != nil && w.logger != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		dumps = dumps[1:]
	}
	return nil
}

// listDumps returns dump file names oldest first. Names embed the
// timestamp, so lexical order is chronological.
func listDumps(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "crash-") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadLatestCrashDump loads the most recent crash dump from the directory.
func LoadLatestCrashDump(dir string) (*CrashDump, error) {
	dumps, err := listDumps(dir)
	if err != nil {
		return nil, fmt.Errorf("reading crash dump dir: %w", err)
	}
	if len(dumps) == 0 {
		return nil, fmt.Errorf("no crash dumps found")
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("opening crash dump dir: %w", err)
	}
	defer func() { _ = root.Close() }()

	data, err := root.ReadFile(dumps[len(dumps)-1])
	if err != nil {
		return nil, fmt.Errorf("reading crash dump: %w", err)
	}

	var dump CrashDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, fmt.Errorf("parsing crash dump: %w", err)
	}
	return &dump, nil
}
