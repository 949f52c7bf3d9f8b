package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one notification.
const DefaultDebounce = 500 * time.Millisecond

// InboxWatcher reports when items land in the inbox. It watches the inbox
// root and each task directory under it.
type InboxWatcher struct {
	inbox    string
	debounce time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	watchedDirs map[string]bool
	timer       *time.Timer
}

// NewInboxWatcher creates a watcher for the inbox directory.
func NewInboxWatcher(inbox string, debounce time.Duration, logger *slog.Logger) *InboxWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InboxWatcher{
		inbox:       inbox,
		debounce:    debounce,
		logger:      logger,
		watchedDirs: make(map[string]bool),
	}
}

// Run watches until ctx is cancelled, calling onChange after each debounced
// burst of create, write or rename events.
func (w *InboxWatcher) Run(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(w.inbox, 0o750); err != nil {
		return fmt.Errorf("creating inbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	w.addWatch(watcher, w.inbox)
	entries, err := os.ReadDir(w.inbox)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				w.addWatch(watcher, filepath.Join(w.inbox, e.Name()))
			}
		}
	}

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 && filepath.Dir(event.Name) == filepath.Clean(w.inbox) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addWatch(watcher, event.Name)
				}
			}
			w.schedule(onChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watcher error", "error", err)
		}
	}
}

func (w *InboxWatcher) schedule(onChange func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, onChange)
}

func (w *InboxWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *InboxWatcher) addWatch(watcher *fsnotify.Watcher, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watchedDirs[path] {
		return
	}
	if err := watcher.Add(path); err != nil {
		w.logger.Warn("cannot watch inbox directory", "path", path, "error", err)
		return
	}
	w.watchedDirs[path] = true
}
