// Package ingest lists and extracts the raw items that feed a task.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// DirSource reads items from a directory per task: Task.Source when set,
// otherwise <inbox>/<task-id>.
type DirSource struct {
	inbox string
}

// NewDirSource creates a source rooted at the inbox directory.
func NewDirSource(inbox string) *DirSource {
	return &DirSource{inbox: inbox}
}

// Inbox returns the inbox directory.
func (s *DirSource) Inbox() string {
	return s.inbox
}

// DirFor returns the directory holding a task's items.
func (s *DirSource) DirFor(task *core.Task) string {
	if task.Source != "" {
		return task.Source
	}
	return filepath.Join(s.inbox, string(task.ID))
}

// List returns the regular, non-hidden files of the task directory sorted
// by name. A missing directory yields no items.
func (s *DirSource) List(ctx context.Context, task *core.Task) ([]core.SourceItem, error) {
	dir := s.DirFor(task)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	items := make([]core.SourceItem, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, core.SourceItem{
			Name: e.Name(),
			Size: info.Size(),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Open opens an item for reading.
func (s *DirSource) Open(_ context.Context, item core.SourceItem) (io.ReadCloser, error) {
	f, err := os.Open(item.Path) // #nosec G304 -- path produced by List
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", item.Name, err)
	}
	return f, nil
}

var _ core.IngestionSource = (*DirSource)(nil)
