// Package docstore keeps intermediate and final documents on the local
// filesystem, one directory per document.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/fsutil"
)

// DefaultLocation receives documents until they are moved elsewhere.
const DefaultLocation = "created"

const (
	contentFile = "content.md"
	metaFile    = "meta.json"
)

// Meta describes one stored document.
type Meta struct {
	Ref       string    `json:"ref"`
	Title     string    `json:"title"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store lays documents out as <root>/<location>/<ref>/{content.md,meta.json}.
type Store struct {
	root string
	now  func() time.Time
}

// Option configures the store.
type Option func(*Store)

// WithClock overrides the clock used for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store rooted at root.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{root: root, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store directory.
func (s *Store) Root() string {
	return s.root
}

// Create writes a new document and returns its reference.
func (s *Store) Create(_ context.Context, title, content string) (string, error) {
	if err := os.MkdirAll(s.root, 0o750); err != nil {
		return "", fmt.Errorf("creating document root: %w", err)
	}
	root, err := os.OpenRoot(s.root)
	if err != nil {
		return "", fmt.Errorf("opening document root: %w", err)
	}
	defer func() { _ = root.Close() }()

	ref := uuid.New().String()
	dirRel := filepath.Join(DefaultLocation, ref)
	if err := root.MkdirAll(dirRel, 0o750); err != nil {
		return "", fmt.Errorf("creating document dir: %w", err)
	}

	dir := filepath.Join(s.root, dirRel)
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, contentFile), []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("writing document: %w", err)
	}

	now := s.now().UTC()
	meta := Meta{
		Ref:       ref,
		Title:     title,
		Name:      sanitizeName(title),
		Location:  DefaultLocation,
		Size:      int64(len(content)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := writeMeta(dir, meta); err != nil {
		return "", err
	}
	return ref, nil
}

// Read returns the content of a document.
func (s *Store) Read(_ context.Context, ref string) (string, error) {
	dir, err := s.locate(ref)
	if err != nil {
		return "", err
	}
	data, err := fsutil.ReadFileScoped(filepath.Join(dir, contentFile))
	if err != nil {
		return "", fmt.Errorf("reading document %s: %w", ref, err)
	}
	return string(data), nil
}

// Stat returns the metadata of a document.
func (s *Store) Stat(_ context.Context, ref string) (Meta, error) {
	dir, err := s.locate(ref)
	if err != nil {
		return Meta{}, err
	}
	return readMeta(dir)
}

// Move relocates a document to another location directory.
func (s *Store) Move(_ context.Context, ref, location string) error {
	if err := validateLocation(location); err != nil {
		return err
	}
	dir, err := s.locate(ref)
	if err != nil {
		return err
	}
	meta, err := readMeta(dir)
	if err != nil {
		return err
	}
	if meta.Location == location {
		return nil
	}

	root, err := os.OpenRoot(s.root)
	if err != nil {
		return fmt.Errorf("opening document root: %w", err)
	}
	defer func() { _ = root.Close() }()

	if err := root.MkdirAll(location, 0o750); err != nil {
		return fmt.Errorf("creating location %s: %w", location, err)
	}
	from := filepath.Join(meta.Location, ref)
	to := filepath.Join(location, ref)
	if err := root.Rename(from, to); err != nil {
		return fmt.Errorf("moving document %s to %s: %w", ref, location, err)
	}

	meta.Location = location
	meta.UpdatedAt = s.now().UTC()
	return writeMeta(filepath.Join(s.root, to), meta)
}

// Rename changes the display name of a document.
func (s *Store) Rename(_ context.Context, ref, name string) error {
	dir, err := s.locate(ref)
	if err != nil {
		return err
	}
	meta, err := readMeta(dir)
	if err != nil {
		return err
	}
	meta.Name = sanitizeName(name)
	meta.UpdatedAt = s.now().UTC()
	return writeMeta(dir, meta)
}

// List returns the documents stored in one location, oldest first.
func (s *Store) List(_ context.Context, location string) ([]Meta, error) {
	if err := validateLocation(location); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Meta{}, nil
		}
		return nil, fmt.Errorf("reading location %s: %w", location, err)
	}

	out := make([]Meta, 0, len(entries))
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		meta, err := readMeta(filepath.Join(s.root, location, ent.Name()))
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// locate finds the directory of a document in whichever location holds it.
func (s *Store) locate(ref string) (string, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return "", core.ErrValidation("INVALID_DOCUMENT_REF", fmt.Sprintf("invalid document reference %q", ref))
	}
	matches, err := filepath.Glob(filepath.Join(s.root, "*", ref, metaFile))
	if err != nil {
		return "", fmt.Errorf("locating document %s: %w", ref, err)
	}
	if len(matches) == 0 {
		return "", core.ErrNotFound("document", ref)
	}
	return filepath.Dir(matches[0]), nil
}

func validateLocation(location string) error {
	if location == "" || location == "." || location == ".." ||
		strings.ContainsAny(location, `/\`) || strings.ContainsRune(location, 0) {
		return core.ErrValidation("INVALID_LOCATION", fmt.Sprintf("invalid document location %q", location))
	}
	return nil
}

func readMeta(dir string) (Meta, error) {
	data, err := fsutil.ReadFileScoped(filepath.Join(dir, metaFile))
	if err != nil {
		return Meta{}, fmt.Errorf("reading meta: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parsing meta: %w", err)
	}
	return meta, nil
}

func writeMeta(dir string, meta Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling meta: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, metaFile), data, 0o600); err != nil {
		return fmt.Errorf("writing meta: %w", err)
	}
	return nil
}

// sanitizeName turns a title into a file-system friendly document name.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.NewReplacer("/", "_", `\`, "_").Replace(name)
	if name == "" || name == "." || name == ".." {
		name = "document"
	}
	const maxLen = 200
	if r := []rune(name); len(r) > maxLen {
		name = string(r[:maxLen])
	}
	return name
}

var _ core.DocumentStore = (*Store)(nil)
