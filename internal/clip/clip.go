// Package clip copies generated documents for `docforge task show --copy`.
package clip

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"
)

// Method is the mechanism that made the content available.
type Method string

const (
	MethodNative Method = "native" // OS clipboard
	MethodOSC52  Method = "osc52"  // terminal clipboard escape sequence
	MethodFile   Method = "file"   // fallback file, clipboard unreachable
)

// Result reports how content was copied.
type Result struct {
	Method Method
	Path   string // only set for MethodFile
}

// String describes the result for the operator.
func (r Result) String() string {
	if r.Method == MethodFile {
		return "clipboard unavailable, document written to " + r.Path
	}
	return fmt.Sprintf("copied to clipboard (%s)", r.Method)
}

// osc52LimitBytes keeps payloads under what common terminals accept.
const osc52LimitBytes = 100_000

// Copier tries the native clipboard, then OSC52, then a file.
type Copier struct {
	native func(string) error
	osc52  func(string) error
	dir    string
}

// Option configures a Copier.
type Option func(*Copier)

// WithFallbackDir sets where fallback files are written (default: the
// system temp directory).
func WithFallbackDir(dir string) Option {
	return func(c *Copier) { c.dir = dir }
}

// WithWriters replaces the clipboard writers.
func WithWriters(native, osc func(string) error) Option {
	return func(c *Copier) {
		c.native = native
		c.osc52 = osc
	}
}

// New creates a Copier.
func New(opts ...Option) *Copier {
	c := &Copier{
		native: atotto.WriteAll,
		osc52:  func(text string) error { return writeOSC52(os.Stderr, text) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Copy makes text available to the operator. name seeds the fallback file
// name.
func (c *Copier) Copy(name, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, errors.New("nothing to copy")
	}
	if c.native != nil && c.native(text) == nil {
		return Result{Method: MethodNative}, nil
	}
	if c.osc52 != nil && c.osc52(text) == nil {
		return Result{Method: MethodOSC52}, nil
	}

	path, err := c.writeFile(name, text)
	if err != nil {
		return Result{}, fmt.Errorf("writing fallback file: %w", err)
	}
	return Result{Method: MethodFile, Path: path}, nil
}

func writeOSC52(f *os.File, text string) error {
	if !term.IsTerminal(int(f.Fd())) {
		return errors.New("not a terminal")
	}
	if len(text) > osc52LimitBytes {
		return fmt.Errorf("text too large for OSC52 (%d bytes > %d)", len(text), osc52LimitBytes)
	}

	seq := osc52.New(text).Limit(osc52LimitBytes)
	switch {
	case os.Getenv("TMUX") != "":
		seq = seq.Tmux()
	case os.Getenv("STY") != "":
		seq = seq.Screen()
	}
	_, err := seq.WriteTo(f)
	return err
}

func (c *Copier) writeFile(name, text string) (path string, err error) {
	pattern := "docforge-*.md"
	if name != "" {
		pattern = "docforge-" + strings.ReplaceAll(name, string(filepath.Separator), "_") + "-*.md"
	}
	f, err := os.CreateTemp(c.dir, pattern)
	if err != nil {
		return "", err
	}
	path = f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	if _, err = f.WriteString(text); err != nil {
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	return filepath.Clean(path), nil
}
