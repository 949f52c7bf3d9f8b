// Package logging provides the structured logger used across docforge.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// Logger wraps slog.Logger with redaction and pipeline-scoped helpers.
type Logger struct {
	*slog.Logger
	sanitizer *Sanitizer
}

// Config configures the logger.
type Config struct {
	Level     string
	Format    string // auto, text, json
	Output    io.Writer
	File      string // optional file receiving a JSON copy of every record
	AddSource bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "auto",
		Output: os.Stderr,
	}
}

// New creates a new logger.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	level := parseLevel(cfg.Level)
	sanitizer := NewSanitizer()

	handler := NewSanitizingHandler(consoleHandler(cfg, level), sanitizer)
	return &Logger{
		Logger:    slog.New(handler),
		sanitizer: sanitizer,
	}
}

// Open creates a logger and, when cfg.File is set, tees records into that
// file as JSON lines. The returned closer releases the file.
func Open(cfg Config) (*Logger, io.Closer, error) {
	if cfg.File == "" {
		return New(cfg), io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	level := parseLevel(cfg.Level)
	sanitizer := NewSanitizer()
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource})
	handler := NewSanitizingHandler(NewTeeHandler(consoleHandler(cfg, level), fileHandler), sanitizer)

	return &Logger{Logger: slog.New(handler), sanitizer: sanitizer}, f, nil
}

func consoleHandler(cfg Config, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(cfg.Output, opts)
	case "text":
		return slog.NewTextHandler(cfg.Output, opts)
	default: // auto
		if isTerminal(cfg.Output) {
			return NewPrettyHandler(cfg.Output, level)
		}
		return slog.NewJSONHandler(cfg.Output, opts)
	}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sanitizer: NewSanitizer(),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// WithTask returns a logger with task context.
func (l *Logger) WithTask(taskID string) *Logger {
	return l.With("task_id", taskID)
}

// WithPhase returns a logger with phase context.
func (l *Logger) WithPhase(phase string) *Logger {
	return l.With("phase", phase)
}

// With returns a logger with custom fields.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(args...),
		sanitizer: l.sanitizer,
	}
}

// Sanitize redacts secrets from a string using the logger's sanitizer.
func (l *Logger) Sanitize(input string) string {
	return l.sanitizer.Sanitize(input)
}
