package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode selects how `docforge watch` renders.
type OutputMode int

const (
	// ModeTUI uses the full-screen dashboard.
	ModeTUI OutputMode = iota

	// ModePlain prints a table on every refresh.
	ModePlain
)

// String returns the string representation of the output mode.
func (m OutputMode) String() string {
	switch m {
	case ModeTUI:
		return "tui"
	case ModePlain:
		return "plain"
	default:
		return "unknown"
	}
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	isTTY     func() bool
}

// NewDetector creates a detector that inspects stdout.
func NewDetector() *Detector {
	return &Detector{isTTY: stdoutIsTTY}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// Detect determines the appropriate output mode.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}
	if os.Getenv("CI") != "" || os.Getenv("DOCFORGE_OUTPUT") == "plain" {
		return ModePlain
	}
	if os.Getenv("TERM") == "dumb" || !d.isTTY() {
		return ModePlain
	}
	return ModeTUI
}

func stdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// TerminalSize returns terminal dimensions.
func TerminalSize() (width, height int) {
	w, h, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80, 24
	}
	return w, h
}
