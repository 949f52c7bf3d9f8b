package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// Base styles
var (
	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary).Background(ColorBackground).Padding(0, 1)
	FooterStyle = lipgloss.NewStyle().Foreground(ColorTextMuted).MarginTop(1)
	BoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorBorder).Padding(0, 1)

	// SelectedRowStyle highlights the task under the cursor.
	SelectedRowStyle = lipgloss.NewStyle().Foreground(ColorText).Background(ColorHighlight).Bold(true)

	WaitingStyle   = lipgloss.NewStyle().Foreground(ColorTextMuted)
	ActiveStyle    = lipgloss.NewStyle().Foreground(ColorSecondary).Bold(true)
	PausedStyle    = lipgloss.NewStyle().Foreground(ColorWarning)
	CompletedStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	FailedStyle    = lipgloss.NewStyle().Foreground(ColorError).Bold(true)

	SubtleStyle = lipgloss.NewStyle().Foreground(ColorTextMuted)
	LabelStyle  = lipgloss.NewStyle().Foreground(ColorTextMuted).Width(10)
)

// Status groups stages by what the pipeline is doing with a task.
type Status string

const (
	StatusWaiting   Status = "waiting"   // between phases, ready for the next one
	StatusActive    Status = "active"    // a runner is working on it
	StatusPaused    Status = "paused"    // checkpointed, continuation pending
	StatusCompleted Status = "completed" // final document stored
	StatusFailed    Status = "failed"    // error stage
)

// StatusOf classifies a stage.
func StatusOf(s core.Stage) Status {
	switch {
	case s == core.StageCompleted:
		return StatusCompleted
	case s.IsError():
		return StatusFailed
	case s.IsPaused():
		return StatusPaused
	}
	switch s {
	case core.StageIngesting, core.StagePlanning, core.StageGeneratingText,
		core.StageConsolidating, core.StageFinalizing:
		return StatusActive
	default:
		return StatusWaiting
	}
}

// StatusStyle returns the style for a status.
func StatusStyle(st Status) lipgloss.Style {
	switch st {
	case StatusActive:
		return ActiveStyle
	case StatusPaused:
		return PausedStyle
	case StatusCompleted:
		return CompletedStyle
	case StatusFailed:
		return FailedStyle
	default:
		return WaitingStyle
	}
}

// StatusIcon returns the glyph shown next to a task. Active tasks use the
// spinner frame instead.
func StatusIcon(st Status) string {
	switch st {
	case StatusPaused:
		return "⏸"
	case StatusCompleted:
		return "✓"
	case StatusFailed:
		return "✗"
	default:
		return "·"
	}
}

// PhaseBadge renders a phase name as a colored badge.
func PhaseBadge(p core.Phase) string {
	if p == "" {
		return ""
	}
	return lipgloss.NewStyle().
		Background(PhaseColor(p)).
		Foreground(lipgloss.Color("#FFFFFF")).
		Padding(0, 1).
		Bold(true).
		Render(string(p))
}
