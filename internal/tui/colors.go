// Package tui renders the task ledger in the terminal: the live `docforge
// watch` dashboard and the plain tables shared with `docforge task list`.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan

	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorWarning = lipgloss.Color("#F59E0B") // Amber
	ColorError   = lipgloss.Color("#EF4444") // Red

	ColorText       = lipgloss.Color("#E5E7EB")
	ColorTextMuted  = lipgloss.Color("#9CA3AF")
	ColorBorder     = lipgloss.Color("#374151")
	ColorHighlight  = lipgloss.Color("#374151")
	ColorBackground = lipgloss.Color("#1F2937")
)

var phaseColors = map[core.Phase]lipgloss.Color{
	core.PhaseIngestion:    lipgloss.Color("#8B5CF6"),
	core.PhasePlanning:     lipgloss.Color("#06B6D4"),
	core.PhaseRawText:      lipgloss.Color("#3B82F6"),
	core.PhaseFinalization: lipgloss.Color("#10B981"),
}

// PhaseColor returns the badge color of a phase.
func PhaseColor(p core.Phase) lipgloss.Color {
	if c, ok := phaseColors[p]; ok {
		return c
	}
	return ColorTextMuted
}
