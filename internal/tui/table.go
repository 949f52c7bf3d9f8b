package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// TableOptions controls RenderTable.
type TableOptions struct {
	// Selected is the index of the highlighted row, or -1.
	Selected int
	// Spinner replaces the icon of active tasks when set.
	Spinner string
	Now     time.Time
	Width   int
}

// RenderTable renders tasks as a bordered table with one row per task.
func RenderTable(tasks []*core.Task, opts TableOptions) string {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		st := StatusOf(t.Stage)
		icon := StatusIcon(st)
		if st == StatusActive && opts.Spinner != "" {
			icon = opts.Spinner
		}
		rows = append(rows, []string{
			icon,
			string(t.ID),
			string(t.Mode),
			string(t.Stage),
			string(core.OwningPhase(t.Stage, t.Mode)),
			FormatAge(opts.Now.Sub(t.UpdatedAt)),
		})
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorBorder)).
		Headers("", "TASK", "MODE", "STAGE", "PHASE", "UPDATED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow || row < 0 || row >= len(tasks) {
				return s.Bold(true).Foreground(ColorTextMuted)
			}
			if row == opts.Selected {
				s = s.Inherit(SelectedRowStyle)
			}
			if col == 0 || col == 3 {
				return s.Inherit(StatusStyle(StatusOf(tasks[row].Stage)))
			}
			return s
		})
	if opts.Width > 0 {
		tbl = tbl.Width(opts.Width)
	}
	return tbl.String()
}

// RenderDetails renders the full record of one task.
func RenderDetails(t *core.Task) string {
	var sb strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		sb.WriteString(LabelStyle.Render(label))
		sb.WriteString(value)
		sb.WriteByte('\n')
	}

	field("task", string(t.ID))
	field("stage", StatusStyle(StatusOf(t.Stage)).Render(string(t.Stage))+" "+PhaseBadge(core.OwningPhase(t.Stage, t.Mode)))
	field("mode", string(t.Mode))
	field("prompt", core.TruncateMessage(strings.Join(strings.Fields(t.Prompt), " "), 120))
	if subs, err := t.Subtopics(); err == nil && len(subs) > 0 {
		field("plan", fmt.Sprintf("%d sub-topics", len(subs)))
	}
	if len(t.FileRefs) > 0 {
		field("sources", fmt.Sprintf("%d ingested", len(t.FileRefs)))
	}
	field("output", t.OutputRef)
	if t.ErrorMessage != "" {
		field("error", FailedStyle.Render(t.ErrorMessage))
	}
	for _, n := range t.Notes {
		field("note", SubtleStyle.Render(n))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatAge renders a duration as a compact age such as "42s" or "3h".
func FormatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// Summary counts tasks per status, in display order.
func Summary(tasks []*core.Task) string {
	counts := make(map[Status]int)
	for _, t := range tasks {
		counts[StatusOf(t.Stage)]++
	}
	parts := make([]string, 0, 5)
	for _, st := range []Status{StatusActive, StatusPaused, StatusWaiting, StatusCompleted, StatusFailed} {
		if n := counts[st]; n > 0 {
			parts = append(parts, StatusStyle(st).Render(fmt.Sprintf("%d %s", n, st)))
		}
	}
	if len(parts) == 0 {
		return SubtleStyle.Render("no tasks")
	}
	return strings.Join(parts, SubtleStyle.Render(" · "))
}
