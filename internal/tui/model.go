package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/hugo-lorenzo-mato/docforge/internal/core"
)

// scanTimeout bounds one ledger read.
const scanTimeout = 10 * time.Second

// TasksMsg carries a fresh ledger scan.
type TasksMsg struct {
	Tasks []*core.Task
	Err   error
	At    time.Time
	// Manual scans do not schedule the next poll.
	Manual bool
}

type pollMsg struct{}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultKeys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the `docforge watch` dashboard. It polls the ledger and shows
// every task with its stage and the phase that acts on it next.
type Model struct {
	ledger      core.TaskLedger
	interval    time.Duration
	now         func() time.Time
	tasks       []*core.Task
	selectedIdx int
	width       int
	height      int
	spinner     spinner.Model
	help        help.Model
	keys        keyMap
	lastRefresh time.Time
	err         error
}

// New creates a dashboard polling ledger every interval.
func New(ledger core.TaskLedger, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		ledger:   ledger,
		interval: interval,
		now:      time.Now,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(ActiveStyle)),
		help:     help.New(),
		keys:     defaultKeys,
	}
}

// Init starts the spinner and the first scan.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.scan(false))
}

func (m Model) scan(manual bool) tea.Cmd {
	ledger, now := m.ledger, m.now
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
		defer cancel()
		tasks, err := ledger.Scan(ctx)
		return TasksMsg{Tasks: tasks, Err: err, At: now(), Manual: manual}
	}
}

func (m Model) poll() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case TasksMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.tasks = msg.Tasks
			m.lastRefresh = msg.At
			if m.selectedIdx >= len(m.tasks) {
				m.selectedIdx = max(len(m.tasks)-1, 0)
			}
		}
		if msg.Manual {
			return m, nil
		}
		return m, m.poll()

	case pollMsg:
		return m, m.scan(false)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selectedIdx < len(m.tasks)-1 {
			m.selectedIdx++
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, m.scan(true)
	}
	return m, nil
}

// Selected returns the task under the cursor, or nil.
func (m Model) Selected() *core.Task {
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.tasks) {
		return nil
	}
	return m.tasks[m.selectedIdx]
}

// View renders the dashboard.
func (m Model) View() string {
	s := m.renderHeader() + "\n\n"

	if m.err != nil {
		s += FailedStyle.Render("ledger unavailable: "+m.err.Error()) + "\n\n"
	}

	if len(m.tasks) == 0 {
		s += SubtleStyle.Render("No tasks. Add one with `docforge task add`.")
	} else {
		s += RenderTable(m.tasks, TableOptions{
			Selected: m.selectedIdx,
			Spinner:  m.spinner.View(),
			Now:      m.now(),
			Width:    m.width,
		})
		if t := m.Selected(); t != nil {
			s += "\n" + BoxStyle.Render(RenderDetails(t))
		}
	}

	return s + "\n" + FooterStyle.Render(m.help.View(m.keys))
}

func (m Model) renderHeader() string {
	refreshed := "loading"
	if !m.lastRefresh.IsZero() {
		refreshed = "refreshed " + m.lastRefresh.Format("15:04:05")
	}
	return HeaderStyle.Render("docforge watch") + "  " +
		Summary(m.tasks) + "  " +
		SubtleStyle.Render(fmt.Sprintf("(%s, every %s)", refreshed, m.interval))
}

// Run shows the dashboard until the user quits or ctx is cancelled.
func Run(ctx context.Context, ledger core.TaskLedger, interval time.Duration) error {
	p := tea.NewProgram(New(ledger, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
