package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/mattjoyce/ckptkeep/internal/history"
)

// RunSource is the read side of the history ledger.
type RunSource interface {
	List(ctx context.Context, limit int) ([]history.Run, error)
	Get(ctx context.Context, id string) (*history.Run, error)
}

type runsMsg []history.Run
type detailMsg *history.Run
type errMsg error

// Browser lists recorded cleanup runs and shows per-directory outcomes for
// the selected one.
type Browser struct {
	source RunSource
	limit  int
	theme  Theme

	width  int
	height int

	runs     []history.Run
	runTable table.Model
	detail   viewport.Model
	showing  *history.Run

	lastError string
}

// NewBrowser creates a browser over source showing up to limit runs.
func NewBrowser(source RunSource, limit int) Browser {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Started", Width: 19},
			{Title: "Kind", Width: 5},
			{Title: "Target", Width: 40},
			{Title: "OK/Skip/Fail", Width: 12},
			{Title: "Reclaimed", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(TableStyles())

	return Browser{
		source:   source,
		limit:    limit,
		theme:    NewDefaultTheme(),
		runTable: t,
		detail:   viewport.New(80, 10),
	}
}

func (m Browser) Init() tea.Cmd {
	return tea.Batch(m.loadRuns(), tea.EnterAltScreen)
}

func (m Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc", "backspace":
			if m.showing != nil {
				m.showing = nil
				m.runTable.Focus()
				return m, nil
			}
		case "r":
			return m, m.loadRuns()
		case "enter":
			if m.showing == nil && len(m.runs) > 0 {
				return m, m.loadDetail(m.runs[m.runTable.Cursor()].ID)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.runTable.SetWidth(m.width - 6)
		m.runTable.SetHeight(max(m.height/2-4, 3))
		m.detail.Width = m.width - 6
		m.detail.Height = max(m.height/2-4, 3)

	case runsMsg:
		m.runs = []history.Run(msg)
		m.lastError = ""
		m.updateTable()
		return m, nil

	case detailMsg:
		m.showing = (*history.Run)(msg)
		m.lastError = ""
		m.runTable.Blur()
		m.detail.SetContent(m.renderOutcomes(m.showing))
		m.detail.GotoTop()
		return m, nil

	case errMsg:
		m.lastError = msg.Error()
		return m, nil
	}

	if m.showing != nil {
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	}
	m.runTable, cmd = m.runTable.Update(msg)
	return m, cmd
}

func (m *Browser) updateTable() {
	rows := make([]table.Row, 0, len(m.runs))
	for _, r := range m.runs {
		rows = append(rows, table.Row{
			statusSymbol(r.Status()),
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Kind),
			r.Target,
			fmt.Sprintf("%d/%d/%d", r.Succeeded, r.Skipped, r.Failed),
			humanize.Bytes(uint64(max(r.BytesReclaimed, 0))),
		})
	}
	m.runTable.SetRows(rows)
}

func statusSymbol(status string) string {
	switch status {
	case "succeeded":
		return "●"
	case "failed":
		return "∅"
	case "cancelled":
		return "◑"
	default:
		return "○"
	}
}

func (m Browser) renderOutcomes(r *history.Run) string {
	if len(r.Outcomes) == 0 {
		return "  No directories recorded."
	}
	lines := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("%s %-30s del=%-4d ext=%-4d %8s",
			m.theme.StatusStyle(o.Status).Render(statusSymbol(o.Status)),
			o.Name, o.Deleted, o.Extracted, humanize.Bytes(uint64(max(o.BytesReclaimed, 0))))
		if o.Reason != "" {
			line += "  " + m.theme.StatusFailed.Render(o.Reason)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Browser) View() string {
	if m.width == 0 {
		return "Loading history..."
	}

	runs := m.theme.Border.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render(fmt.Sprintf("Cleanup runs (%d)", len(m.runs))),
			m.runTable.View(),
		),
	)
	parts := []string{runs}

	if m.showing != nil {
		parts = append(parts, m.theme.Border.Width(m.width-4).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				m.theme.Title.Render(m.showing.Target),
				m.detail.View(),
			),
		))
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}

	help := " [q] Quit • [↑/↓] Select • [enter] Outcomes • [esc] Back • [r] Reload"
	parts = append(parts, m.theme.Help.Render(help))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}

// --- Commands ---

func (m Browser) loadRuns() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runs, err := m.source.List(ctx, m.limit)
		if err != nil {
			return errMsg(err)
		}
		return runsMsg(runs)
	}
}

func (m Browser) loadDetail(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		run, err := m.source.Get(ctx, id)
		if err != nil {
			return errMsg(err)
		}
		return detailMsg(run)
	}
}
