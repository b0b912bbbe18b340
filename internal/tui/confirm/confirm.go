// Package confirm is the interactive batch confirmation prompt used when
// stdin is a terminal.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/ckptkeep/internal/batch"
	"github.com/mattjoyce/ckptkeep/internal/tui"
)

// ErrInterrupted is returned when the prompt is closed with ctrl+c or esc.
var ErrInterrupted = errors.New("prompt interrupted")

// maxListed caps how many pending directories the prompt shows by name.
const maxListed = 12

// Model is the bubbletea model behind Prompt.
type Model struct {
	plan  batch.Plan
	input textinput.Model
	theme tui.Theme

	done        bool
	accepted    bool
	interrupted bool
}

// NewModel builds a prompt for plan.
func NewModel(plan batch.Plan) Model {
	ti := textinput.New()
	ti.Placeholder = "y/N"
	ti.CharLimit = 8
	ti.Width = 8
	ti.Focus()

	return Model{plan: plan, input: ti, theme: tui.NewDefaultTheme()}
}

// Accepted reports whether the user answered yes.
func (m Model) Accepted() bool { return m.accepted }

// Interrupted reports whether the user closed the prompt without answering.
func (m Model) Interrupted() bool { return m.interrupted }

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.done = true
			m.interrupted = true
			return m, tea.Quit
		case tea.KeyEnter:
			m.done = true
			m.accepted = batch.Affirmative(m.input.Value())
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.done {
		return ""
	}

	var lines []string
	for i, name := range m.plan.Pending {
		if i == maxListed {
			lines = append(lines, m.theme.Dim.Render(fmt.Sprintf("… and %d more", len(m.plan.Pending)-maxListed)))
			break
		}
		lines = append(lines, "  "+name)
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("Clean "+m.plan.Root),
		m.theme.Header.Render(fmt.Sprintf("%d director%s to clean", len(m.plan.Pending), plural(len(m.plan.Pending)))),
		strings.Join(lines, "\n"),
		m.theme.Dim.Render(fmt.Sprintf("skipping %d already clean", len(m.plan.Skipped))),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Border.Render(body),
		m.theme.StatusWarn.Render("This deletes files permanently.")+" Proceed? "+m.input.View(),
		m.theme.Help.Render(" [enter] answer • [esc] cancel"),
	) + "\n"
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// Prompt implements batch.Confirmer with a bubbletea program.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

// Confirm runs the prompt until the user answers, interrupts, or ctx ends.
func (p *Prompt) Confirm(ctx context.Context, plan batch.Plan) (bool, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if p.In != nil {
		opts = append(opts, tea.WithInput(p.In))
	}
	if p.Out != nil {
		opts = append(opts, tea.WithOutput(p.Out))
	}

	final, err := tea.NewProgram(NewModel(plan), opts...).Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, fmt.Errorf("run prompt: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return false, fmt.Errorf("unexpected prompt model %T", final)
	}
	if m.Interrupted() {
		return false, ErrInterrupted
	}
	return m.Accepted(), nil
}
