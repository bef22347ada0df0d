// Package tui renders a task's progress on an interactive terminal.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/basket/scout/internal/client"
	"github.com/basket/scout/internal/tasks"
)

// Update is one step of progress fed to Watch. Exactly one field is set.
type Update struct {
	Event  *tasks.Event
	Result *client.Result
	Err    error
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	doneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	sourceStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

var spinnerFrames = []string{"|", "/", "-", "\\"}

type spinnerTickMsg struct{}

type updateMsg Update

type closedMsg struct{}

type model struct {
	query   string
	updates <-chan Update

	events     []tasks.Event
	spinnerIdx int
	result     *client.Result
	err        error
	quitting   bool
}

func spinnerTick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(time.Time) tea.Msg { return spinnerTickMsg{} })
}

func waitForUpdate(ch <-chan Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return updateMsg(u)
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(spinnerTick(), waitForUpdate(m.updates))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case spinnerTickMsg:
		if m.finished() {
			return m, nil
		}
		m.spinnerIdx++
		return m, spinnerTick()
	case updateMsg:
		switch {
		case msg.Event != nil:
			m.events = append(m.events, *msg.Event)
		case msg.Result != nil:
			m.result = msg.Result
			return m, tea.Quit
		case msg.Err != nil:
			m.err = msg.Err
			return m, tea.Quit
		}
		return m, waitForUpdate(m.updates)
	case closedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m model) finished() bool {
	return m.result != nil || m.err != nil || m.quitting
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("scout") + " " + m.query + "\n\n")
	for _, ev := range m.events {
		switch ev.Type {
		case tasks.EventCompleted:
			b.WriteString(doneStyle.Render("  ✓ "+ev.Message) + "\n")
		case tasks.EventFailed:
			b.WriteString(errStyle.Render("  ✗ "+ev.Message) + "\n")
		default:
			b.WriteString(dimStyle.Render("  · "+ev.Message) + "\n")
		}
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + errStyle.Render("Error: "+humanError(m.err)) + "\n")
	case m.result != nil:
		b.WriteString("\n" + renderResult(*m.result))
	case m.quitting:
		b.WriteString("\n" + dimStyle.Render("detached; the task keeps running on the server") + "\n")
	default:
		spin := spinnerFrames[m.spinnerIdx%len(spinnerFrames)]
		b.WriteString("\n" + dimStyle.Render(spin+" working… (q to detach)") + "\n")
	}
	return b.String()
}

// renderResult formats a terminal result for display.
func renderResult(r client.Result) string {
	if r.Status == string(tasks.StateFailed) {
		return errStyle.Render("Failed: "+r.Error) + "\n"
	}
	if r.Output == nil {
		return dimStyle.Render("(no output)") + "\n"
	}
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.Output.Answer) + "\n")
	if len(r.Output.Sources) > 0 {
		b.WriteString("\n" + titleStyle.Render("Sources") + "\n")
		for i, s := range r.Output.Sources {
			b.WriteString(fmt.Sprintf("  %d. %s %s\n", i+1, s.Title, sourceStyle.Render(s.URL)))
		}
	}
	return b.String()
}

// Watch shows a spinner and the task's events until a Result or Err update
// arrives, the channel closes, ctx ends or the user detaches. It returns the
// final result, if one arrived.
func Watch(ctx context.Context, query string, updates <-chan Update) (*client.Result, error) {
	defer bestEffortResetTTY()

	p := tea.NewProgram(model{query: query, updates: updates}, tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	m := final.(model)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}
