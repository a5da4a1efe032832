package tui

import (
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Spinner represents a loading spinner
type Spinner struct {
	frames []string
	frame  int
}

// NewSpinner creates a new spinner
func NewSpinner() *Spinner {
	return &Spinner{
		frames: []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"},
		frame:  0,
	}
}

// Next advances the spinner to the next frame
func (s *Spinner) Next() {
	s.frame = (s.frame + 1) % len(s.frames)
}

// View returns the current spinner frame
func (s *Spinner) View() string {
	return s.frames[s.frame]
}

// LoadingIndicator is a spinner followed by a message
type LoadingIndicator struct {
	spinner *Spinner
	message string
}

func NewLoadingIndicator(message string) *LoadingIndicator {
	return &LoadingIndicator{
		spinner: NewSpinner(),
		message: message,
	}
}

// Tick advances the spinner animation
func (l *LoadingIndicator) Tick() {
	l.spinner.Next()
}

func (l *LoadingIndicator) View() string {
	spinnerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("212"))

	messageStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	return fmt.Sprintf("%s %s",
		spinnerStyle.Render(l.spinner.View()),
		messageStyle.Render(l.message))
}

type taskModel struct {
	indicator *LoadingIndicator
	fn        func() error
	done      bool
	err       error
}

func (m taskModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), runTaskCmd(m.fn))
}

func (m taskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case TickMsg:
		if m.done {
			return m, nil
		}
		m.indicator.Tick()
		return m, tickCmd()
	case taskDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m taskModel) View() string {
	if m.done {
		return ""
	}
	return m.indicator.View() + "\n"
}

// RunWithSpinner runs fn while showing message next to a spinner on out.
// When out is not a terminal fn simply runs.
func RunWithSpinner(out io.Writer, message string, fn func() error) error {
	f, ok := out.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return fn()
	}

	prog := tea.NewProgram(
		taskModel{indicator: NewLoadingIndicator(message), fn: fn},
		tea.WithOutput(out),
		tea.WithInput(nil),
	)
	finalModel, err := prog.Run()
	if err != nil {
		return fmt.Errorf("failed to run spinner: %w", err)
	}
	return finalModel.(taskModel).err
}
