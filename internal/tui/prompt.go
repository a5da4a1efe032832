package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/docker/go-units"
	"github.com/mattn/go-isatty"

	"github.com/strrl/worktrack/pkg/models"
)

// ErrPromptAborted is returned when the operator cancels the prompt
var ErrPromptAborted = errors.New("feature prompt aborted")

const otherLabel = "Other (type your own)"

type choiceKind int

const (
	choiceNote choiceKind = iota
	choiceSuggestion
	choiceOther
)

type choice struct {
	kind  choiceKind
	text  string
	label string
}

func buildChoices(req models.FeatureRequest) []choice {
	var choices []choice
	if note := strings.TrimSpace(req.Note); note != "" {
		choices = append(choices, choice{kind: choiceNote, text: note, label: note + "  (your note)"})
	}
	for _, s := range req.Suggestions {
		choices = append(choices, choice{
			kind:  choiceSuggestion,
			text:  s.Text,
			label: fmt.Sprintf("%s  (%s)", s.Text, s.Source),
		})
	}
	return append(choices, choice{kind: choiceOther, label: otherLabel})
}

type promptModel struct {
	req     models.FeatureRequest
	choices []choice
	cursor  int
	typing  bool
	input   textinput.Model
	details viewport.Model
	ready   bool
	warning string
	result  string
	aborted bool
	width   int
}

func newPromptModel(req models.FeatureRequest) promptModel {
	ti := textinput.New()
	ti.Placeholder = "What did you work on?"
	ti.CharLimit = 200
	ti.Width = 60

	return promptModel{
		req:     req,
		choices: buildChoices(req),
		input:   ti,
	}
}

func (m promptModel) Init() tea.Cmd {
	return nil
}

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		height := len(m.req.Commits) + len(m.req.ChangedFiles) + 4
		if limit := msg.Height / 3; height > limit {
			height = limit
		}
		if !m.ready {
			m.details = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.details.Width = msg.Width
			m.details.Height = height
		}
		m.details.SetContent(renderDetails(m.req))
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.aborted = true
			return m, tea.Quit
		}
		if m.typing {
			return m.updateTyping(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m promptModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.details, cmd = m.details.Update(msg)
		return m, cmd
	case "enter":
		return m.choose(m.cursor)
	default:
		if k := msg.String(); len(k) == 1 && k[0] >= '1' && k[0] <= '9' {
			if i := int(k[0] - '1'); i < len(m.choices) {
				m.cursor = i
				return m.choose(i)
			}
		}
	}
	return m, nil
}

func (m promptModel) choose(i int) (tea.Model, tea.Cmd) {
	c := m.choices[i]
	if c.kind == choiceOther {
		m.typing = true
		m.warning = ""
		return m, m.input.Focus()
	}
	m.result = c.text
	return m, tea.Quit
}

func (m promptModel) updateTyping(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.typing = false
		m.warning = ""
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			m.warning = "Description cannot be empty"
			return m, nil
		}
		m.result = text
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Background(lipgloss.Color("63"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func (m promptModel) View() string {
	if m.result != "" || m.aborted {
		return ""
	}

	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("Session ended: %s", m.req.ProjectName)) + "\n")
	if m.ready {
		s.WriteString(m.details.View() + "\n")
	} else {
		s.WriteString(renderDetails(m.req) + "\n")
	}
	s.WriteString("What did you work on?\n\n")

	for i, c := range m.choices {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == m.cursor {
			cursor = "> "
			style = selectedStyle
		}
		s.WriteString(style.Render(fmt.Sprintf("%s%d. %s", cursor, i+1, c.label)) + "\n")
	}

	if m.typing {
		s.WriteString("\n" + m.input.View() + "\n")
	}
	if m.warning != "" {
		s.WriteString(warnStyle.Render(m.warning) + "\n")
	}

	footer := "↑/↓: navigate • enter: select • 1-9: quick pick • ctrl+c: abort"
	if m.typing {
		footer = "enter: save • esc: back to list • ctrl+c: abort"
	}
	s.WriteString("\n" + dimStyle.Render(footer))
	return s.String()
}

func renderDetails(req models.FeatureRequest) string {
	var s strings.Builder
	fmt.Fprintf(&s, "Branch: %s • %s • ended by %s\n", req.Branch, units.HumanDuration(req.Duration), req.EndReason)
	if len(req.Commits) > 0 {
		s.WriteString("Commits:\n")
		for _, c := range req.Commits {
			s.WriteString("  • " + firstLine(c) + "\n")
		}
	}
	if len(req.ChangedFiles) > 0 {
		fmt.Fprintf(&s, "Changed files (%d):\n", len(req.ChangedFiles))
		for _, f := range req.ChangedFiles {
			s.WriteString("  " + f + "\n")
		}
	}
	return strings.TrimRight(s.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Prompter asks the operator to confirm or type a feature description
type Prompter struct {
	in  *os.File
	out io.Writer
}

// NewPrompter reads from in and writes to out. When in is not a terminal a
// plain line-based prompt is used.
func NewPrompter(in *os.File, out io.Writer) *Prompter {
	return &Prompter{in: in, out: out}
}

func (p *Prompter) PromptForFeature(ctx context.Context, req models.FeatureRequest) (string, error) {
	if !isatty.IsTerminal(p.in.Fd()) && !isatty.IsCygwinTerminal(p.in.Fd()) {
		return PromptLines(ctx, p.in, p.out, req)
	}

	prog := tea.NewProgram(
		newPromptModel(req),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
		tea.WithContext(ctx),
	)

	finalModel, err := prog.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return "", ErrPromptAborted
		}
		return "", fmt.Errorf("failed to run feature prompt: %w", err)
	}

	m := finalModel.(promptModel)
	if m.aborted || m.result == "" {
		return "", ErrPromptAborted
	}
	return m.result, nil
}
