package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type (
	// TickMsg is sent periodically for spinner animation
	TickMsg time.Time

	// taskDoneMsg carries the result of a background task
	taskDoneMsg struct {
		err error
	}
)

// tickCmd creates a ticker for spinner animation
func tickCmd() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// runTaskCmd runs fn off the UI loop and reports completion
func runTaskCmd(fn func() error) tea.Cmd {
	return func() tea.Msg {
		return taskDoneMsg{err: fn()}
	}
}
