package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/strrl/worktrack/pkg/models"
)

func testRequest(note string) models.FeatureRequest {
	return models.FeatureRequest{
		ProjectName: "api",
		Branch:      "feature/oauth",
		Duration:    42 * time.Minute,
		EndReason:   models.EndManualStop,
		Commits:     []string{"Add oauth flow\n\nbody"},
		Suggestions: []models.Suggestion{
			{Text: "Add OAuth integration", Source: models.SourcePullRequest, Confidence: 1.0},
			{Text: "Oauth", Source: models.SourceBranch, Confidence: 0.6},
		},
		Note: note,
	}
}

func press(m tea.Model, keys ...tea.KeyMsg) tea.Model {
	for _, k := range keys {
		m, _ = m.Update(k)
	}
	return m
}

var (
	keyDown  = tea.KeyMsg{Type: tea.KeyDown}
	keyEnter = tea.KeyMsg{Type: tea.KeyEnter}
	keyEsc   = tea.KeyMsg{Type: tea.KeyEsc}
	keyCtrlC = tea.KeyMsg{Type: tea.KeyCtrlC}
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBuildChoicesNoteFirst(t *testing.T) {
	choices := buildChoices(testRequest("Paired on auth"))

	if len(choices) != 4 {
		t.Fatalf("Expected note, 2 suggestions and other, got %d", len(choices))
	}
	if choices[0].kind != choiceNote || choices[0].text != "Paired on auth" {
		t.Errorf("Expected note as first choice, got %+v", choices[0])
	}
	if choices[3].kind != choiceOther || choices[3].label != otherLabel {
		t.Errorf("Expected free-text entry last, got %+v", choices[3])
	}

	if got := buildChoices(testRequest("  ")); got[0].kind != choiceSuggestion {
		t.Error("A blank note should not be offered")
	}
}

func TestPromptSelectSuggestion(t *testing.T) {
	m := press(newPromptModel(testRequest("")), keyDown, keyEnter).(promptModel)
	if m.result != "Oauth" {
		t.Errorf("Expected second suggestion, got %q", m.result)
	}
}

func TestPromptQuickPick(t *testing.T) {
	m := press(newPromptModel(testRequest("Paired on auth")), runes("1")).(promptModel)
	if m.result != "Paired on auth" {
		t.Errorf("Expected note via quick pick, got %q", m.result)
	}
}

func TestPromptFreeTextReasksOnEmpty(t *testing.T) {
	m := press(newPromptModel(testRequest("")), runes("3")).(promptModel)
	if !m.typing {
		t.Fatal("Expected free-text mode after choosing Other")
	}

	m = press(m, keyEnter).(promptModel)
	if m.result != "" || !m.typing || m.warning == "" {
		t.Fatalf("Expected empty text to re-ask in place, got result=%q typing=%v", m.result, m.typing)
	}

	m = press(m, runes("Refactor the registry"), keyEnter).(promptModel)
	if m.result != "Refactor the registry" {
		t.Errorf("Expected typed description, got %q", m.result)
	}
}

func TestPromptEscReturnsToList(t *testing.T) {
	m := press(newPromptModel(testRequest("")), runes("3"), keyEsc).(promptModel)
	if m.typing {
		t.Error("Expected esc to leave free-text mode")
	}
}

func TestPromptAbort(t *testing.T) {
	m := press(newPromptModel(testRequest("")), keyCtrlC).(promptModel)
	if !m.aborted || m.result != "" {
		t.Errorf("Expected aborted prompt, got %+v", m)
	}
}

func TestPromptView(t *testing.T) {
	m := newPromptModel(testRequest("Paired on auth"))
	m2, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	view := m2.View()

	for _, want := range []string{"Session ended: api", "feature/oauth", "Add oauth flow", "Paired on auth", otherLabel} {
		if !strings.Contains(view, want) {
			t.Errorf("Expected %q in view:\n%s", want, view)
		}
	}
	if strings.Contains(view, "body") {
		t.Error("Expected only commit subject lines in details")
	}
}

func TestPromptLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		err   error
	}{
		{"pick number", "2\n", "Oauth", nil},
		{"free text directly", "Wrote docs\n", "Wrote docs", nil},
		{"empty then number", "\n   \n1\n", "Add OAuth integration", nil},
		{"other then empty then text", "3\n\nFixed CI\n", "Fixed CI", nil},
		{"out of range number is text", "9\n", "9", nil},
		{"eof", "", "", ErrPromptAborted},
		{"only blanks then eof", "\n\n", "", ErrPromptAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := PromptLines(context.Background(), strings.NewReader(tt.input), &out, testRequest(""))
			if !errors.Is(err, tt.err) {
				t.Fatalf("Expected error %v, got %v", tt.err, err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRunWithSpinnerNonTerminal(t *testing.T) {
	var out bytes.Buffer
	called := false
	err := RunWithSpinner(&out, "Syncing", func() error {
		called = true
		return errors.New("boom")
	})
	if !called || err == nil || err.Error() != "boom" {
		t.Errorf("Expected fn to run directly and return its error, got called=%v err=%v", called, err)
	}
}

func TestSpinnerCycles(t *testing.T) {
	s := NewSpinner()
	first := s.View()
	for i := 0; i < len(s.frames); i++ {
		s.Next()
	}
	if s.View() != first {
		t.Error("Expected spinner to wrap around")
	}
}
