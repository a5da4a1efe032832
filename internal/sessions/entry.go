package sessions

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Kind tags a conversation log line
type Kind int

const (
	KindUnknown Kind = iota
	KindUser
	KindAssistant
	KindSummary
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindAssistant:
		return "assistant"
	case KindSummary:
		return "summary"
	}
	return "unknown"
}

// Entry is one parsed line of a conversation log
type Entry struct {
	Kind      Kind
	UUID      string
	Cwd       string
	Timestamp time.Time

	// Text holds the human readable text blocks of a message, or the summary
	// text for KindSummary. Tool results are not included.
	Text  string
	Tools []string

	// LeafUUID links a summary line to the last message it covers
	LeafUUID string
}

type rawLine struct {
	Type      string          `json:"type"`
	UUID      string          `json:"uuid"`
	Cwd       string          `json:"cwd"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
	Summary   string          `json:"summary"`
	LeafUUID  string          `json:"leafUuid"`
}

// ParseLine decodes one JSONL line. ok is false when the line is not valid
// JSON or is a user/assistant line whose message cannot be read; callers skip
// such lines.
func ParseLine(line []byte) (Entry, bool) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, false
	}
	return parseRecord(raw)
}

func parseRecord(raw rawLine) (Entry, bool) {
	e := Entry{
		UUID:     raw.UUID,
		Cwd:      raw.Cwd,
		LeafUUID: raw.LeafUUID,
	}
	if raw.Timestamp != "" {
		if t, err := parseTimestamp(raw.Timestamp); err == nil {
			e.Timestamp = t
		}
	}

	switch raw.Type {
	case "user", "assistant":
		if raw.Type == "user" {
			e.Kind = KindUser
		} else {
			e.Kind = KindAssistant
		}
		text, tools, err := parseMessage(raw.Message)
		if err != nil {
			return Entry{}, false
		}
		e.Text = text
		e.Tools = tools
	case "summary":
		e.Kind = KindSummary
		e.Text = strings.TrimSpace(raw.Summary)
	default:
		e.Kind = KindUnknown
	}
	return e, true
}

// parseMessage extracts text and tool names from a message object whose
// content is either a string or a list of typed blocks
func parseMessage(raw json.RawMessage) (string, []string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil, fmt.Errorf("missing message")
	}

	// DuckDB's to_json can hand back the object as a quoted string
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		raw = json.RawMessage(quoted)
	}

	var msg struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", nil, fmt.Errorf("failed to decode message: %w", err)
	}

	var text string
	if err := json.Unmarshal(msg.Content, &text); err == nil {
		return strings.TrimSpace(text), nil, nil
	}

	var blocks []struct {
		Type  string         `json:"type"`
		Text  string         `json:"text"`
		Name  string         `json:"name"`
		Input map[string]any `json:"input"`
	}
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return "", nil, fmt.Errorf("failed to decode message content: %w", err)
	}

	var parts []string
	var tools []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" && !strings.Contains(b.Text, "system-reminder") {
				parts = append(parts, strings.TrimSpace(b.Text))
			}
		case "tool_use":
			tools = append(tools, describeTool(b.Name, b.Input))
		}
	}
	return strings.Join(parts, "\n"), tools, nil
}

func describeTool(name string, input map[string]any) string {
	if name == "" {
		name = "unknown"
	}
	if cmd, ok := input["command"].(string); ok {
		return name + ": " + truncateString(cmd, 30)
	}
	if path, ok := input["file_path"].(string); ok {
		return name + ": " + filepath.Base(path)
	}
	if pattern, ok := input["pattern"].(string); ok {
		return name + ": " + truncateString(pattern, 20)
	}
	return name
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// truncateString collapses whitespace and cuts s to maxLen runes
func truncateString(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")

	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
