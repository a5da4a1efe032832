package sessions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		ok    bool
		kind  Kind
		text  string
		tools int
	}{
		{
			name: "user string content",
			line: `{"type":"user","uuid":"u1","cwd":"/work/api","timestamp":"2026-03-01T09:05:00.000Z","message":{"role":"user","content":"Add token refresh to the client"}}`,
			ok:   true, kind: KindUser, text: "Add token refresh to the client",
		},
		{
			name: "assistant blocks",
			line: `{"type":"assistant","uuid":"a1","message":{"role":"assistant","content":[{"type":"text","text":"Reading the client."},{"type":"tool_use","name":"Read","input":{"file_path":"/work/api/client.go"}}]}}`,
			ok:   true, kind: KindAssistant, text: "Reading the client.", tools: 1,
		},
		{
			name: "user tool result only",
			line: `{"type":"user","uuid":"u2","message":{"role":"user","content":[{"type":"tool_result","content":"ok"}]}}`,
			ok:   true, kind: KindUser, text: "",
		},
		{
			name: "summary",
			line: `{"type":"summary","summary":"OAuth token refresh","leafUuid":"a1"}`,
			ok:   true, kind: KindSummary, text: "OAuth token refresh",
		},
		{
			name: "unknown type",
			line: `{"type":"file-history-snapshot","messageId":"x"}`,
			ok:   true, kind: KindUnknown,
		},
		{name: "truncated json", line: `{"type":"user","message":{"content":"hal`, ok: false},
		{name: "not json", line: `garbage`, ok: false},
		{name: "user without message", line: `{"type":"user","uuid":"u3"}`, ok: false},
		{name: "content of wrong type", line: `{"type":"assistant","message":{"content":42}}`, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := ParseLine([]byte(tt.line))
			if ok != tt.ok {
				t.Fatalf("ParseLine ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if e.Kind != tt.kind || e.Text != tt.text || len(e.Tools) != tt.tools {
				t.Errorf("Unexpected entry: kind=%s text=%q tools=%v", e.Kind, e.Text, e.Tools)
			}
		})
	}
}

func TestParseLineQuotedMessage(t *testing.T) {
	line := `{"type":"user","message":"{\"role\":\"user\",\"content\":\"Fix the flaky test\"}"}`
	e, ok := ParseLine([]byte(line))
	if !ok || e.Text != "Fix the flaky test" {
		t.Errorf("Expected quoted message to decode, got ok=%v text=%q", ok, e.Text)
	}
}

func writeLog(t *testing.T, dir string, lines ...string) {
	t.Helper()
	projDir := filepath.Join(dir, "-work-api")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(projDir, "session.jsonl"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newScanAnalyzer(t *testing.T, dir string, s Summarizer) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(Options{ProjectsDir: dir, ScanOnly: true, Summarizer: s})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

var (
	windowStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

func TestAnalyzeSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir,
		`{"type":"user","uuid":"u1","cwd":"/work/api","timestamp":"2026-03-01T09:05:00Z","message":{"role":"user","content":"/clear"}}`,
		`{"type":"user","uuid":"u2","cwd":"/work/api","timestamp":"2026-03-01T09:06:00Z","message":{"role":"user","content":"Add retry queue for failed syncs.\nIt should run at start."}}`,
		`{this line is broken`,
		`{"type":"assistant","uuid":"a1","cwd":"/work/api","timestamp":"2026-03-01T09:07:00Z","message":{"role":"assistant","content":[{"type":"text","text":"Sure."}]}}`,
		`{"type":"user","uuid":"u3","cwd":"/work/other","timestamp":"2026-03-01T09:08:00Z","message":{"role":"user","content":"Unrelated project prompt"}}`,
		`{"type":"user","uuid":"u4","cwd":"/work/api","timestamp":"2026-03-01T11:00:00Z","message":{"role":"user","content":"Outside the window prompt"}}`,
	)

	analysis, err := newScanAnalyzer(t, dir, nil).Analyze(context.Background(), "/work/api", windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if analysis == nil {
		t.Fatal("Expected an analysis")
	}
	if analysis.MessageCount != 3 {
		t.Errorf("Expected 3 messages, got %d", analysis.MessageCount)
	}
	if len(analysis.SuggestedFeatures) != 1 || analysis.SuggestedFeatures[0] != "Add retry queue for failed syncs" {
		t.Errorf("Expected feature from first substantive prompt, got %v", analysis.SuggestedFeatures)
	}
}

func TestAnalyzePrefersSummaryLines(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir,
		`{"type":"summary","summary":"Registry atomic rewrite","leafUuid":"a1"}`,
		`{"type":"summary","summary":"Some other conversation","leafUuid":"zzz"}`,
		`{"type":"user","uuid":"u1","cwd":"/work/api","timestamp":"2026-03-01T09:05:00Z","message":{"role":"user","content":"Make the registry writes atomic"}}`,
		`{"type":"assistant","uuid":"a1","cwd":"/work/api","timestamp":"2026-03-01T09:06:00Z","message":{"role":"assistant","content":"Done."}}`,
	)

	analysis, err := newScanAnalyzer(t, dir, nil).Analyze(context.Background(), "/work/api", windowStart, windowEnd)
	if err != nil || analysis == nil {
		t.Fatalf("Expected analysis, got %v err=%v", analysis, err)
	}
	if len(analysis.SuggestedFeatures) != 1 || analysis.SuggestedFeatures[0] != "Registry atomic rewrite" {
		t.Errorf("Expected summary line as feature, got %v", analysis.SuggestedFeatures)
	}
	if analysis.Summary != "Registry atomic rewrite" {
		t.Errorf("Expected summary text, got %q", analysis.Summary)
	}
}

func TestAnalyzeNoConversation(t *testing.T) {
	analysis, err := newScanAnalyzer(t, t.TempDir(), nil).Analyze(context.Background(), "/work/api", windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if analysis != nil {
		t.Errorf("Expected nil analysis, got %+v", analysis)
	}
}

func TestAnalyzeFindsNestedLogs(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "-work-api", "subagents")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	line := `{"type":"user","uuid":"u1","cwd":"/work/api","timestamp":"2026-03-01T09:05:00Z","message":{"role":"user","content":"Wire the nested log reader"}}`
	if err := os.WriteFile(filepath.Join(nested, "agent.jsonl"), []byte(line+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(nested, "notes.txt"), []byte(line+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	analysis, err := newScanAnalyzer(t, dir, nil).Analyze(context.Background(), "/work/api", windowStart, windowEnd)
	if err != nil || analysis == nil {
		t.Fatalf("Expected analysis from nested log, got %v err=%v", analysis, err)
	}
	if analysis.MessageCount != 1 {
		t.Errorf("Expected 1 message, got %d", analysis.MessageCount)
	}
}

func TestAnalyzeMissingProjectsDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	analysis, err := newScanAnalyzer(t, dir, nil).Analyze(context.Background(), "/work/api", windowStart, windowEnd)
	if err != nil || analysis != nil {
		t.Errorf("Expected nil analysis and no error, got %+v err=%v", analysis, err)
	}
}

type stubSummarizer struct {
	digest     Digest
	err        error
	transcript string
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) (Digest, error) {
	s.transcript = transcript
	return s.digest, s.err
}

func TestAnalyzeWithSummarizer(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir,
		`{"type":"user","uuid":"u1","cwd":"/work/api","timestamp":"2026-03-01T09:05:00Z","message":{"role":"user","content":"Wire the webhook notifier"}}`,
	)

	stub := &stubSummarizer{digest: Digest{Summary: "Added webhook notifications", Features: []string{"Webhook notifier"}}}
	analysis, err := newScanAnalyzer(t, dir, stub).Analyze(context.Background(), "/work/api", windowStart, windowEnd)
	if err != nil || analysis == nil {
		t.Fatalf("Expected analysis, got %v err=%v", analysis, err)
	}
	if analysis.Summary != "Added webhook notifications" || analysis.SuggestedFeatures[0] != "Webhook notifier" {
		t.Errorf("Expected summarizer output, got %+v", analysis)
	}
	if !strings.Contains(stub.transcript, "[User] Wire the webhook notifier") {
		t.Errorf("Unexpected transcript %q", stub.transcript)
	}

	// a failing summarizer falls back to the heuristics
	failing := &stubSummarizer{err: errors.New("rate limited")}
	analysis, err = newScanAnalyzer(t, dir, failing).Analyze(context.Background(), "/work/api", windowStart, windowEnd)
	if err != nil || analysis == nil {
		t.Fatalf("Expected heuristic analysis, got %v err=%v", analysis, err)
	}
	if analysis.SuggestedFeatures[0] != "Wire the webhook notifier" {
		t.Errorf("Expected prompt-derived feature, got %v", analysis.SuggestedFeatures)
	}
}

func TestParseDigest(t *testing.T) {
	reply := "Here you go:\n```json\n{\"summary\": \" Fixed login \", \"features\": [\"Login fix\", \"  \"]}\n```"
	d, err := parseDigest(reply)
	if err != nil {
		t.Fatalf("parseDigest failed: %v", err)
	}
	if d.Summary != "Fixed login" || len(d.Features) != 1 || d.Features[0] != "Login fix" {
		t.Errorf("Unexpected digest %+v", d)
	}

	if _, err := parseDigest("no json here"); err == nil {
		t.Error("Expected error without a JSON object")
	}
}

func TestNewSummarizer(t *testing.T) {
	if s, err := NewSummarizer("", "", "key"); s != nil || err != nil {
		t.Errorf("Expected nil summarizer without provider, got %v %v", s, err)
	}
	if s, err := NewSummarizer("anthropic", "", ""); s != nil || err != nil {
		t.Errorf("Expected nil summarizer without key, got %v %v", s, err)
	}
	if _, err := NewSummarizer("cohere", "", "key"); err == nil {
		t.Error("Expected error for unknown provider")
	}
	if s, _ := NewSummarizer("OpenAI", "", "key"); s == nil {
		t.Error("Expected OpenAI summarizer")
	}
}

func TestFeatureFromPrompt(t *testing.T) {
	long := "Please refactor the session registry so that it writes to a temporary file and renames it afterwards"
	got := featureFromPrompt(long)
	if len([]rune(got)) > maxFeatureLength+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("Expected truncated feature, got %q", got)
	}
	if got := featureFromPrompt("Fix the login bug?"); got != "Fix the login bug" {
		t.Errorf("Expected trailing punctuation trimmed, got %q", got)
	}
}
