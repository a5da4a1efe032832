// Package sessions reads the coding assistant's conversation logs for a
// project and distills what a work session was about.
package sessions

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/strrl/worktrack/internal/db"
	"github.com/strrl/worktrack/pkg/models"
)

const (
	queryTimeout      = 30 * time.Second
	maxSummaryLookups = 200
	maxFeatureLength  = 72
	maxTranscript     = 40
)

// Options configures an Analyzer
type Options struct {
	// ProjectsDir holds the per-project JSONL logs.
	// Defaults to ~/.claude/projects.
	ProjectsDir string

	// Summarizer is optional. When set, the transcript is condensed by an LLM.
	Summarizer Summarizer

	// ScanOnly reads the log files directly instead of going through DuckDB
	ScanOnly bool

	Logger *slog.Logger
}

// Analyzer produces a conversation analysis for a project and time window
type Analyzer struct {
	projectsDir string
	summarizer  Summarizer
	scanOnly    bool
	logger      *slog.Logger
}

func NewAnalyzer(opts Options) (*Analyzer, error) {
	if opts.ProjectsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		opts.ProjectsDir = filepath.Join(homeDir, ".claude", "projects")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Analyzer{
		projectsDir: opts.ProjectsDir,
		summarizer:  opts.Summarizer,
		scanOnly:    opts.ScanOnly,
		logger:      opts.Logger,
	}, nil
}

// Analyze returns nil when no conversation happened in the project during
// [start, end].
func (a *Analyzer) Analyze(ctx context.Context, projectPath string, start, end time.Time) (*models.Analysis, error) {
	entries, err := a.loadEntries(ctx, projectPath, start, end)
	if err != nil {
		return nil, err
	}

	analysis := buildAnalysis(entries)
	if analysis == nil {
		return nil, nil
	}

	if a.summarizer != nil {
		digest, err := a.summarizer.Summarize(ctx, RenderTranscript(entries, maxTranscript))
		if err != nil {
			a.logger.Warn("conversation summary failed, using log heuristics", "error", err)
		} else {
			if digest.Summary != "" {
				analysis.Summary = digest.Summary
			}
			if len(digest.Features) > 0 {
				analysis.SuggestedFeatures = digest.Features
			}
		}
	}
	return analysis, nil
}

func (a *Analyzer) loadEntries(ctx context.Context, projectPath string, start, end time.Time) ([]Entry, error) {
	if !a.scanOnly {
		entries, err := a.queryEntries(ctx, projectPath, start, end)
		if err == nil {
			return entries, nil
		}
		a.logger.Debug("DuckDB query failed, scanning log files", "error", err)
	}
	return a.scanEntries(projectPath, start, end)
}

func (a *Analyzer) glob() string {
	return filepath.Join(a.projectsDir, "**", "*.jsonl")
}

// queryEntries reads matching messages through DuckDB, then looks up the
// summary lines that point at any of them
func (a *Analyzer) queryEntries(ctx context.Context, projectPath string, start, end time.Time) ([]Entry, error) {
	database, err := db.GetDB()
	if err != nil {
		return nil, err
	}
	// Don't close the singleton connection

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	messagesQuery := fmt.Sprintf(`
		SELECT
			CAST(type AS VARCHAR) as type,
			CAST(uuid AS VARCHAR) as uuid_str,
			to_json(message) as message_json,
			CAST(timestamp AS VARCHAR) as ts
		FROM %s
		WHERE cwd = ?
		AND type IN ('user', 'assistant')
		AND message IS NOT NULL
		ORDER BY timestamp ASC
	`, db.ReadJSONLines(a.glob()))

	rows, err := database.QueryContext(queryCtx, messagesQuery, projectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to execute messages query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	var uuids []string
	for rows.Next() {
		var typ, uuid, message, ts sql.NullString
		if err := rows.Scan(&typ, &uuid, &message, &ts); err != nil {
			continue
		}

		entry, ok := parseRecord(rawLine{
			Type:      typ.String,
			UUID:      uuid.String,
			Cwd:       projectPath,
			Timestamp: ts.String,
			Message:   []byte(message.String),
		})
		if !ok || !inWindow(entry.Timestamp, start, end) {
			continue
		}
		entries = append(entries, entry)
		if entry.UUID != "" {
			uuids = append(uuids, entry.UUID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	if len(uuids) > maxSummaryLookups {
		uuids = uuids[len(uuids)-maxSummaryLookups:]
	}
	entries = append(entries, a.querySummaries(queryCtx, database, uuids)...)
	return entries, nil
}

func (a *Analyzer) querySummaries(ctx context.Context, database *sql.DB, uuids []string) []Entry {
	if len(uuids) == 0 {
		return nil
	}

	placeholders := make([]string, len(uuids))
	args := make([]interface{}, len(uuids))
	for i, id := range uuids {
		placeholders[i] = "?"
		args[i] = id
	}

	summariesQuery := fmt.Sprintf(`
		SELECT
			CAST(leafUuid AS VARCHAR) as leaf_uuid,
			summary
		FROM %s
		WHERE type = 'summary'
		AND CAST(leafUuid AS VARCHAR) IN (%s)
	`, db.ReadJSONLines(a.glob()), strings.Join(placeholders, ","))

	rows, err := database.QueryContext(ctx, summariesQuery, args...)
	if err != nil {
		a.logger.Debug("summary lookup failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var leaf, summary sql.NullString
		if err := rows.Scan(&leaf, &summary); err != nil {
			continue
		}
		if text := strings.TrimSpace(summary.String); text != "" {
			out = append(out, Entry{Kind: KindSummary, LeafUUID: leaf.String, Text: text})
		}
	}
	return out
}

// scanEntries walks the log files line by line. Lines that do not parse are
// skipped.
func (a *Analyzer) scanEntries(projectPath string, start, end time.Time) ([]Entry, error) {
	files, err := a.logFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation logs: %w", err)
	}

	var entries []Entry
	for _, file := range files {
		fileEntries, err := scanFile(file, projectPath, start, end)
		if err != nil {
			a.logger.Debug("failed to read conversation log", "file", file, "error", err)
			continue
		}
		entries = append(entries, fileEntries...)
	}
	return entries, nil
}

// logFiles lists every .jsonl file below projectsDir at any depth, the same
// set the DuckDB glob reads.
func (a *Analyzer) logFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(a.projectsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == a.projectsDir {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func scanFile(path, projectPath string, start, end time.Time) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matched []Entry
	var summaries []Entry
	uuids := make(map[string]bool)

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		entry, ok := ParseLine(sc.Bytes())
		if !ok {
			continue
		}
		switch entry.Kind {
		case KindSummary:
			summaries = append(summaries, entry)
		case KindUser, KindAssistant:
			if entry.Cwd != projectPath || !inWindow(entry.Timestamp, start, end) {
				continue
			}
			matched = append(matched, entry)
			if entry.UUID != "" {
				uuids[entry.UUID] = true
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	for _, s := range summaries {
		if uuids[s.LeafUUID] && s.Text != "" {
			matched = append(matched, s)
		}
	}
	return matched, nil
}

func inWindow(t, start, end time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !t.Before(start) && !t.After(end)
}

// buildAnalysis derives features from summary lines, falling back to the
// first substantive user prompt
func buildAnalysis(entries []Entry) *models.Analysis {
	analysis := &models.Analysis{}
	seen := make(map[string]bool)
	var firstPrompt string

	for _, e := range entries {
		switch e.Kind {
		case KindUser, KindAssistant:
			if e.Text == "" && len(e.Tools) == 0 {
				continue
			}
			analysis.MessageCount++
			if e.Kind == KindUser && firstPrompt == "" && isSubstantivePrompt(e.Text) {
				firstPrompt = e.Text
			}
		case KindSummary:
			if e.Text == "" || seen[e.Text] {
				continue
			}
			seen[e.Text] = true
			analysis.SuggestedFeatures = append(analysis.SuggestedFeatures, e.Text)
			analysis.Summary = e.Text
		}
	}

	if analysis.MessageCount == 0 && len(analysis.SuggestedFeatures) == 0 {
		return nil
	}
	if len(analysis.SuggestedFeatures) == 0 && firstPrompt != "" {
		analysis.SuggestedFeatures = []string{featureFromPrompt(firstPrompt)}
	}
	return analysis
}

func isSubstantivePrompt(text string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < 8 {
		return false
	}
	// slash commands, command output wrappers and interrupt markers
	if strings.HasPrefix(text, "/") || strings.HasPrefix(text, "<") || strings.HasPrefix(text, "[Request interrupted") {
		return false
	}
	return !strings.HasPrefix(text, "Caveat:")
}

func featureFromPrompt(text string) string {
	line := strings.TrimSpace(text)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, ".?! ")

	runes := []rune(line)
	if len(runes) <= maxFeatureLength {
		return line
	}
	cut := string(runes[:maxFeatureLength])
	if i := strings.LastIndexByte(cut, ' '); i > maxFeatureLength/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// RenderTranscript formats up to limit user/assistant entries for a summarizer
func RenderTranscript(entries []Entry, limit int) string {
	var lines []string
	for _, e := range entries {
		if len(lines) >= limit {
			break
		}
		var prefix string
		switch e.Kind {
		case KindUser:
			prefix = "[User] "
		case KindAssistant:
			prefix = "[Assistant] "
		default:
			continue
		}

		var parts []string
		if e.Text != "" {
			parts = append(parts, truncateString(e.Text, 400))
		}
		for _, tool := range e.Tools {
			parts = append(parts, "tool "+tool)
		}
		if len(parts) == 0 {
			continue
		}
		lines = append(lines, prefix+strings.Join(parts, " | "))
	}
	return strings.Join(lines, "\n")
}
