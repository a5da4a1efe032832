// Package gitctx gathers version-control context for a project directory
// by shelling out to git and, when installed, the GitHub CLI.
//
// Nothing here returns an error to the caller. A directory outside a
// repository yields a branch-only context, and any failing command simply
// leaves its part of the context empty.
package gitctx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/strrl/worktrack/pkg/models"
)

const defaultTimeout = 10 * time.Second

// Provider runs git and gh in a project directory
type Provider struct {
	logger  *slog.Logger
	timeout time.Duration
}

func New(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{logger: logger, timeout: defaultTimeout}
}

// Branch returns the current branch, or models.NoBranch outside a repository
func (p *Provider) Branch(ctx context.Context, dir string) string {
	if !p.isRepo(ctx, dir) {
		return models.NoBranch
	}
	return p.branch(ctx, dir)
}

// Context collects branch, commits since the given time, open pull requests
// and changed files
func (p *Provider) Context(ctx context.Context, dir string, since time.Time) models.GitContext {
	if !p.isRepo(ctx, dir) {
		return models.GitContext{Branch: models.NoBranch}
	}

	gc := models.GitContext{
		Branch: p.branch(ctx, dir),
		IsRepo: true,
	}
	gc.Commits = p.commitsSince(ctx, dir, since)
	gc.ChangedFiles = p.changedFiles(ctx, dir, gc.Commits)
	gc.PullRequests = p.openPullRequests(ctx, dir)
	return gc
}

func (p *Provider) isRepo(ctx context.Context, dir string) bool {
	out, err := p.run(ctx, dir, "git", "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

func (p *Provider) branch(ctx context.Context, dir string) string {
	out, err := p.run(ctx, dir, "git", "branch", "--show-current")
	if err != nil {
		p.logger.Debug("failed to read branch", "dir", dir, "error", err)
		return models.NoBranch
	}
	if b := strings.TrimSpace(out); b != "" {
		return b
	}
	return "HEAD" // detached
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

func (p *Provider) commitsSince(ctx context.Context, dir string, since time.Time) []models.Commit {
	out, err := p.run(ctx, dir, "git", "log",
		"--since="+since.Format(time.RFC3339),
		"--format=%H"+fieldSep+"%cI"+fieldSep+"%B"+recordSep)
	if err != nil {
		// an empty repository has no HEAD to log from
		p.logger.Debug("failed to read commits", "dir", dir, "error", err)
		return nil
	}
	return parseLog(out)
}

func parseLog(out string) []models.Commit {
	var commits []models.Commit
	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimLeft(record, "\n")
		if strings.TrimSpace(record) == "" {
			continue
		}
		fields := strings.SplitN(record, fieldSep, 3)
		if len(fields) != 3 {
			continue
		}
		c := models.Commit{
			Hash:    fields[0],
			Message: strings.TrimSpace(fields[2]),
		}
		if when, err := time.Parse(time.RFC3339, fields[1]); err == nil {
			c.When = when
		}
		commits = append(commits, c)
	}
	return commits
}

// changedFiles is the union of files touched by the session's commits and
// files with uncommitted changes
func (p *Provider) changedFiles(ctx context.Context, dir string, commits []models.Commit) []string {
	files := make(map[string]bool)

	if len(commits) > 0 {
		oldest := commits[len(commits)-1].Hash
		out, err := p.run(ctx, dir, "git", "diff", "--name-only", oldest+"^", "HEAD")
		if err != nil {
			// the oldest commit is the root commit; list each commit instead
			for _, c := range commits {
				if out, err := p.run(ctx, dir, "git", "show", "--name-only", "--format=", c.Hash); err == nil {
					addLines(files, out)
				}
			}
		} else {
			addLines(files, out)
		}
	}

	if out, err := p.run(ctx, dir, "git", "status", "--porcelain"); err == nil {
		for _, path := range parsePorcelain(out) {
			files[path] = true
		}
	}

	if len(files) == 0 {
		return nil
	}
	result := make([]string, 0, len(files))
	for f := range files {
		result = append(result, f)
	}
	sort.Strings(result)
	return result
}

func parsePorcelain(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		paths = append(paths, strings.Trim(path, `"`))
	}
	return paths
}

func addLines(set map[string]bool, out string) {
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			set[line] = true
		}
	}
}

type ghPullRequest struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	HeadRefName string `json:"headRefName"`
}

func (p *Provider) openPullRequests(ctx context.Context, dir string) []models.PullRequest {
	if _, err := exec.LookPath("gh"); err != nil {
		return nil
	}

	out, err := p.run(ctx, dir, "gh", "pr", "list", "--state", "open", "--json", "number,title,url,headRefName")
	if err != nil {
		p.logger.Debug("failed to list pull requests", "dir", dir, "error", err)
		return nil
	}

	var prs []ghPullRequest
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		p.logger.Debug("failed to decode pull requests", "error", err)
		return nil
	}

	result := make([]models.PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, models.PullRequest{
			Number: pr.Number,
			Title:  pr.Title,
			URL:    pr.URL,
			Branch: pr.HeadRefName,
		})
	}
	return result
}

func (p *Provider) run(ctx context.Context, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
