package models

import (
	"fmt"
	"time"
)

// NoBranch is recorded when the project is not inside a git repository
const NoBranch = "(no repo)"

// EndReason tells why a session was finalized
type EndReason string

const (
	EndProcessExit   EndReason = "process-exit"
	EndIdleTimeout   EndReason = "idle-timeout"
	EndManualStop    EndReason = "manual-stop"
	EndProjectSwitch EndReason = "project-switch"
)

// ParseEndReason validates a persisted end reason
func ParseEndReason(s string) (EndReason, error) {
	switch r := EndReason(s); r {
	case EndProcessExit, EndIdleTimeout, EndManualStop, EndProjectSwitch:
		return r, nil
	}
	return "", fmt.Errorf("unknown end reason %q", s)
}

// Session is one tracked unit of work. Once saved only the delivery
// fields (Synced, ExternalID, Notified) change.
type Session struct {
	ID             string
	ProjectPath    string
	ProjectName    string
	Branch         string
	Feature        string
	StartedAt      time.Time
	EndedAt        time.Time
	EndReason      EndReason
	Commits        []string
	ChangedFiles   []string
	PullRequestURL string // empty when no PR matched
	Summary        string // conversation summary, may be empty
	Synced         bool
	Notified       bool
	ExternalID     string
}

// Duration is derived from the timestamps and never negative
func (s Session) Duration() time.Duration {
	d := s.EndedAt.Sub(s.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// SuggestionSource tags where a feature suggestion came from
type SuggestionSource string

const (
	SourcePullRequest  SuggestionSource = "pull-request"
	SourceCommit       SuggestionSource = "commit"
	SourceBranch       SuggestionSource = "branch"
	SourceConversation SuggestionSource = "conversation"
)

// Suggestion is a ranked candidate description of the session's work
type Suggestion struct {
	Text       string
	Source     SuggestionSource
	Confidence float64
}

// Commit is a single commit observed since the session started
type Commit struct {
	Hash    string
	Message string
	When    time.Time
}

// PullRequest is an open pull request in the project's repository
type PullRequest struct {
	Number int
	Title  string
	URL    string
	Branch string
}

// GitContext is what the version-control provider knows about a project.
// Outside a repository only Branch is set, to NoBranch.
type GitContext struct {
	Branch       string
	IsRepo       bool
	Commits      []Commit // newest first
	PullRequests []PullRequest
	ChangedFiles []string
}

// MatchingPullRequest returns the open PR whose head branch is the current branch
func (g GitContext) MatchingPullRequest() (PullRequest, bool) {
	if !g.IsRepo || g.Branch == "" || g.Branch == NoBranch {
		return PullRequest{}, false
	}
	for _, pr := range g.PullRequests {
		if pr.Branch == g.Branch {
			return pr, true
		}
	}
	return PullRequest{}, false
}

// Analysis is the optional result of reading the assistant conversation
type Analysis struct {
	Summary           string
	SuggestedFeatures []string
	MessageCount      int
}

// FeatureRequest is what the operator is shown when asked to describe a
// finished session. Note is empty when none was attached.
type FeatureRequest struct {
	ProjectName  string
	Branch       string
	Duration     time.Duration
	EndReason    EndReason
	Commits      []string
	ChangedFiles []string
	Suggestions  []Suggestion
	Note         string
}
