// Package suggest ranks candidate descriptions of what a session worked on.
package suggest

import (
	"sort"
	"strings"
	"unicode"

	"github.com/strrl/worktrack/pkg/models"
)

// Confidence weights per source, highest first.
const (
	pullRequestConfidence  = 1.0
	commitConfidence       = 0.8
	conversationConfidence = 0.7
	branchConfidence       = 0.6

	maxCommits       = 5
	overlapThreshold = 0.6
	minBranchFeature = 3
)

var branchPrefixes = []string{"feature/", "feat/", "fix/", "bugfix/", "hotfix/", "chore/", "refactor/"}

var trunkBranches = map[string]bool{"main": true, "master": true}

// Rank builds the deduplicated suggestion list for a finished session.
// analysis may be nil. The result is ordered by confidence, ties keep
// generation order.
func Rank(gitCtx models.GitContext, analysis *models.Analysis) []models.Suggestion {
	var candidates []models.Suggestion

	if pr, ok := gitCtx.MatchingPullRequest(); ok {
		candidates = append(candidates, models.Suggestion{
			Text:       pr.Title,
			Source:     models.SourcePullRequest,
			Confidence: pullRequestConfidence,
		})
	}

	for i, c := range gitCtx.Commits {
		if i >= maxCommits {
			break
		}
		candidates = append(candidates, models.Suggestion{
			Text:       subjectLine(c.Message),
			Source:     models.SourceCommit,
			Confidence: commitConfidence,
		})
	}

	if analysis != nil {
		for _, f := range analysis.SuggestedFeatures {
			candidates = append(candidates, models.Suggestion{
				Text:       f,
				Source:     models.SourceConversation,
				Confidence: conversationConfidence,
			})
		}
	}

	if feature, ok := BranchFeature(gitCtx.Branch); ok {
		candidates = append(candidates, models.Suggestion{
			Text:       feature,
			Source:     models.SourceBranch,
			Confidence: branchConfidence,
		})
	}

	accepted := dedupe(candidates)
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Confidence > accepted[j].Confidence
	})
	return accepted
}

// BranchFeature turns a branch name like "feature/token-refresh" into
// "Token refresh". Trunk branches and results shorter than three
// characters yield false.
func BranchFeature(branch string) (string, bool) {
	branch = strings.TrimSpace(branch)
	if branch == "" || branch == models.NoBranch || branch == "HEAD" || trunkBranches[branch] {
		return "", false
	}

	lower := strings.ToLower(branch)
	for _, prefix := range branchPrefixes {
		if strings.HasPrefix(lower, prefix) {
			branch = branch[len(prefix):]
			break
		}
	}

	branch = strings.Map(func(r rune) rune {
		switch r {
		case '-', '_', '/', '.':
			return ' '
		}
		return r
	}, branch)
	branch = strings.Join(strings.Fields(branch), " ")

	if len([]rune(branch)) < minBranchFeature {
		return "", false
	}

	runes := []rune(branch)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes), true
}

func dedupe(candidates []models.Suggestion) []models.Suggestion {
	var accepted []models.Suggestion
	var seen []string

	for _, c := range candidates {
		c.Text = strings.TrimSpace(c.Text)
		if c.Text == "" {
			continue
		}
		norm := normalize(c.Text)
		if norm == "" || isDuplicate(norm, seen) {
			continue
		}
		accepted = append(accepted, c)
		seen = append(seen, norm)
	}
	return accepted
}

func isDuplicate(norm string, seen []string) bool {
	for _, s := range seen {
		if norm == s || strings.Contains(s, norm) || strings.Contains(norm, s) {
			return true
		}
		if wordOverlap(norm, s) > overlapThreshold {
			return true
		}
	}
	return false
}

// normalize lowercases, drops everything but letters, digits and
// whitespace, and collapses runs of whitespace.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// wordOverlap is the intersection-over-union of the two word sets
func wordOverlap(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}

	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func subjectLine(msg string) string {
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
