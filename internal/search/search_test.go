package search

import (
	"testing"

	"github.com/strrl/worktrack/pkg/models"
)

func testSessions() []models.Session {
	return []models.Session{
		{ID: "a", ProjectName: "api", Branch: "feature/oauth-login", Feature: "Add OAuth login", Commits: []string{"Wire oauth callback"}},
		{ID: "b", ProjectName: "web", Branch: "main", Feature: "Fix flaky dashboard test", Summary: "Stabilized chart rendering"},
		{ID: "c", ProjectName: "api", Branch: "fix/rate-limit", Feature: "Tune rate limiter"},
	}
}

func TestQueryMatchesFeature(t *testing.T) {
	idx, err := Build(testSessions())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Query("oauth", 10)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("Expected only session a, got %+v", hits)
	}
	if hits[0].Score <= 0 {
		t.Errorf("Expected positive score, got %v", hits[0].Score)
	}
}

func TestQueryMatchesSummaryAndBranch(t *testing.T) {
	idx, err := Build(testSessions())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer idx.Close()

	tests := []struct {
		query string
		want  string
	}{
		{"chart", "b"},
		{"limit", "c"},
		{"callback", "a"},
	}
	for _, tt := range tests {
		hits, err := idx.Query(tt.query, 10)
		if err != nil {
			t.Fatalf("Query %q failed: %v", tt.query, err)
		}
		if len(hits) == 0 || hits[0].ID != tt.want {
			t.Errorf("Query %q: expected %s first, got %+v", tt.query, tt.want, hits)
		}
	}
}

func TestQueryEmpty(t *testing.T) {
	idx, err := Build(nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer idx.Close()

	hits, err := idx.Query("anything", 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("Expected no hits on empty index, got %+v, %v", hits, err)
	}

	idx2, _ := Build(testSessions())
	defer idx2.Close()
	if hits, _ := idx2.Query("   ", 5); len(hits) != 0 {
		t.Errorf("Expected blank query to return nothing, got %+v", hits)
	}
}
