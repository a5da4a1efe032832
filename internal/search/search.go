// Package search provides full-text lookup over recorded sessions.
package search

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/strrl/worktrack/pkg/models"
)

// Index is an in-memory bleve index of sessions
type Index struct {
	index bleve.Index
	size  int
}

// Hit is a single search result
type Hit struct {
	ID    string
	Score float64
}

type document struct {
	ID      string `json:"id"`
	Feature string `json:"feature"`
	Summary string `json:"summary"`
	Branch  string `json:"branch"`
	Project string `json:"project"`
	Commits string `json:"commits"`
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	sessionMapping := bleve.NewDocumentMapping()

	idField := bleve.NewTextFieldMapping()
	idField.Analyzer = keyword.Name
	idField.Store = true
	idField.Index = true
	sessionMapping.AddFieldMappingsAt("id", idField)

	for _, name := range []string{"feature", "summary", "branch", "project", "commits"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = standard.Name
		f.Store = false
		f.Index = true
		sessionMapping.AddFieldMappingsAt(name, f)
	}

	indexMapping.DefaultMapping = sessionMapping
	return indexMapping
}

// Build indexes the given sessions in memory
func Build(sessions []models.Session) (*Index, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}

	batch := index.NewBatch()
	for _, s := range sessions {
		doc := document{
			ID:      s.ID,
			Feature: s.Feature,
			Summary: s.Summary,
			Branch:  strings.NewReplacer("/", " ", "-", " ", "_", " ").Replace(s.Branch),
			Project: s.ProjectName,
			Commits: strings.Join(s.Commits, "\n"),
		}
		if err := batch.Index(s.ID, doc); err != nil {
			index.Close()
			return nil, fmt.Errorf("failed to index session %s: %w", s.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		index.Close()
		return nil, fmt.Errorf("failed to write search index: %w", err)
	}

	return &Index{index: index, size: len(sessions)}, nil
}

// Query returns up to k sessions matching q, best first
func (i *Index) Query(q string, k int) ([]Hit, error) {
	if strings.TrimSpace(q) == "" || i.size == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(q))
	req.Size = k

	result, err := i.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search sessions: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

func (i *Index) Close() error {
	return i.index.Close()
}
