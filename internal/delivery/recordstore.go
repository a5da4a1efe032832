package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/strrl/worktrack/pkg/models"
)

// ErrNotConfigured is returned by the record store when no endpoint is set
var ErrNotConfigured = errors.New("record store not configured")

const defaultHTTPTimeout = 15 * time.Second

// RecordStore posts sessions to an HTTP endpoint
type RecordStore struct {
	url    string
	token  string
	client *http.Client
}

type recordPayload struct {
	ID              string    `json:"id"`
	ProjectPath     string    `json:"project_path"`
	ProjectName     string    `json:"project_name"`
	Branch          string    `json:"branch"`
	Feature         string    `json:"feature"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int64     `json:"duration_seconds"`
	EndReason       string    `json:"end_reason"`
	Commits         []string  `json:"commits"`
	ChangedFiles    []string  `json:"changed_files"`
	PullRequestURL  string    `json:"pull_request_url,omitempty"`
	Summary         string    `json:"summary,omitempty"`
}

type recordResponse struct {
	ID string `json:"id"`
}

// NewRecordStore returns a client for url. An empty url yields a store
// whose Sync always fails with ErrNotConfigured, which keeps sessions queued.
func NewRecordStore(url, token string) *RecordStore {
	return &RecordStore{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Configured reports whether an endpoint is set
func (r *RecordStore) Configured() bool {
	return r.url != ""
}

func (r *RecordStore) Sync(ctx context.Context, session models.Session) (string, error) {
	if !r.Configured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(toPayload(session))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("record store error (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	var out recordResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("record store returned no id")
	}
	return out.ID, nil
}

func toPayload(s models.Session) recordPayload {
	return recordPayload{
		ID:              s.ID,
		ProjectPath:     s.ProjectPath,
		ProjectName:     s.ProjectName,
		Branch:          s.Branch,
		Feature:         s.Feature,
		StartedAt:       s.StartedAt.UTC(),
		EndedAt:         s.EndedAt.UTC(),
		DurationSeconds: int64(s.Duration().Seconds()),
		EndReason:       string(s.EndReason),
		Commits:         nonNil(s.Commits),
		ChangedFiles:    nonNil(s.ChangedFiles),
		PullRequestURL:  s.PullRequestURL,
		Summary:         s.Summary,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
