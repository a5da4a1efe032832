package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docker/go-units"

	"github.com/strrl/worktrack/pkg/models"
)

// Notifier posts a short human summary of a session to a webhook.
// Slack and most chat incoming webhooks accept the {"text": ...} body.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Notify sends the summary. Without a webhook it does nothing and reports
// sent=false so the session is not marked notified.
func (n *Notifier) Notify(ctx context.Context, session models.Session) (bool, error) {
	if n.webhookURL == "" {
		return false, nil
	}

	body, err := json.Marshal(map[string]string{"text": RenderSummary(session)})
	if err != nil {
		return false, fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("webhook error (%d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return true, nil
}

// RenderSummary formats a session for people
func RenderSummary(s models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", s.ProjectName, s.Feature)
	fmt.Fprintf(&b, "Branch: %s\n", s.Branch)
	fmt.Fprintf(&b, "Duration: %s (%s)\n", units.HumanDuration(s.Duration()), s.EndReason)
	if len(s.Commits) > 0 {
		fmt.Fprintf(&b, "Commits: %d\n", len(s.Commits))
	}
	if len(s.ChangedFiles) > 0 {
		fmt.Fprintf(&b, "Files changed: %d\n", len(s.ChangedFiles))
	}
	if s.PullRequestURL != "" {
		fmt.Fprintf(&b, "PR: %s\n", s.PullRequestURL)
	}
	if s.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", s.Summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
