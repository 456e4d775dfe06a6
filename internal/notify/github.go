package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GitHubSender opens an issue in destination ("owner/repo") via the
// GitHub REST API. No pack repo imports a GitHub SDK (go-github is
// absent from every example's go.mod); a raw net/http call against the
// well-known REST endpoint is the only option grounded in the corpus,
// the same justification internal/explorer and internal/rpcpool give
// for their own outbound HTTP clients.
type GitHubSender struct {
	Token      string
	APIBaseURL string // defaults to https://api.github.com
	httpClient *http.Client
}

// NewGitHubSender builds a sender authenticated with a personal access
// token or GitHub App installation token.
func NewGitHubSender(token string) *GitHubSender {
	return &GitHubSender{Token: token, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

type githubIssueRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send opens an issue titled subject with body on the destination repo.
func (g *GitHubSender) Send(ctx context.Context, destination, subject, body string) error {
	base := g.APIBaseURL
	if base == "" {
		base = "https://api.github.com"
	}
	url := fmt.Sprintf("%s/repos/%s/issues", base, destination)

	payload, err := json.Marshal(githubIssueRequest{Title: subject, Body: body})
	if err != nil {
		return fmt.Errorf("notify: marshal github issue payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build github issue request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	client := g.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: github issue request to %s failed: %w", destination, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		out, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notify: github issue creation on %s failed: status %d (%s)", destination, resp.StatusCode, out)
	}
	return nil
}
