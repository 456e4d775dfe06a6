package remediator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GitHubAdapter opens a branch and a draft PR carrying a patch suggestion
// via the raw GitHub REST API, the same client shape notify.GitHubSender
// uses — no pack repo imports a GitHub SDK.
type GitHubAdapter struct {
	APIBaseURL string // defaults to https://api.github.com
	httpClient *http.Client
}

// NewGitHubAdapter builds an adapter; the PAT/installation token travels
// per-request on PullRequestRequest.Token, not here, since §4.C9 requires
// the caller to supply it.
func NewGitHubAdapter() *GitHubAdapter {
	return &GitHubAdapter{httpClient: &http.Client{Timeout: 20 * time.Second}}
}

func (g *GitHubAdapter) base() string {
	if g.APIBaseURL != "" {
		return g.APIBaseURL
	}
	return "https://api.github.com"
}

func (g *GitHubAdapter) client() *http.Client {
	if g.httpClient != nil {
		return g.httpClient
	}
	return http.DefaultClient
}

func (g *GitHubAdapter) do(ctx context.Context, method, url, token string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remediator: marshal %s %s: %w", method, url, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("remediator: build %s %s: %w", method, url, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client().Do(req)
	if err != nil {
		return fmt.Errorf("remediator: %s %s failed: %w", method, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("remediator: %s %s returned %d: %s", method, url, resp.StatusCode, errBody)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("remediator: decoding %s %s response: %w", method, url, err)
		}
	}
	return nil
}

type githubRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type githubContentUpdate struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type githubPullRequest struct {
	HTMLURL string `json:"html_url"`
}

// OpenPullRequest creates branch fix/<type>-<finding_id> off req.Base,
// commits the patch text as a notes file, and opens a draft PR against
// req.Repo.
func (g *GitHubAdapter) OpenPullRequest(ctx context.Context, req PullRequestRequest) (*PullRequest, error) {
	branch := BranchName(req.Finding)
	base := g.base()

	var baseRef githubRef
	if err := g.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/git/ref/heads/%s", base, req.Repo, req.Base),
		req.Token, nil, &baseRef); err != nil {
		return nil, err
	}

	if err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/repos/%s/git/refs", base, req.Repo),
		req.Token,
		map[string]string{"ref": "refs/heads/" + branch, "sha": baseRef.Object.SHA},
		nil); err != nil {
		return nil, err
	}

	path := fmt.Sprintf("bugbot-patches/%s.patch.md", req.Finding.FindingID)
	content := fmt.Sprintf("# Suggested remediation for %s\n\n%s\n", req.Finding.FindingID, req.Patch)
	if err := g.do(ctx, http.MethodPut,
		fmt.Sprintf("%s/repos/%s/contents/%s", base, req.Repo, path),
		req.Token,
		githubContentUpdate{
			Message: "bugbot: suggested remediation for " + req.Finding.FindingID,
			Content: base64.StdEncoding.EncodeToString([]byte(content)),
			Branch:  branch,
		},
		nil); err != nil {
		return nil, err
	}

	var pr githubPullRequest
	if err := g.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/repos/%s/pulls", base, req.Repo),
		req.Token,
		map[string]any{
			"title": "bugbot: remediate " + req.Finding.Type + " in " + req.Finding.FindingID,
			"head":  branch,
			"base":  req.Base,
			"body":  req.Finding.Description,
			"draft": true,
		},
		&pr); err != nil {
		return nil, err
	}

	return &PullRequest{URL: pr.HTMLURL, Branch: branch}, nil
}
