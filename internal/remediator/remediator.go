// Package remediator implements C9's patch suggestion service: given a
// triaged finding, produce a candidate patch and explanation, optionally
// opening a draft PR against a configured GitHub repo.
package remediator

import (
	"context"
	"fmt"
	"strings"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// PullRequestAdapter opens a branch + draft PR carrying a suggested patch.
// Service.Remediate calls it only when DefaultAdapter is "github", an adapter
// is wired in and the request carries a github_token; otherwise no PR is
// opened (§4.C9).
type PullRequestAdapter interface {
	OpenPullRequest(ctx context.Context, req PullRequestRequest) (*PullRequest, error)
}

// PullRequestRequest is everything a PullRequestAdapter needs to open one.
type PullRequestRequest struct {
	Finding stagepb.TriagedFinding
	Patch   string
	Repo    string
	Base    string
	Token   string
}

// PullRequest describes a PR a PullRequestAdapter opened.
type PullRequest struct {
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// Request is the POST /remediate request body.
type Request struct {
	Finding     stagepb.TriagedFinding `json:"finding" validate:"required"`
	GithubToken string                 `json:"github_token,omitempty"`
}

// Response is the POST /remediate response body.
type Response struct {
	FindingID   string       `json:"finding_id"`
	Patch       string       `json:"patch"`
	Explanation string       `json:"explanation"`
	Confidence  float64      `json:"confidence"`
	PullRequest *PullRequest `json:"pull_request,omitempty"`
}

// Service generates patch candidates and, when configured, opens PRs for
// them.
type Service struct {
	Config  config.Remediator
	GitHub  PullRequestAdapter // nil when no adapter is wired
}

// NewService builds a Service from the platform's remediator config
// section and an optional GitHub adapter.
func NewService(cfg config.Remediator, github PullRequestAdapter) *Service {
	return &Service{Config: cfg, GitHub: github}
}

// Remediate implements §4.C9's remediator contract.
func (s *Service) Remediate(ctx context.Context, req Request) (Response, error) {
	patch, explanation, confidence := suggestPatch(req.Finding)

	resp := Response{
		FindingID:   req.Finding.FindingID,
		Patch:       patch,
		Explanation: explanation,
		Confidence:  confidence,
	}

	if s.Config.DefaultAdapter != "github" || s.GitHub == nil || req.GithubToken == "" {
		return resp, nil
	}

	pr, err := s.GitHub.OpenPullRequest(ctx, PullRequestRequest{
		Finding: req.Finding,
		Patch:   patch,
		Repo:    s.Config.Repo,
		Base:    s.Config.BaseBranch,
		Token:   req.GithubToken,
	})
	if err != nil {
		return Response{}, errs.Wrap(errs.BackendUnavailable, "opening pull request", err)
	}
	resp.PullRequest = pr
	return resp, nil
}

// BranchName derives the fix/<type>-<finding_id> branch name §4.C9
// mandates.
func BranchName(finding stagepb.TriagedFinding) string {
	id := finding.FindingID
	if id == "" {
		id = "unidentified"
	}
	typ := finding.Type
	if typ == "" {
		typ = "finding"
	}
	return fmt.Sprintf("fix/%s-%s", typ, id)
}

var patchSuggestions = map[string]struct {
	patch       string
	explanation string
	confidence  float64
}{
	"reentrancy": {
		patch:       "Apply checks-effects-interactions: move the external call after state updates, or guard the function with a reentrancy lock.",
		explanation: "The external call at the reported location executes before the contract's own state is updated, letting a reentrant callback observe stale state.",
		confidence:  0.6,
	},
	"overflow": {
		patch:       "Use a checked arithmetic library or Solidity >=0.8's built-in overflow reverts for the affected operation.",
		explanation: "The reported arithmetic operation has no overflow guard, so a boundary input can wrap silently.",
		confidence:  0.55,
	},
	"access_control": {
		patch:       "Add an owner/role check (e.g. an onlyOwner or AccessControl modifier) to the reported function.",
		explanation: "The reported function changes privileged state without restricting its caller.",
		confidence:  0.5,
	},
	"oracle": {
		patch:       "Source the price from a time-weighted average or a multi-oracle quorum instead of a single spot read.",
		explanation: "The reported code path trusts a single, manipulable price source for a security-relevant decision.",
		confidence:  0.45,
	},
}

// suggestPatch generates a candidate patch, explanation, and confidence
// score for finding. This is a template lookup keyed by finding type, the
// same shape as the validator's PoC templates, not a code-synthesis model —
// the confidence scores reflect that.
func suggestPatch(finding stagepb.TriagedFinding) (patch, explanation string, confidence float64) {
	s, ok := patchSuggestions[strings.ToLower(finding.Type)]
	if !ok {
		return "Manual review required; no automated patch template exists for finding type " + finding.Type + ".",
			"This finding type has no known templated remediation.",
			0.1
	}
	return s.patch, s.explanation, s.confidence
}
