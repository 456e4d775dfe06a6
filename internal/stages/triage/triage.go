// Package triage implements the C5.e stage worker: three-tier
// classification of candidate findings surfaced by static, fuzzing, and
// monitoring.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bugbot-labs/bugbot/internal/llm"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Service implements triage's §4.C5.e behaviour.
type Service struct {
	LLM    llm.Backend // *llm.Router satisfies this; a fake suffices for tests
	Logger *slog.Logger
}

// candidate is a finding gathered from a prior stage before triage runs.
type candidate struct {
	source      string
	title       string
	description string
	location    string
	severity    string
}

type tier1Response struct {
	Keep       bool   `json:"keep"`
	Severity   string `json:"severity"`
	Confidence string `json:"confidence"`
}

type tier2Response struct {
	RootCause      string `json:"root_cause"`
	Exploitability string `json:"exploitability"`
	Severity       string `json:"severity"`
	Confidence     string `json:"confidence"`
}

type tier3Response struct {
	Description    string  `json:"description"`
	Impact         string  `json:"impact"`
	Recommendation string  `json:"recommendation"`
	ReproSteps     string  `json:"repro_steps"`
	CVSSEstimate   float64 `json:"cvss_estimate"`
	ImmunefiSev    string  `json:"immunefi_severity"`
	HackenProofSev string  `json:"hackenproof_severity"`
}

// Run implements the stage worker's /run contract.
func (s *Service) Run(ctx context.Context, req orchestrator.StageRequest) (stagepb.Result, error) {
	started := time.Now()
	candidates := gatherCandidates(req.PriorStageOutputs)

	var findings []stagepb.TriagedFinding
	for i, c := range candidates {
		id := fmt.Sprintf("finding_%03d", i+1)
		finding, err := s.classifyOne(ctx, id, c)
		if err != nil {
			return stagepb.Result{}, err
		}
		findings = append(findings, finding)
	}

	summary := stagepb.NewFindingsSummary()
	for _, f := range findings {
		if f.TriageStatus == "filtered" {
			continue
		}
		if _, ok := summary[f.Severity]; ok {
			summary[f.Severity]++
		}
	}

	return stagepb.Result{
		Kind:       stagepb.KindTriage,
		Status:     stagepb.StatusOK,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Triage: &stagepb.TriageResult{
			Findings:        findings,
			FindingsSummary: summary,
		},
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// classifyOne runs a single candidate through all three tiers. A Tier-2
// or Tier-3 LLM failure demotes the finding to Tier-1's severity and
// confidence with triage_status=degraded, without failing the stage
// (§4.C5.e).
func (s *Service) classifyOne(ctx context.Context, id string, c candidate) (stagepb.TriagedFinding, error) {
	finding := stagepb.TriagedFinding{
		FindingID:   id,
		Type:        c.source,
		Title:       c.title,
		Description: c.description,
		Location:    c.location,
		Source:      c.source,
		Severity:    c.severity,
	}

	tier1, err := s.runTier1(ctx, c)
	if err != nil {
		return stagepb.TriagedFinding{}, err
	}
	finding.Severity = tier1.Severity
	finding.Confidence = tier1.Confidence
	if !tier1.Keep {
		finding.TriageStatus = "filtered"
		return finding, nil
	}

	tier2, err := s.runTier2(ctx, c, tier1)
	if err != nil {
		finding.TriageStatus = "degraded"
		return finding, nil
	}
	finding.RootCause = tier2.RootCause
	finding.Exploitability = tier2.Exploitability
	finding.Severity = tier2.Severity
	finding.Confidence = tier2.Confidence

	tier3, err := s.runTier3(ctx, c, tier2)
	if err != nil {
		finding.TriageStatus = "degraded"
		finding.Severity = tier1.Severity
		finding.Confidence = tier1.Confidence
		return finding, nil
	}
	finding.Description = tier3.Description
	finding.Impact = tier3.Impact
	finding.Recommendation = tier3.Recommendation
	finding.ReproSteps = tier3.ReproSteps
	finding.CVSSEstimate = tier3.CVSSEstimate
	finding.ImmunefiSev = tier3.ImmunefiSev
	finding.HackenProofSev = tier3.HackenProofSev

	return finding, nil
}

func (s *Service) runTier1(ctx context.Context, c candidate) (tier1Response, error) {
	var out tier1Response
	if s.LLM == nil {
		return tier1Response{Keep: true, Severity: defaultSeverity(c.severity), Confidence: "low"}, nil
	}
	resp, err := s.LLM.Generate(ctx, llm.Task{
		TaskType: "fast_triage",
		Prompt:   fmt.Sprintf("Should this finding be kept for deeper review? Respond as JSON {keep,severity,confidence}.\n%s: %s", c.title, c.description),
	})
	if err != nil {
		return tier1Response{}, err
	}
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		// Tier 1 is not allowed to fail the stage; an unparsable
		// response keeps the finding with its source severity rather
		// than silently dropping it.
		s.logger().Warn("tier 1 response unparsable, keeping by default", "error", err)
		return tier1Response{Keep: true, Severity: defaultSeverity(c.severity), Confidence: "low"}, nil
	}
	if out.Severity == "" {
		out.Severity = defaultSeverity(c.severity)
	}
	return out, nil
}

func (s *Service) runTier2(ctx context.Context, c candidate, tier1 tier1Response) (tier2Response, error) {
	if s.LLM == nil {
		return tier2Response{}, fmt.Errorf("triage: no llm router configured for tier 2")
	}
	resp, err := s.LLM.Generate(ctx, llm.Task{
		TaskType: "smart_contract_analysis",
		Prompt:   fmt.Sprintf("Assess root cause and exploitability as JSON {root_cause,exploitability,severity,confidence}.\n%s: %s", c.title, c.description),
	})
	if err != nil {
		return tier2Response{}, err
	}
	var out tier2Response
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return tier2Response{}, err
	}
	if out.Severity == "" {
		out.Severity = tier1.Severity
	}
	return out, nil
}

func (s *Service) runTier3(ctx context.Context, c candidate, tier2 tier2Response) (tier3Response, error) {
	if s.LLM == nil {
		return tier3Response{}, fmt.Errorf("triage: no llm router configured for tier 3")
	}
	resp, err := s.LLM.Generate(ctx, llm.Task{
		TaskType: "final_report",
		Prompt:   fmt.Sprintf("Write the final user-facing classification as JSON {description,impact,recommendation,repro_steps,cvss_estimate,immunefi_severity,hackenproof_severity}.\n%s: %s (root cause: %s)", c.title, c.description, tier2.RootCause),
	})
	if err != nil {
		return tier3Response{}, err
	}
	var out tier3Response
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return tier3Response{}, err
	}
	return out, nil
}

func defaultSeverity(s string) string {
	if s == "" {
		return "medium"
	}
	return s
}

// gatherCandidates flattens static's raw findings, fuzzing's failed
// cases, and monitoring's anomalies into a uniform candidate list
// (§4.C5.e: "For each candidate Finding produced by
// static/fuzzing/monitoring").
func gatherCandidates(outputs map[string]stagepb.Result) []candidate {
	var out []candidate

	if static, ok := outputs["static"]; ok && static.Static != nil {
		for _, f := range static.Static.RawFindings {
			out = append(out, candidate{
				source:      "static",
				title:       f.Title,
				description: f.Description,
				location:    f.Location,
				severity:    f.Severity,
			})
		}
	}

	if fuzz, ok := outputs["fuzzing"]; ok && fuzz.Fuzzing != nil {
		for _, c := range fuzz.Fuzzing.FailedCases {
			out = append(out, candidate{
				source:      "fuzzing",
				title:       "property violated: " + c.Property,
				description: "counterexample: " + c.Counterexample,
				location:    c.Location,
				severity:    "high",
			})
		}
	}

	if mon, ok := outputs["monitoring"]; ok && mon.Monitoring != nil {
		for _, a := range mon.Monitoring.Anomalies {
			out = append(out, candidate{
				source:      "monitoring",
				title:       a.Kind,
				description: a.Description,
				location:    a.TxHash,
				severity:    "medium",
			})
		}
	}

	return out
}
