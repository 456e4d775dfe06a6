// Package reporting implements the C5.f stage worker: render the fused
// findings into Immunefi/HackenProof markdown and JSON, then attempt
// best-effort notification dispatch.
package reporting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bugbot-labs/bugbot/internal/notify"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Service implements reporting's §4.C5.f behaviour.
type Service struct {
	Notifier *notify.Dispatcher
	Logger   *slog.Logger
}

// Run implements the stage worker's /run contract. A notification
// failure is recorded in ReportErrors and never fails the stage
// (§4.C5.f).
func (s *Service) Run(ctx context.Context, req orchestrator.StageRequest) (stagepb.Result, error) {
	started := time.Now()
	triage, ok := req.PriorStageOutputs["triage"]
	if !ok || triage.Triage == nil {
		return stagepb.Result{}, fmt.Errorf("reporting stage requires a triage result")
	}
	findings := triage.Triage.Findings

	formats := req.ScanConfig.ReportFormats
	if len(formats) == 0 {
		formats = []string{"immunefi", "hackenproof", "json"}
	}

	var artifacts []stagepb.ReportArtifact
	for _, format := range formats {
		switch format {
		case "immunefi":
			artifacts = append(artifacts, stagepb.ReportArtifact{Format: "immunefi", Content: renderImmunefi(req.ScanID, findings)})
		case "hackenproof":
			artifacts = append(artifacts, stagepb.ReportArtifact{Format: "hackenproof", Content: renderHackenProof(req.ScanID, findings)})
		case "json":
			content, err := renderJSON(req.ScanID, findings)
			if err != nil {
				return stagepb.Result{}, err
			}
			artifacts = append(artifacts, stagepb.ReportArtifact{Format: "json", Content: content})
		}
	}

	var reportErrors, notifications []string
	if s.Notifier != nil && len(req.ScanConfig.NotifyChannels) > 0 && len(findings) > 0 {
		subject := fmt.Sprintf("scan %s: %d findings", req.ScanID, len(findings))
		sent, errs := s.Notifier.Dispatch(ctx, req.ScanConfig.NotifyChannels, subject, renderJSONSummary(findings))
		notifications = sent
		reportErrors = errs
	}

	return stagepb.Result{
		Kind:       stagepb.KindReporting,
		Status:     stagepb.StatusOK,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Reporting: &stagepb.ReportingResult{
			Artifacts:     artifacts,
			ReportErrors:  reportErrors,
			Notifications: notifications,
		},
	}, nil
}

func renderImmunefi(scanID string, findings []stagepb.TriagedFinding) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Security Report (Immunefi) — %s\n\n", scanID)
	for _, f := range findings {
		if f.TriageStatus == "filtered" {
			continue
		}
		fmt.Fprintf(&b, "## %s (%s)\n\n", f.Title, f.ImmunefiSev)
		fmt.Fprintf(&b, "- **Severity**: %s\n- **CVSS estimate**: %.1f\n\n", f.Severity, f.CVSSEstimate)
		fmt.Fprintf(&b, "%s\n\n", f.Description)
		if f.Impact != "" {
			fmt.Fprintf(&b, "### Impact\n%s\n\n", f.Impact)
		}
		if f.ReproSteps != "" {
			fmt.Fprintf(&b, "### Proof of Concept\n%s\n\n", f.ReproSteps)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(&b, "### Recommendation\n%s\n\n", f.Recommendation)
		}
	}
	return b.String()
}

func renderHackenProof(scanID string, findings []stagepb.TriagedFinding) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Security Report (HackenProof) — %s\n\n", scanID)
	for _, f := range findings {
		if f.TriageStatus == "filtered" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n**HackenProof severity**: %s\n\n%s\n\n", f.Title, f.HackenProofSev, f.Description)
		if f.RootCause != "" {
			fmt.Fprintf(&b, "**Root cause**: %s\n\n", f.RootCause)
		}
	}
	return b.String()
}

func renderJSON(scanID string, findings []stagepb.TriagedFinding) (string, error) {
	kept := make([]stagepb.TriagedFinding, 0, len(findings))
	for _, f := range findings {
		if f.TriageStatus != "filtered" {
			kept = append(kept, f)
		}
	}
	data, err := json.MarshalIndent(map[string]any{"scan_id": scanID, "findings": kept}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reporting: marshal json report: %w", err)
	}
	return string(data), nil
}

func renderJSONSummary(findings []stagepb.TriagedFinding) string {
	critical, high := 0, 0
	for _, f := range findings {
		switch f.Severity {
		case "critical":
			critical++
		case "high":
			high++
		}
	}
	return fmt.Sprintf("%d findings (%d critical, %d high). See the attached report artifacts for detail.", len(findings), critical, high)
}
