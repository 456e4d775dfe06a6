package reporting

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bugbot-labs/bugbot/internal/notify"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

func triageOutput(findings ...stagepb.TriagedFinding) stagepb.Result {
	return stagepb.Result{Kind: stagepb.KindTriage, Triage: &stagepb.TriageResult{Findings: findings}}
}

func TestRunRendersAllThreeDefaultFormats(t *testing.T) {
	svc := &Service{}
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		ScanID: "scan_1",
		PriorStageOutputs: map[string]stagepb.Result{
			"triage": triageOutput(stagepb.TriagedFinding{Title: "reentrancy", Severity: "high", ImmunefiSev: "high", HackenProofSev: "high"}),
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Reporting.Artifacts) != 3 {
		t.Fatalf("len(Artifacts) = %d, want 3", len(result.Reporting.Artifacts))
	}
	formats := map[string]bool{}
	for _, a := range result.Reporting.Artifacts {
		formats[a.Format] = true
		if !strings.Contains(a.Content, "reentrancy") && a.Format != "json" {
			t.Errorf("%s artifact missing finding title", a.Format)
		}
	}
	if !formats["immunefi"] || !formats["hackenproof"] || !formats["json"] {
		t.Errorf("formats = %v, want all three", formats)
	}
}

func TestRunExcludesFilteredFindingsFromReports(t *testing.T) {
	svc := &Service{}
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		ScanID: "scan_1",
		ScanConfig: store.ScanConfig{ReportFormats: []string{"json"}},
		PriorStageOutputs: map[string]stagepb.Result{
			"triage": triageOutput(
				stagepb.TriagedFinding{Title: "kept", Severity: "high"},
				stagepb.TriagedFinding{Title: "dropped", TriageStatus: "filtered"},
			),
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var parsed struct {
		Findings []stagepb.TriagedFinding `json:"findings"`
	}
	if err := json.Unmarshal([]byte(result.Reporting.Artifacts[0].Content), &parsed); err != nil {
		t.Fatalf("unmarshal json artifact: %v", err)
	}
	if len(parsed.Findings) != 1 || parsed.Findings[0].Title != "kept" {
		t.Errorf("Findings = %+v, want only the kept finding", parsed.Findings)
	}
}

type fakeSender struct{ fail bool }

func (f *fakeSender) Send(ctx context.Context, destination, subject, body string) error {
	if f.fail {
		return assertErr
	}
	return nil
}

type errString string

func (e errString) Error() string { return string(e) }

var assertErr = errString("boom")

func TestRunRecordsNotificationFailureWithoutFailingStage(t *testing.T) {
	svc := &Service{Notifier: &notify.Dispatcher{Senders: map[string]notify.Sender{"slack": &fakeSender{fail: true}}}}
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		ScanID:     "scan_1",
		ScanConfig: store.ScanConfig{ReportFormats: []string{"json"}, NotifyChannels: []string{"slack:#sec"}},
		PriorStageOutputs: map[string]stagepb.Result{
			"triage": triageOutput(stagepb.TriagedFinding{Title: "x", Severity: "high"}),
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Reporting.ReportErrors) != 1 {
		t.Errorf("ReportErrors = %v, want 1 entry", result.Reporting.ReportErrors)
	}
	if result.Status != stagepb.StatusOK {
		t.Errorf("Status = %q, want ok even though notification failed", result.Status)
	}
}
