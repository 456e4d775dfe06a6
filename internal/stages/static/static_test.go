package static

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

func echoScript(t *testing.T, jsonOutput string) []string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("analyzer fan-out uses a posix shell in tests")
	}
	return []string{"/bin/sh", "-c", "printf '%s' '" + jsonOutput + "'"}
}

func TestRunAnalyzersMergesFindingsFromMultipleAnalyzers(t *testing.T) {
	svc := &Service{
		Analyzers: []Analyzer{
			{Name: "slither-like", Command: echoScript(t, `{"findings":[{"title":"reentrancy","severity":"high","location":"Vault.sol:42"}]}`), Timeout: 5 * time.Second},
			{Name: "mythril-like", Command: echoScript(t, `{"findings":[{"title":"overflow","severity":"medium"}]}`), Timeout: 5 * time.Second},
		},
	}

	findings, partial := svc.runAnalyzers(context.Background(), t.TempDir())
	if partial {
		t.Error("expected no partial failure")
	}
	if len(findings) != 2 {
		t.Fatalf("len(findings) = %d, want 2", len(findings))
	}
}

func TestRunAnalyzersMarksPartialOnAnalyzerFailure(t *testing.T) {
	svc := &Service{
		Analyzers: []Analyzer{
			{Name: "broken", Command: []string{"/bin/sh", "-c", "exit 1"}, Timeout: 5 * time.Second},
		},
	}

	findings, partial := svc.runAnalyzers(context.Background(), t.TempDir())
	if !partial {
		t.Error("expected partial=true when an analyzer exits non-zero")
	}
	if len(findings) != 0 {
		t.Errorf("len(findings) = %d, want 0", len(findings))
	}
}

func TestRunRequiresReconResult(t *testing.T) {
	svc := &Service{}
	_, err := svc.Run(context.Background(), orchestrator.StageRequest{
		ScanID:            "s1",
		PriorStageOutputs: map[string]stagepb.Result{},
	})
	if err == nil {
		t.Fatal("expected an error when recon output is missing")
	}
}

func TestRunWithNoAnalyzersProducesOKWithNoFindings(t *testing.T) {
	svc := &Service{WorkDir: t.TempDir()}
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		ScanID: "s1",
		PriorStageOutputs: map[string]stagepb.Result{
			"recon": {
				Kind: stagepb.KindRecon,
				Recon: &stagepb.ReconResult{
					Sources: []stagepb.ContractSource{
						{File: "Vault.sol", Path: "Vault.sol", Language: "solidity", Source: "contract Vault {}"},
					},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != stagepb.StatusOK {
		t.Errorf("Status = %q, want ok", result.Status)
	}
	if len(result.Static.RawFindings) != 0 {
		t.Errorf("RawFindings = %v, want empty", result.Static.RawFindings)
	}
}
