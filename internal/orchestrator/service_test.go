package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/store"
)

func TestValidateScanRequestRequiresExactlyOneTarget(t *testing.T) {
	cases := []struct {
		name    string
		req     ScanRequest
		wantErr bool
	}{
		{"neither", ScanRequest{}, true},
		{"both", ScanRequest{TargetURL: "https://x", ContractAddress: "0xabc", Chain: "ethereum"}, true},
		{"url only", ScanRequest{TargetURL: "https://x"}, false},
		{"address without chain", ScanRequest{ContractAddress: "0xabc"}, true},
		{"address with chain", ScanRequest{ContractAddress: "0xabc", Chain: "ethereum"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateScanRequest(tc.req)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && errs.KindOf(err) != errs.InvalidRequest {
				t.Errorf("KindOf(err) = %v, want InvalidRequest", errs.KindOf(err))
			}
		})
	}
}

func TestMergeScanConfigOverridesOnlySetFields(t *testing.T) {
	defaults := store.ScanConfig{
		EnableFuzzing:          true,
		MonitorDurationMinutes: 5,
		SandboxType:            "docker",
		ReportFormats:          []string{"json", "immunefi", "hackenproof"},
	}
	override := store.ScanConfig{
		MonitorDurationMinutes: 10,
	}

	merged := mergeScanConfig(defaults, override)
	if merged.MonitorDurationMinutes != 10 {
		t.Errorf("MonitorDurationMinutes = %d, want 10", merged.MonitorDurationMinutes)
	}
	if merged.SandboxType != "docker" {
		t.Errorf("SandboxType = %q, want docker (unset override falls back to default)", merged.SandboxType)
	}
	if len(merged.ReportFormats) != 3 {
		t.Errorf("ReportFormats = %v, want default preserved", merged.ReportFormats)
	}
	if merged.EnableFuzzing {
		t.Error("EnableFuzzing should take the override's explicit false")
	}
}

func TestAdmitRespectsCapacity(t *testing.T) {
	st := openTestStore(t)
	svc := &Service{
		store: st,
		cfg:   config.Orchestrator{MaxConcurrentScans: 1, QueueSize: 1},
	}
	ctx := context.Background()

	ok, err := svc.admit(ctx)
	if err != nil || !ok {
		t.Fatalf("admit() = %v, %v; want true, nil", ok, err)
	}

	if err := st.CreateScan(ctx, &store.Scan{ScanID: "a", Status: store.ScanPending, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}
	if err := st.CreateScan(ctx, &store.Scan{ScanID: "b", Status: store.ScanRunning, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	ok, err = svc.admit(ctx)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if ok {
		t.Error("admit() = true, want false once pending+running reaches capacity")
	}
}

func TestNewScanIDIsUnique(t *testing.T) {
	a := newScanID()
	b := newScanID()
	if a == b {
		t.Error("expected distinct scan ids")
	}
	if len(a) == 0 {
		t.Error("expected non-empty scan id")
	}
}
