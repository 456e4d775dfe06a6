package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bugbot.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestScan(id string) *Scan {
	return &Scan{
		ScanID:          id,
		Target:          Target{GitURL: "https://example.com/repo.git"},
		ChainHint:       "ethereum",
		ScanConfig:      ScanConfig{EnableFuzzing: true, ReportFormats: []string{"json"}},
		Status:          ScanPending,
		Progress:        0,
		StageResults:    map[string]stagepb.Result{},
		FindingsSummary: stagepb.NewFindingsSummary(),
		TargetURL:       "https://example.com/repo.git",
		StartedAt:       time.Now().UTC().Truncate(time.Second),
	}
}

func TestCreateAndGetScan(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	scan := newTestScan("scan-1")
	if err := s.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	got, err := s.GetScan(ctx, "scan-1")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.ChainHint != "ethereum" {
		t.Errorf("ChainHint = %q, want ethereum", got.ChainHint)
	}
	if got.Status != ScanPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	for _, sev := range []string{"critical", "high", "medium", "low", "info"} {
		if got.FindingsSummary[sev] != 0 {
			t.Errorf("FindingsSummary[%q] = %d, want 0", sev, got.FindingsSummary[sev])
		}
	}
}

func TestGetScanNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetScan(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetScanByIdempotencyKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	scan := newTestScan("scan-2")
	scan.IdempotencyKey = "idem-123"
	if err := s.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	got, err := s.GetScanByIdempotencyKey(ctx, "idem-123")
	if err != nil {
		t.Fatalf("GetScanByIdempotencyKey: %v", err)
	}
	if got.ScanID != "scan-2" {
		t.Errorf("ScanID = %q, want scan-2", got.ScanID)
	}
}

func TestUpdateScanProgressIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	scan := newTestScan("scan-3")
	if err := s.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	progress30 := 30
	if err := s.UpdateScan(ctx, "scan-3", Patch{Progress: &progress30}); err != nil {
		t.Fatalf("UpdateScan: %v", err)
	}

	progress10 := 10 // a retry must not regress progress
	if err := s.UpdateScan(ctx, "scan-3", Patch{Progress: &progress10}); err != nil {
		t.Fatalf("UpdateScan: %v", err)
	}

	got, err := s.GetScan(ctx, "scan-3")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.Progress != 30 {
		t.Errorf("Progress = %d, want 30 (monotonic clamp)", got.Progress)
	}
}

func TestUpdateScanWritesStageResult(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	scan := newTestScan("scan-4")
	if err := s.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	result := stagepb.Result{
		Kind:   stagepb.KindRecon,
		Status: stagepb.StatusOK,
		Recon:  &stagepb.ReconResult{EntryContracts: []string{"Vault.sol"}},
	}
	if err := s.UpdateScan(ctx, "scan-4", Patch{StageResult: &result}); err != nil {
		t.Fatalf("UpdateScan: %v", err)
	}

	got, err := s.GetScan(ctx, "scan-4")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	recon, ok := got.StageResults["recon"]
	if !ok {
		t.Fatal("expected recon stage result to be present")
	}
	if recon.Recon == nil || len(recon.Recon.EntryContracts) != 1 {
		t.Fatal("expected recon payload to round-trip")
	}
}

func TestListScansFiltersByStatusAndOrdersDescending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"scan-a", "scan-b", "scan-c"} {
		scan := newTestScan(id)
		scan.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 1 {
			scan.Status = ScanCompleted
		}
		if err := s.CreateScan(ctx, scan); err != nil {
			t.Fatalf("CreateScan(%s): %v", id, err)
		}
	}

	completed, err := s.ListScans(ctx, 10, ScanCompleted)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(completed) != 1 || completed[0].ScanID != "scan-b" {
		t.Fatalf("completed = %+v, want only scan-b", completed)
	}

	all, err := s.ListScans(ctx, 10, "")
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(all) != 3 || all[0].ScanID != "scan-c" {
		t.Fatalf("expected most-recent-first ordering, got %+v", all)
	}
}

func TestValidationJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := &ValidationJob{
		JobID:          "job-1",
		FindingRef:     FindingRef{ScanID: "scan-1", FindingID: "f1", Type: "reentrancy"},
		Status:         JobQueued,
		SandboxType:    "docker",
		TimeoutSeconds: 300,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateValidationJob(ctx, job); err != nil {
		t.Fatalf("CreateValidationJob: %v", err)
	}

	queued, err := s.ListQueuedValidationJobs(ctx, 5)
	if err != nil {
		t.Fatalf("ListQueuedValidationJobs: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("queued = %d, want 1", len(queued))
	}

	isValid := true
	confidence := 0.9
	running := JobRunning
	if err := s.UpdateValidationJob(ctx, "job-1", ValidationJobPatch{Status: statusPtr(running)}); err != nil {
		t.Fatalf("UpdateValidationJob(running): %v", err)
	}
	completed := JobCompleted
	if err := s.UpdateValidationJob(ctx, "job-1", ValidationJobPatch{
		Status:     statusPtr(completed),
		IsValid:    &isValid,
		Confidence: &confidence,
	}); err != nil {
		t.Fatalf("UpdateValidationJob(completed): %v", err)
	}

	got, err := s.GetValidationJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetValidationJob: %v", err)
	}
	if got.Status != JobCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.IsValid == nil || !*got.IsValid {
		t.Error("expected IsValid=true")
	}
}

func statusPtr(s ValidationJobStatus) *ValidationJobStatus { return &s }

func TestPauseRequestLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := &PauseRequest{
		ID:              "pr-1",
		ContractAddress: "0xabc",
		Chain:           "ethereum",
		Reason:          "large outflow detected",
		Severity:        "critical",
		Status:          PausePendingApproval,
		Requester:       RequesterAutoRule,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreatePauseRequest(ctx, req); err != nil {
		t.Fatalf("CreatePauseRequest: %v", err)
	}

	approved := PauseApproved
	now := time.Now().UTC().Truncate(time.Second)
	if err := s.UpdatePauseRequest(ctx, "pr-1", PauseRequestPatch{Status: &approved, DecidedAt: &now}); err != nil {
		t.Fatalf("UpdatePauseRequest: %v", err)
	}

	got, err := s.GetPauseRequest(ctx, "pr-1")
	if err != nil {
		t.Fatalf("GetPauseRequest: %v", err)
	}
	if got.Status != PauseApproved {
		t.Errorf("Status = %q, want approved", got.Status)
	}
	if got.DecidedAt == nil {
		t.Error("expected DecidedAt to be set")
	}

	pending, err := s.ListPauseRequests(ctx, string(PausePendingApproval))
	if err != nil {
		t.Fatalf("ListPauseRequests: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending = %d, want 0 after approval", len(pending))
	}
}

func TestMonitorUpsertEnforcesOnePerAddressChain(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &Monitor{ContractAddress: "0xabc", Chain: "ethereum", AutoPause: false, StartedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.UpsertMonitor(ctx, m); err != nil {
		t.Fatalf("UpsertMonitor: %v", err)
	}

	m.AutoPause = true
	if err := s.UpsertMonitor(ctx, m); err != nil {
		t.Fatalf("UpsertMonitor (update): %v", err)
	}

	all, err := s.ListMonitors(ctx)
	if err != nil {
		t.Fatalf("ListMonitors: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one monitor per (address, chain), got %d", len(all))
	}
	if !all[0].AutoPause {
		t.Error("expected second upsert to have updated auto_pause")
	}
}

func TestDeleteMonitor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &Monitor{ContractAddress: "0xabc", Chain: "ethereum", StartedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.UpsertMonitor(ctx, m); err != nil {
		t.Fatalf("UpsertMonitor: %v", err)
	}
	if err := s.DeleteMonitor(ctx, "0xabc", "ethereum"); err != nil {
		t.Fatalf("DeleteMonitor: %v", err)
	}
	if _, err := s.GetMonitor(ctx, "0xabc", "ethereum"); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
