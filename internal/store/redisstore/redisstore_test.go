package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bugbot-labs/bugbot/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Store{rdb: rdb}
}

func TestCreateAndGetScanRoundTripsCancelledFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scan := &store.Scan{
		ScanID:         "scan-1",
		Target:         store.Target{GitURL: "https://example.test/repo.git"},
		Status:         store.ScanPending,
		IdempotencyKey: "idem-1",
		Cancelled:      true,
		StartedAt:      time.Now(),
	}
	if err := s.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	got, err := s.GetScan(ctx, "scan-1")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if !got.Cancelled {
		t.Errorf("Cancelled = false, want true (round-trip must survive the API json:\"-\" tag)")
	}
	if got.Status != store.ScanPending {
		t.Errorf("Status = %q, want %q", got.Status, store.ScanPending)
	}

	byKey, err := s.GetScanByIdempotencyKey(ctx, "idem-1")
	if err != nil {
		t.Fatalf("GetScanByIdempotencyKey: %v", err)
	}
	if byKey.ScanID != "scan-1" {
		t.Errorf("GetScanByIdempotencyKey returned scan %q, want scan-1", byKey.ScanID)
	}
}

func TestGetScanMissingReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetScan(context.Background(), "nope"); err != store.ErrNotFound {
		t.Fatalf("GetScan() err = %v, want ErrNotFound", err)
	}
}

func TestUpdateScanMovesStatusIndexAndAppliesPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scan := &store.Scan{ScanID: "scan-2", Status: store.ScanPending, StartedAt: time.Now()}
	if err := s.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	running := store.ScanRunning
	progress := 40
	if err := s.UpdateScan(ctx, "scan-2", store.Patch{Status: &running, Progress: &progress}); err != nil {
		t.Fatalf("UpdateScan: %v", err)
	}

	got, err := s.GetScan(ctx, "scan-2")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.Status != store.ScanRunning || got.Progress != 40 {
		t.Errorf("got status=%q progress=%d, want running/40", got.Status, got.Progress)
	}

	listed, err := s.ListScans(ctx, 10, store.ScanRunning)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(listed) != 1 || listed[0].ScanID != "scan-2" {
		t.Fatalf("ListScans(running) = %+v, want [scan-2]", listed)
	}

	pending, err := s.ListScans(ctx, 10, store.ScanPending)
	if err != nil {
		t.Fatalf("ListScans: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("ListScans(pending) = %+v, want none (scan moved to running)", pending)
	}
}

func TestDeleteScanRemovesAllIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	scan := &store.Scan{ScanID: "scan-3", Status: store.ScanPending, IdempotencyKey: "idem-3", StartedAt: time.Now()}
	if err := s.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}
	if err := s.DeleteScan(ctx, "scan-3"); err != nil {
		t.Fatalf("DeleteScan: %v", err)
	}

	if _, err := s.GetScan(ctx, "scan-3"); err != store.ErrNotFound {
		t.Errorf("GetScan after delete = %v, want ErrNotFound", err)
	}
	if _, err := s.GetScanByIdempotencyKey(ctx, "idem-3"); err != store.ErrNotFound {
		t.Errorf("GetScanByIdempotencyKey after delete = %v, want ErrNotFound", err)
	}
}

func TestValidationJobLifecycleLeavesQueuedIndexWhenTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := &store.ValidationJob{
		JobID:      "job-1",
		FindingRef: store.FindingRef{Type: "reentrancy"},
		Status:     store.JobQueued,
		CreatedAt:  time.Now(),
	}
	if err := s.CreateValidationJob(ctx, job); err != nil {
		t.Fatalf("CreateValidationJob: %v", err)
	}

	queued, err := s.ListQueuedValidationJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueuedValidationJobs: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("ListQueuedValidationJobs = %d jobs, want 1", len(queued))
	}

	completed := store.JobCompleted
	if err := s.UpdateValidationJob(ctx, "job-1", store.ValidationJobPatch{Status: &completed}); err != nil {
		t.Fatalf("UpdateValidationJob: %v", err)
	}

	queued, err = s.ListQueuedValidationJobs(ctx, 10)
	if err != nil {
		t.Fatalf("ListQueuedValidationJobs: %v", err)
	}
	if len(queued) != 0 {
		t.Errorf("ListQueuedValidationJobs after completion = %d, want 0", len(queued))
	}
}

func TestPauseRequestListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, status := range []store.PauseRequestStatus{store.PausePendingApproval, store.PauseApproved} {
		req := &store.PauseRequest{
			ID:              string(rune('a' + i)),
			ContractAddress: "0xdead",
			Chain:           "ethereum",
			Status:          status,
			Requester:       store.RequesterAutoRule,
			CreatedAt:       time.Now(),
		}
		if err := s.CreatePauseRequest(ctx, req); err != nil {
			t.Fatalf("CreatePauseRequest: %v", err)
		}
	}

	pending, err := s.ListPauseRequests(ctx, string(store.PausePendingApproval))
	if err != nil {
		t.Fatalf("ListPauseRequests: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("ListPauseRequests(pending_approval) = %d, want 1", len(pending))
	}

	all, err := s.ListPauseRequests(ctx, "")
	if err != nil {
		t.Fatalf("ListPauseRequests: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListPauseRequests(\"\") = %d, want 2", len(all))
	}
}

func TestMonitorUpsertGetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m := &store.Monitor{ContractAddress: "0xbeef", Chain: "ethereum", AutoPause: true, StartedAt: time.Now()}
	if err := s.UpsertMonitor(ctx, m); err != nil {
		t.Fatalf("UpsertMonitor: %v", err)
	}

	got, err := s.GetMonitor(ctx, "0xbeef", "ethereum")
	if err != nil {
		t.Fatalf("GetMonitor: %v", err)
	}
	if !got.AutoPause {
		t.Errorf("AutoPause = false, want true")
	}

	all, err := s.ListMonitors(ctx)
	if err != nil {
		t.Fatalf("ListMonitors: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListMonitors = %d, want 1", len(all))
	}

	if err := s.DeleteMonitor(ctx, "0xbeef", "ethereum"); err != nil {
		t.Fatalf("DeleteMonitor: %v", err)
	}
	if _, err := s.GetMonitor(ctx, "0xbeef", "ethereum"); err != store.ErrNotFound {
		t.Errorf("GetMonitor after delete = %v, want ErrNotFound", err)
	}
}
