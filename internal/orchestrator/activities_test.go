package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestActivities(t *testing.T, stageServerURL string) *Activities {
	t.Helper()
	return &Activities{
		Store: openTestStore(t),
		StageClients: map[string]*StageClient{
			"recon": NewStageClient(stageServerURL, 5*time.Second),
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRunStageActivitySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(StageResponse{
			Result: stagepb.Result{Status: stagepb.StatusOK, Recon: &stagepb.ReconResult{EntryContracts: []string{"Vault"}}},
		})
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	result, err := a.RunStageActivity(context.Background(), "recon", StageRequest{ScanID: "s1"})
	if err != nil {
		t.Fatalf("RunStageActivity: %v", err)
	}
	if result.Kind != stagepb.KindRecon {
		t.Errorf("Kind = %q, want recon", result.Kind)
	}
	if result.Recon == nil || len(result.Recon.EntryContracts) != 1 {
		t.Fatalf("Recon payload missing: %+v", result)
	}
}

func TestRunStageActivityFatalOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	_, err := a.RunStageActivity(context.Background(), "recon", StageRequest{ScanID: "s1"})
	if err == nil {
		t.Fatal("expected error on 5xx stage response")
	}
}

func TestRunStageActivityUnknownStage(t *testing.T) {
	a := newTestActivities(t, "http://unused")
	_, err := a.RunStageActivity(context.Background(), "nonexistent", StageRequest{ScanID: "s1"})
	if err == nil {
		t.Fatal("expected error for unconfigured stage client")
	}
}

func TestRecordProgressActivityIsMonotonicViaStore(t *testing.T) {
	st := openTestStore(t)
	a := &Activities{Store: st, StageClients: map[string]*StageClient{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx := context.Background()

	scan := &store.Scan{ScanID: "s1", Status: store.ScanRunning, StartedAt: time.Now()}
	if err := st.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	if err := a.RecordProgressActivity(ctx, UpdateProgressInput{ScanID: "s1", Progress: 30, CurrentStage: "recon"}); err != nil {
		t.Fatalf("RecordProgressActivity: %v", err)
	}
	if err := a.RecordProgressActivity(ctx, UpdateProgressInput{ScanID: "s1", Progress: 10, CurrentStage: "static"}); err != nil {
		t.Fatalf("RecordProgressActivity: %v", err)
	}

	got, err := st.GetScan(ctx, "s1")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.Progress != 30 {
		t.Errorf("Progress = %d, want 30 (monotonic clamp)", got.Progress)
	}
	if got.CurrentStage != "static" {
		t.Errorf("CurrentStage = %q, want static", got.CurrentStage)
	}
}

func TestFinalizeScanActivitySetsCompletedWithProgress100(t *testing.T) {
	st := openTestStore(t)
	a := &Activities{Store: st, StageClients: map[string]*StageClient{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx := context.Background()

	scan := &store.Scan{ScanID: "s1", Status: store.ScanRunning, StartedAt: time.Now()}
	if err := st.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	err := a.FinalizeScanActivity(ctx, FinalizeInput{
		ScanID:          "s1",
		Status:          store.ScanCompleted,
		FindingsSummary: map[string]int{"high": 2},
	})
	if err != nil {
		t.Fatalf("FinalizeScanActivity: %v", err)
	}

	got, err := st.GetScan(ctx, "s1")
	if err != nil {
		t.Fatalf("GetScan: %v", err)
	}
	if got.Status != store.ScanCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}
	if got.FindingsSummary["high"] != 2 {
		t.Errorf("FindingsSummary[high] = %d, want 2", got.FindingsSummary["high"])
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestIsCancelledActivityReflectsStore(t *testing.T) {
	st := openTestStore(t)
	a := &Activities{Store: st, StageClients: map[string]*StageClient{}, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx := context.Background()

	scan := &store.Scan{ScanID: "s1", Status: store.ScanRunning, StartedAt: time.Now()}
	if err := st.CreateScan(ctx, scan); err != nil {
		t.Fatalf("CreateScan: %v", err)
	}

	cancelled, err := a.IsCancelledActivity(ctx, "s1")
	if err != nil {
		t.Fatalf("IsCancelledActivity: %v", err)
	}
	if cancelled {
		t.Fatal("expected not cancelled initially")
	}

	flag := true
	if err := st.UpdateScan(ctx, "s1", store.Patch{Cancelled: &flag}); err != nil {
		t.Fatalf("UpdateScan: %v", err)
	}

	cancelled, err = a.IsCancelledActivity(ctx, "s1")
	if err != nil {
		t.Fatalf("IsCancelledActivity: %v", err)
	}
	if !cancelled {
		t.Fatal("expected cancelled after update")
	}
}
