package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// Activities holds the dependencies ScanWorkflow's activities need: the
// scan store and one StageClient per pipeline stage.
type Activities struct {
	Store        store.Store
	StageClients map[string]*StageClient
	Logger       *slog.Logger
}

// RunStageActivity invokes one stage worker and returns its typed
// Result. The workflow calls this once per pipeline stage with the
// stage's own ActivityOptions (timeout, no built-in retry — stage
// workers are not assumed idempotent across retries by this layer).
func (a *Activities) RunStageActivity(ctx context.Context, stage string, req StageRequest) (stagepb.Result, error) {
	logger := activity.GetLogger(ctx)
	client, ok := a.StageClients[stage]
	if !ok {
		return stagepb.Result{}, errs.New(errs.Internal, "no stage client configured for "+stage)
	}

	started := time.Now()
	resp, err := client.Run(ctx, req)
	if err != nil {
		logger.Error("stage call failed", "stage", stage, "error", err)
		return stagepb.Result{}, err
	}

	result := resp.Result
	result.Kind = stagepb.Kind(stage)
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}
	return result, nil
}

// RecordProgressActivity persists progress/current_stage (§4.C5
// "Progress mapping": "progress is monotonic"). The store clamps any
// regression itself (§4.C4).
func (a *Activities) RecordProgressActivity(ctx context.Context, in UpdateProgressInput) error {
	progress := in.Progress
	stage := in.CurrentStage
	return a.Store.UpdateScan(ctx, in.ScanID, store.Patch{
		Progress:     &progress,
		CurrentStage: &stage,
	})
}

// RecordStageResultActivity writes one stage's Result into the scan
// record's stage_results map (§3).
func (a *Activities) RecordStageResultActivity(ctx context.Context, in RecordStageResultInput) error {
	result := in.Result
	return a.Store.UpdateScan(ctx, in.ScanID, store.Patch{
		StageResult: &result,
	})
}

// FinalizeScanActivity applies the terminal patch once the pipeline
// reaches completed or failed (§4.C5 "State machine").
func (a *Activities) FinalizeScanActivity(ctx context.Context, in FinalizeInput) error {
	status := in.Status
	now := time.Now()
	patch := store.Patch{
		Status:      &status,
		CompletedAt: &now,
	}
	if in.Error != "" {
		patch.Error = &in.Error
	}
	if in.FindingsSummary != nil {
		patch.FindingsSummary = in.FindingsSummary
	}
	if in.ReportErrors != nil {
		patch.ReportErrors = in.ReportErrors
	}
	if status == store.ScanCompleted {
		progress := 100
		patch.Progress = &progress
	}
	return a.Store.UpdateScan(ctx, in.ScanID, patch)
}

// IsCancelledActivity reports whether an operator has already requested
// cancellation via POST /scan/{id}/cancel (§4.C5: "subsequent stages
// MUST NOT start"), consulted before dispatching each stage in addition
// to the workflow's own cancel signal so a cancellation recorded before
// the workflow started is still honored.
func (a *Activities) IsCancelledActivity(ctx context.Context, scanID string) (bool, error) {
	scan, err := a.Store.GetScan(ctx, scanID)
	if err != nil {
		return false, err
	}
	return scan.Cancelled, nil
}
