package orchestrator

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// ScanWorkflow drives the six-stage pipeline (§4.C5 "Pipeline") in fixed
// order: recon, static, fuzzing, monitoring, triage, reporting. Each
// stage is one Activity call against the stage worker's HTTP service;
// progress and stage results are persisted back to the scan store after
// every stage so GET /scan/{id} always reflects the latest known state.
func ScanWorkflow(ctx workflow.Context, input ScanWorkflowInput, timeouts ActivityTimeouts) error {
	logger := workflow.GetLogger(ctx)
	var a *Activities

	cancelChan := workflow.GetSignalChannel(ctx, cancelSignalName)
	cancelled := false
	workflow.Go(ctx, func(ctx workflow.Context) {
		var signal struct{}
		cancelChan.Receive(ctx, &signal)
		cancelled = true
	})

	recordOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	recordCtx := workflow.WithActivityOptions(ctx, recordOpts)

	priorOutputs := make(map[string]stagepb.Result)
	target := input.Target
	chain := target.Chain

	stages := effectiveStages(input.ScanConfig)

	for _, stage := range stages {
		// Give the signal-receiving coroutine a chance to run before
		// every dispatch decision (§4.C5: "subsequent stages MUST NOT
		// start" after cancellation).
		workflow.Sleep(ctx, 0)
		if cancelled {
			return failScan(recordCtx, input.ScanID, "cancelled", priorOutputs)
		}

		var isCancelledInStore bool
		if err := workflow.ExecuteActivity(recordCtx, a.IsCancelledActivity, input.ScanID).Get(ctx, &isCancelledInStore); err == nil && isCancelledInStore {
			return failScan(recordCtx, input.ScanID, "cancelled", priorOutputs)
		}

		pr := stageProgress[stage]
		if err := workflow.ExecuteActivity(recordCtx, a.RecordProgressActivity, UpdateProgressInput{
			ScanID:       input.ScanID,
			Progress:     pr.start,
			CurrentStage: stage,
		}).Get(ctx, nil); err != nil {
			logger.Warn("failed to record stage-start progress", "stage", stage, "error", err)
		}

		timeout := timeouts.forStage(stage)
		if stage == "monitoring" {
			timeout += time.Duration(input.ScanConfig.MonitorDurationMinutes) * time.Minute
		}
		stageOpts := workflow.ActivityOptions{
			StartToCloseTimeout: timeout,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
		}
		stageCtx := workflow.WithActivityOptions(ctx, stageOpts)

		req := StageRequest{
			ScanID:            input.ScanID,
			Chain:             chain,
			Target:            target,
			ScanConfig:        input.ScanConfig,
			PriorStageOutputs: priorOutputs,
		}

		var result stagepb.Result
		err := workflow.ExecuteActivity(stageCtx, a.RunStageActivity, stage, req).Get(ctx, &result)
		if err != nil {
			// Fatal failure (§4.C5: a stage worker's HTTP 5xx). Reporting
			// is the only stage whose fatal failure doesn't demote the
			// scan, and only because it runs after triage already
			// succeeded.
			if stage == "reporting" {
				logger.Warn("reporting stage failed, scan remains completed", "error", err)
				return finalizeCompleted(recordCtx, input.ScanID, priorOutputs, []string{err.Error()})
			}
			return failScanWithCause(recordCtx, input.ScanID, stage, err.Error(), priorOutputs)
		}

		priorOutputs[stage] = result
		if err := workflow.ExecuteActivity(recordCtx, a.RecordStageResultActivity, RecordStageResultInput{
			ScanID: input.ScanID,
			Result: result,
		}).Get(ctx, nil); err != nil {
			logger.Warn("failed to record stage result", "stage", stage, "error", err)
		}

		if err := workflow.ExecuteActivity(recordCtx, a.RecordProgressActivity, UpdateProgressInput{
			ScanID:       input.ScanID,
			Progress:     pr.end,
			CurrentStage: stage,
		}).Get(ctx, nil); err != nil {
			logger.Warn("failed to record stage-end progress", "stage", stage, "error", err)
		}
	}

	return finalizeCompleted(recordCtx, input.ScanID, priorOutputs, nil)
}

// effectiveStages applies scan_config's stage-skipping options (§4.C5
// "scan_config recognized options") to the fixed pipeline order.
func effectiveStages(cfg store.ScanConfig) []string {
	stages := make([]string, 0, len(stageOrder))
	for _, s := range stageOrder {
		if s == "fuzzing" && !cfg.EnableFuzzing {
			continue
		}
		if s == "monitoring" && cfg.MonitorDurationMinutes == 0 {
			continue
		}
		stages = append(stages, s)
	}
	return stages
}

func failScan(ctx workflow.Context, scanID, reason string, prior map[string]stagepb.Result) error {
	return failScanWithCause(ctx, scanID, "", reason, prior)
}

func failScanWithCause(ctx workflow.Context, scanID, stage, cause string, prior map[string]stagepb.Result) error {
	errMsg := cause
	if stage != "" {
		errMsg = fmt.Sprintf("%s: %s", stage, cause)
	}
	var a *Activities
	_ = workflow.ExecuteActivity(ctx, a.FinalizeScanActivity, FinalizeInput{
		ScanID: scanID,
		Status: store.ScanFailed,
		Error:  errMsg,
	}).Get(ctx, nil)
	return fmt.Errorf("scan failed: %s", errMsg)
}

func finalizeCompleted(ctx workflow.Context, scanID string, results map[string]stagepb.Result, reportErrors []string) error {
	summary := stagepb.NewFindingsSummary()
	if triage, ok := results["triage"]; ok && triage.Triage != nil {
		for sev, count := range triage.Triage.FindingsSummary {
			summary[sev] = count
		}
	}
	var a *Activities
	return workflow.ExecuteActivity(ctx, a.FinalizeScanActivity, FinalizeInput{
		ScanID:          scanID,
		Status:          store.ScanCompleted,
		FindingsSummary: summary,
		ReportErrors:    reportErrors,
	}).Get(ctx, nil)
}
