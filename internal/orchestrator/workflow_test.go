package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

func testTimeouts() ActivityTimeouts {
	return ActivityTimeouts{
		Recon:      time.Minute,
		Static:     time.Minute,
		Fuzzing:    time.Minute,
		Monitoring: time.Minute,
		Triage:     time.Minute,
		Reporting:  time.Minute,
	}
}

func okResult(stage string) stagepb.Result {
	return stagepb.Result{Kind: stagepb.Kind(stage), Status: stagepb.StatusOK}
}

func stubHappyPath(env *testsuite.TestWorkflowEnvironment) {
	var a *Activities
	env.OnActivity(a.IsCancelledActivity, mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity(a.RecordProgressActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RecordStageResultActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.FinalizeScanActivity, mock.Anything, mock.Anything).Return(nil)

	for _, stage := range []string{"recon", "static", "fuzzing", "monitoring", "triage", "reporting"} {
		stage := stage
		env.OnActivity(a.RunStageActivity, mock.Anything, stage, mock.Anything).Return(okResult(stage), nil)
	}
}

func TestScanWorkflowHappyPath(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	stubHappyPath(env)

	input := ScanWorkflowInput{
		ScanID: "scan_1",
		Target: store.Target{GitURL: "https://example.com/repo.git"},
		ScanConfig: store.ScanConfig{
			EnableFuzzing:          true,
			MonitorDurationMinutes: 5,
		},
	}
	env.ExecuteWorkflow(ScanWorkflow, input, testTimeouts())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}

func TestScanWorkflowSkipsFuzzingWhenDisabled(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities
	env.OnActivity(a.IsCancelledActivity, mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity(a.RecordProgressActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RecordStageResultActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.FinalizeScanActivity, mock.Anything, mock.Anything).Return(nil)
	for _, stage := range []string{"recon", "static", "monitoring", "triage", "reporting"} {
		stage := stage
		env.OnActivity(a.RunStageActivity, mock.Anything, stage, mock.Anything).Return(okResult(stage), nil)
	}

	input := ScanWorkflowInput{
		ScanID: "scan_2",
		Target: store.Target{GitURL: "https://example.com/repo.git"},
		ScanConfig: store.ScanConfig{
			EnableFuzzing:          false,
			MonitorDurationMinutes: 5,
		},
	}
	env.ExecuteWorkflow(ScanWorkflow, input, testTimeouts())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "RunStageActivity", mock.Anything, "fuzzing", mock.Anything)
}

func TestScanWorkflowSkipsMonitoringWhenDurationZero(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities
	env.OnActivity(a.IsCancelledActivity, mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity(a.RecordProgressActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RecordStageResultActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.FinalizeScanActivity, mock.Anything, mock.Anything).Return(nil)
	for _, stage := range []string{"recon", "static", "fuzzing", "triage", "reporting"} {
		stage := stage
		env.OnActivity(a.RunStageActivity, mock.Anything, stage, mock.Anything).Return(okResult(stage), nil)
	}

	input := ScanWorkflowInput{
		ScanID: "scan_3",
		Target: store.Target{GitURL: "https://example.com/repo.git"},
		ScanConfig: store.ScanConfig{
			EnableFuzzing:          true,
			MonitorDurationMinutes: 0,
		},
	}
	env.ExecuteWorkflow(ScanWorkflow, input, testTimeouts())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "RunStageActivity", mock.Anything, "monitoring", mock.Anything)
}

// TestScanWorkflowFatalStaticFailureStopsBeforeFuzzing verifies that a
// fatal failure in a pre-triage stage fails the scan and never dispatches
// the stages after it (§4.C5 "Failure semantics").
func TestScanWorkflowFatalStaticFailureStopsBeforeFuzzing(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities
	env.OnActivity(a.IsCancelledActivity, mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity(a.RecordProgressActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RecordStageResultActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.FinalizeScanActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RunStageActivity, mock.Anything, "recon", mock.Anything).Return(okResult("recon"), nil)
	env.OnActivity(a.RunStageActivity, mock.Anything, "static", mock.Anything).
		Return(stagepb.Result{}, errs.New(errs.StageFailure, "analyzer crashed"))

	input := ScanWorkflowInput{
		ScanID:     "scan_4",
		Target:     store.Target{GitURL: "https://example.com/repo.git"},
		ScanConfig: store.ScanConfig{EnableFuzzing: true, MonitorDurationMinutes: 5},
	}
	env.ExecuteWorkflow(ScanWorkflow, input, testTimeouts())

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "RunStageActivity", mock.Anything, "fuzzing", mock.Anything)
	env.AssertNotCalled(t, "RunStageActivity", mock.Anything, "triage", mock.Anything)
}

// TestScanWorkflowReportingFailureDoesNotFailScan verifies reporting's
// fatal failure never demotes an otherwise-successful scan.
func TestScanWorkflowReportingFailureDoesNotFailScan(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities
	env.OnActivity(a.IsCancelledActivity, mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity(a.RecordProgressActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RecordStageResultActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.FinalizeScanActivity, mock.Anything, mock.Anything).Return(nil)
	for _, stage := range []string{"recon", "static", "fuzzing", "monitoring", "triage"} {
		stage := stage
		env.OnActivity(a.RunStageActivity, mock.Anything, stage, mock.Anything).Return(okResult(stage), nil)
	}
	env.OnActivity(a.RunStageActivity, mock.Anything, "reporting", mock.Anything).
		Return(stagepb.Result{}, errs.New(errs.StageFailure, "notification dispatch crashed"))

	input := ScanWorkflowInput{
		ScanID:     "scan_5",
		Target:     store.Target{GitURL: "https://example.com/repo.git"},
		ScanConfig: store.ScanConfig{EnableFuzzing: true, MonitorDurationMinutes: 5},
	}
	env.ExecuteWorkflow(ScanWorkflow, input, testTimeouts())

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
}

// TestScanWorkflowCancelledBeforeDispatchStopsPipeline verifies a signal
// delivered before the workflow begins stage dispatch stops the pipeline
// without running any further stages.
func TestScanWorkflowCancelledBeforeDispatchStopsPipeline(t *testing.T) {
	s := testsuite.WorkflowTestSuite{}
	env := s.NewTestWorkflowEnvironment()
	var a *Activities
	env.OnActivity(a.IsCancelledActivity, mock.Anything, mock.Anything).Return(false, nil)
	env.OnActivity(a.RecordProgressActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.RecordStageResultActivity, mock.Anything, mock.Anything).Return(nil)
	env.OnActivity(a.FinalizeScanActivity, mock.Anything, mock.Anything).Return(nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(cancelSignalName, struct{}{})
	}, 0)

	input := ScanWorkflowInput{
		ScanID:     "scan_6",
		Target:     store.Target{GitURL: "https://example.com/repo.git"},
		ScanConfig: store.ScanConfig{EnableFuzzing: true, MonitorDurationMinutes: 5},
	}
	env.ExecuteWorkflow(ScanWorkflow, input, testTimeouts())

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "RunStageActivity", mock.Anything, mock.Anything, mock.Anything)
}
