// Package orchestrator drives the six-stage scan pipeline (§4.C5) as a
// Temporal workflow: ScanWorkflow sequences Recon, Static, Fuzzing,
// Monitoring, Triage, and Reporting activities, each of which calls out
// to the corresponding stage-worker HTTP service.
package orchestrator

import (
	"time"

	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// stageOrder is the fixed pipeline order (§4.C5 "Pipeline").
var stageOrder = []string{"recon", "static", "fuzzing", "monitoring", "triage", "reporting"}

// progressRange holds the deterministic start/end progress percentages
// for one stage (§4.C5 "Progress mapping").
type progressRange struct {
	start int
	end   int
}

var stageProgress = map[string]progressRange{
	"recon":      {10, 30},
	"static":     {35, 50},
	"fuzzing":    {50, 65},
	"monitoring": {65, 75},
	"triage":     {80, 90},
	"reporting":  {95, 100},
}

// ScanWorkflowInput is the payload ScanWorkflow is started with; it
// mirrors store.Scan's write-once fields plus the scan_id the workflow
// is responsible for driving.
type ScanWorkflowInput struct {
	ScanID     string           `json:"scan_id"`
	Target     store.Target     `json:"target"`
	ScanConfig store.ScanConfig `json:"scan_config"`
}

// StageRequest is the request body every stage worker accepts (§4.C5
// "Stage dispatch": "{scan_id, chain, prior_stage_outputs}").
type StageRequest struct {
	ScanID            string                    `json:"scan_id"`
	Chain             string                    `json:"chain"`
	Target            store.Target              `json:"target"`
	ScanConfig        store.ScanConfig          `json:"scan_config"`
	PriorStageOutputs map[string]stagepb.Result `json:"prior_stage_outputs"`
}

// StageResponse is the uniform envelope every stage worker returns. A
// stage signals fatal failure via HTTP 5xx (caught by the HTTP client as
// an error); a 200 response with Result.Status == StatusPartial signals
// a partial (§4.C5 "Failure semantics").
type StageResponse struct {
	Result stagepb.Result `json:"result"`
}

// cancelSignalName is the Temporal signal ScanWorkflow listens on to
// implement POST /scan/{id}/cancel's best-effort cancellation.
const cancelSignalName = "cancel"

// ActivityTimeouts carries the per-stage StartToCloseTimeout values
// (§4.C5 "Stage dispatch" defaults), resolved once from config before the
// workflow starts since workflow code must stay deterministic and cannot
// read config itself.
type ActivityTimeouts struct {
	Recon      time.Duration
	Static     time.Duration
	Fuzzing    time.Duration
	Monitoring time.Duration
	Triage     time.Duration
	Reporting  time.Duration
}

func (t ActivityTimeouts) forStage(stage string) time.Duration {
	switch stage {
	case "recon":
		return t.Recon
	case "static":
		return t.Static
	case "fuzzing":
		return t.Fuzzing
	case "monitoring":
		return t.Monitoring
	case "triage":
		return t.Triage
	case "reporting":
		return t.Reporting
	default:
		return 60 * time.Second
	}
}

// UpdateProgressInput is RecordProgressActivity's argument.
type UpdateProgressInput struct {
	ScanID       string `json:"scan_id"`
	Progress     int    `json:"progress"`
	CurrentStage string `json:"current_stage"`
}

// RecordStageResultInput is RecordStageResultActivity's argument.
type RecordStageResultInput struct {
	ScanID string         `json:"scan_id"`
	Result stagepb.Result `json:"result"`
}

// FinalizeInput is FinalizeScanActivity's argument: the terminal patch
// applied once the pipeline reaches completed or failed.
type FinalizeInput struct {
	ScanID          string                    `json:"scan_id"`
	Status          store.ScanStatus          `json:"status"`
	Error           string                    `json:"error,omitempty"`
	FindingsSummary map[string]int            `json:"findings_summary,omitempty"`
	ReportErrors    []string                  `json:"report_errors,omitempty"`
	StageResults    map[string]stagepb.Result `json:"-"`
}
