// Package store provides the scan store (§4.C4): persistence for Scan,
// Finding, ValidationJob, PauseRequest, and Monitor records. The default
// implementation is SQLite (single-writer, the orchestrator owns each
// scan record); Store is an interface so a pluggable implementation
// (internal/store/redisstore) can stand in behind the same contract.
package store

import (
	"context"
	"time"

	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Target is the sum type over a scan's input (§3): exactly one of GitURL,
// LocalPath, or Address is set.
type Target struct {
	GitURL         string `json:"git_url,omitempty"`
	LocalPath      string `json:"local_path,omitempty"`
	Address        string `json:"address,omitempty"`
	Chain          string `json:"chain,omitempty"`
	ForceDecompile bool   `json:"force_decompile,omitempty"`
}

// ScanStatus is one of the four legal states in the scan state machine
// (§4.C5 "state machine").
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// ScanConfig holds the recognized scan_config options (§4.C5).
type ScanConfig struct {
	EnableFuzzing          bool     `json:"enable_fuzzing"`
	MonitorDurationMinutes int      `json:"monitor_duration_minutes"`
	SandboxType            string   `json:"sandbox_type"`
	AllowLive              bool     `json:"allow_live"`
	ReportFormats          []string `json:"report_formats"`
	NotifyChannels         []string `json:"notify_channels"`
}

// Scan is the root scan record (§3).
type Scan struct {
	ScanID          string                    `json:"scan_id"`
	Target          Target                    `json:"target"`
	ChainHint       string                    `json:"chain_hint,omitempty"`
	ScanConfig      ScanConfig                `json:"scan_config"`
	Status          ScanStatus                `json:"status"`
	Progress        int                       `json:"progress"`
	CurrentStage    string                    `json:"current_stage,omitempty"`
	StageResults    map[string]stagepb.Result `json:"stage_results"`
	FindingsSummary map[string]int            `json:"findings_summary"`
	TargetURL       string                    `json:"target_url,omitempty"`
	IdempotencyKey  string                    `json:"idempotency_key,omitempty"`
	Cancelled       bool                      `json:"-"`
	ReportErrors    []string                  `json:"report_errors,omitempty"`
	StartedAt       time.Time                 `json:"started_at"`
	CompletedAt     *time.Time                `json:"completed_at,omitempty"`
	Error           string                    `json:"error,omitempty"`
}

// DurationSeconds is the derived field from §3: completed_at - started_at,
// or time-since-start for a scan still in flight.
func (s *Scan) DurationSeconds() float64 {
	end := time.Now()
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	return end.Sub(s.StartedAt).Seconds()
}

// Patch is a partial update applied atomically to a single scan record.
// Only non-nil fields are written; this mirrors the teacher's
// single-purpose UpdateDispatchStatus/UpdateDispatchStage methods,
// collapsed into one type since the orchestrator is the sole writer per
// scan and every update already happens inside one transaction.
type Patch struct {
	Status          *ScanStatus
	Progress        *int
	CurrentStage    *string
	StageResult     *stagepb.Result // keyed by StageResult.Kind when set
	FindingsSummary map[string]int
	Error           *string
	Cancelled       *bool
	CompletedAt     *time.Time
	ReportErrors    []string
}

// ValidationJobStatus is one of the states in §4.C7's job lifecycle.
type ValidationJobStatus string

const (
	JobQueued    ValidationJobStatus = "queued"
	JobRunning   ValidationJobStatus = "running"
	JobCompleted ValidationJobStatus = "completed"
	JobFailed    ValidationJobStatus = "failed"
	JobCancelled ValidationJobStatus = "cancelled"
)

// FindingRef identifies the finding a ValidationJob reproduces: either a
// scan-local finding or an externally-supplied one (§3).
type FindingRef struct {
	ScanID       string `json:"scan_id,omitempty"`
	FindingID    string `json:"finding_id,omitempty"`
	ExternalID   string `json:"external_id,omitempty"`
	Type         string `json:"type"`
	ProofOfConcept string `json:"proof_of_concept,omitempty"`
}

// ValidationJob is a validator job record (§3, §4.C7).
type ValidationJob struct {
	JobID            string              `json:"job_id"`
	FindingRef       FindingRef          `json:"finding_ref"`
	Status           ValidationJobStatus `json:"status"`
	SandboxType      string              `json:"sandbox_type"`
	TimeoutSeconds   int                 `json:"timeout_seconds"`
	AllowLive        bool                `json:"allow_live"`
	IsValid          *bool               `json:"is_valid,omitempty"`
	Confidence       *float64            `json:"confidence,omitempty"`
	ExecutionTrace   string              `json:"execution_trace,omitempty"`
	StateDiff        string              `json:"state_diff,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
	OperatorVerdict  *OperatorVerdict    `json:"operator_verdict,omitempty"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

// OperatorVerdict is an admin override recorded via
// POST /validate/{job_id}/mark (§4.C7), appended without mutating the
// original verdict.
type OperatorVerdict struct {
	IsValid    bool      `json:"is_valid"`
	Confidence float64   `json:"confidence"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ValidationJobPatch is a partial update to a ValidationJob.
type ValidationJobPatch struct {
	Status          *ValidationJobStatus
	IsValid         *bool
	Confidence      *float64
	ExecutionTrace  *string
	StateDiff       *string
	ErrorMessage    *string
	OperatorVerdict *OperatorVerdict
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// PauseRequestStatus is one of the states in §3/§4.C6's pause lifecycle.
type PauseRequestStatus string

const (
	PausePendingApproval PauseRequestStatus = "pending_approval"
	PauseAutoApproved    PauseRequestStatus = "auto_approved"
	PauseApproved        PauseRequestStatus = "approved"
	PauseExecuted        PauseRequestStatus = "executed"
	PauseRejected        PauseRequestStatus = "rejected"
)

// Requester identifies who raised a PauseRequest (§3).
type Requester string

const (
	RequesterAutoRule      Requester = "auto_rule"
	RequesterOperatorToken Requester = "operator_token"
)

// PauseRequest is a guardrail pause request record (§3, §4.C6).
type PauseRequest struct {
	ID              string             `json:"id"`
	ContractAddress string             `json:"contract_address"`
	Chain           string             `json:"chain"`
	Reason          string             `json:"reason"`
	Severity        string             `json:"severity"`
	Status          PauseRequestStatus `json:"status"`
	Requester       Requester          `json:"requester"`
	LastError       string             `json:"last_error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	DecidedAt       *time.Time         `json:"decided_at,omitempty"`
	ExecutedAt      *time.Time         `json:"executed_at,omitempty"`
}

// PauseRequestPatch is a partial update to a PauseRequest.
type PauseRequestPatch struct {
	Status     *PauseRequestStatus
	LastError  *string
	DecidedAt  *time.Time
	ExecutedAt *time.Time
}

// Monitor is a registered watch on a deployed contract (§3, §4.C6). At
// most one exists per (contract_address, chain) at a time.
type Monitor struct {
	ContractAddress string    `json:"contract_address"`
	Chain           string    `json:"chain"`
	AutoPause       bool      `json:"auto_pause"`
	AlertChannels   []string  `json:"alert_channels"`
	StartedAt       time.Time `json:"started_at"`
}

// Store is the scan-store contract (§4.C4): create/get/list/update/delete,
// plus the sibling record types C6/C7 share the same database with.
type Store interface {
	CreateScan(ctx context.Context, scan *Scan) error
	GetScan(ctx context.Context, scanID string) (*Scan, error)
	GetScanByIdempotencyKey(ctx context.Context, key string) (*Scan, error)
	ListScans(ctx context.Context, limit int, status ScanStatus) ([]*Scan, error)
	UpdateScan(ctx context.Context, scanID string, patch Patch) error
	DeleteScan(ctx context.Context, scanID string) error

	CreateValidationJob(ctx context.Context, job *ValidationJob) error
	GetValidationJob(ctx context.Context, jobID string) (*ValidationJob, error)
	ListQueuedValidationJobs(ctx context.Context, limit int) ([]*ValidationJob, error)
	UpdateValidationJob(ctx context.Context, jobID string, patch ValidationJobPatch) error

	CreatePauseRequest(ctx context.Context, req *PauseRequest) error
	GetPauseRequest(ctx context.Context, id string) (*PauseRequest, error)
	UpdatePauseRequest(ctx context.Context, id string, patch PauseRequestPatch) error
	ListPauseRequests(ctx context.Context, status string) ([]*PauseRequest, error)

	UpsertMonitor(ctx context.Context, m *Monitor) error
	GetMonitor(ctx context.Context, contractAddress, chain string) (*Monitor, error)
	DeleteMonitor(ctx context.Context, contractAddress, chain string) error
	ListMonitors(ctx context.Context) ([]*Monitor, error)

	Close() error
}

// ErrNotFound is returned by Get*/Update* methods when no record matches.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: record not found" }
