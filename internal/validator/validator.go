// Package validator implements C7: a bounded worker pool that reproduces
// a finding's proof of concept inside an ephemeral sandbox and records a
// validity verdict plus execution trace.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/metrics"
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// Sandbox executes one validation job's PoC in isolation and reports back
// an execution trace and any observed state diff (§4.C7 "sandbox
// guarantees"). A sandbox is created per job and must be fully torn down
// by Run before returning, regardless of outcome.
type Sandbox interface {
	Run(ctx context.Context, job *store.ValidationJob, poc, rpcEndpoint string) (trace string, stateDiff string, err error)
}

// queueItem is what actually flows through the in-memory dispatch
// channel. Chain never lives on store.ValidationJob itself (the record is
// shared with manual/external submissions that may have no on-chain
// target at all); carrying it alongside the job id here is simpler than
// adding a column only the worker loop needs.
type queueItem struct {
	JobID string
	Chain string
}

// Service is the C7 validator: queue + bounded worker pool.
type Service struct {
	Store          store.Store
	Sandbox        Sandbox
	RPCPools       map[string]*rpcpool.Pool
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	MaxConcurrent  int
	Logger         *slog.Logger

	queue chan queueItem
}

// NewService builds a Service. Start must be called once before any job
// submitted via Submit will actually run.
func NewService(st store.Store, sandbox Sandbox, pools map[string]*rpcpool.Pool, defaultTimeout, maxTimeout time.Duration, maxConcurrent int, logger *slog.Logger) *Service {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Store:          st,
		Sandbox:        sandbox,
		RPCPools:       pools,
		DefaultTimeout: defaultTimeout,
		MaxTimeout:     maxTimeout,
		MaxConcurrent:  maxConcurrent,
		Logger:         logger.With("component", "validator"),
		queue:          make(chan queueItem, 1024),
	}
}

// Start launches MaxConcurrent worker goroutines and requeues any job the
// store still shows as queued (e.g. after a restart), until ctx is
// cancelled.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.MaxConcurrent; i++ {
		go s.worker(ctx)
	}

	pending, err := s.Store.ListQueuedValidationJobs(ctx, 100)
	if err != nil {
		s.Logger.Warn("failed to recover queued validation jobs", "error", err)
		return
	}
	for _, job := range pending {
		s.dispatch(queueItem{JobID: job.JobID, Chain: ""})
	}
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-s.queue:
			s.runJob(ctx, item)
		}
	}
}

func (s *Service) dispatch(item queueItem) {
	select {
	case s.queue <- item:
	default:
		s.Logger.Warn("validation queue full, job left queued in store", "job_id", item.JobID)
	}
	metrics.ValidationQueueDepth.Set(float64(len(s.queue)))
}

// SubmitRequest is the POST /validate request body (§4.C7, §3).
type SubmitRequest struct {
	ScanID         string  `json:"scan_id,omitempty"`
	FindingID      string  `json:"finding_id,omitempty"`
	ExternalID     string  `json:"external_id,omitempty"`
	Type           string  `json:"type" validate:"required"`
	ProofOfConcept string  `json:"proof_of_concept,omitempty"`
	Chain          string  `json:"chain,omitempty"`
	SandboxType    string  `json:"sandbox_type,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"`
	AllowLive      bool    `json:"allow_live,omitempty"`
}

// Submit validates and persists req as a queued job, then hands it to the
// worker pool.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*store.ValidationJob, error) {
	timeout := req.TimeoutSeconds
	if timeout <= 0 {
		timeout = int(s.DefaultTimeout.Seconds())
	}
	maxTimeout := int(s.MaxTimeout.Seconds())
	if maxTimeout > 0 && timeout > maxTimeout {
		timeout = maxTimeout
	}
	sandboxType := req.SandboxType
	if sandboxType == "" {
		sandboxType = "docker"
	}

	job := &store.ValidationJob{
		JobID: "job_" + uuid.NewString(),
		FindingRef: store.FindingRef{
			ScanID:         req.ScanID,
			FindingID:      req.FindingID,
			ExternalID:     req.ExternalID,
			Type:           req.Type,
			ProofOfConcept: req.ProofOfConcept,
		},
		Status:         store.JobQueued,
		SandboxType:    sandboxType,
		TimeoutSeconds: timeout,
		AllowLive:      req.AllowLive,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.Store.CreateValidationJob(ctx, job); err != nil {
		return nil, errs.Wrap(errs.Internal, "creating validation job", err)
	}

	s.dispatch(queueItem{JobID: job.JobID, Chain: req.Chain})
	return job, nil
}

// Get returns a single job record.
func (s *Service) Get(ctx context.Context, jobID string) (*store.ValidationJob, error) {
	job, err := s.Store.GetValidationJob(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errs.New(errs.NotFound, "validation job not found")
		}
		return nil, errs.Wrap(errs.Internal, "fetching validation job", err)
	}
	return job, nil
}

// Mark records an admin operator verdict on a completed job (§4.C7
// "Manual override"), without mutating the original verdict.
func (s *Service) Mark(ctx context.Context, jobID string, isValid bool, confidence float64) (*store.ValidationJob, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobCompleted {
		return nil, errs.New(errs.Conflict, "manual override only permitted on completed jobs")
	}
	verdict := &store.OperatorVerdict{IsValid: isValid, Confidence: confidence, RecordedAt: time.Now().UTC()}
	if err := s.Store.UpdateValidationJob(ctx, jobID, store.ValidationJobPatch{OperatorVerdict: verdict}); err != nil {
		return nil, errs.Wrap(errs.Internal, "recording operator verdict", err)
	}
	return s.Get(ctx, jobID)
}

func (s *Service) runJob(ctx context.Context, item queueItem) {
	job, err := s.Store.GetValidationJob(ctx, item.JobID)
	if err != nil {
		s.Logger.Error("validation job vanished before dispatch", "job_id", item.JobID, "error", err)
		return
	}

	now := time.Now().UTC()
	if err := s.Store.UpdateValidationJob(ctx, job.JobID, store.ValidationJobPatch{
		Status:    statusPtr(store.JobRunning),
		StartedAt: &now,
	}); err != nil {
		s.Logger.Error("failed to mark validation job running", "job_id", job.JobID, "error", err)
		return
	}

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = s.DefaultTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poc := resolvePoC(job.FindingRef)
	if err := Sanitize(poc); err != nil {
		s.finish(ctx, job.JobID, store.JobFailed, nil, nil, "", "", "unsafe poc")
		metrics.ValidationJobsTotal.WithLabelValues("unsafe_poc").Inc()
		return
	}

	rpcEndpoint, liveViolation := s.resolveRPCEndpoint(item.Chain, job.AllowLive, poc)
	if liveViolation {
		s.finish(ctx, job.JobID, store.JobFailed, nil, nil, "", "", "live RPC attempted")
		metrics.ValidationJobsTotal.WithLabelValues("live_rpc_violation").Inc()
		return
	}

	trace, diff, err := s.Sandbox.Run(jobCtx, job, poc, rpcEndpoint)
	if jobCtx.Err() == context.DeadlineExceeded {
		s.finish(ctx, job.JobID, store.JobFailed, nil, nil, trace, diff, "timeout")
		metrics.ValidationJobsTotal.WithLabelValues("timeout").Inc()
		return
	}
	if err != nil {
		s.finish(ctx, job.JobID, store.JobFailed, nil, nil, trace, diff, err.Error())
		metrics.ValidationJobsTotal.WithLabelValues("sandbox_error").Inc()
		return
	}

	isValid, confidence := classify(trace, diff)
	s.finish(ctx, job.JobID, store.JobCompleted, &isValid, &confidence, trace, diff, "")
	metrics.ValidationJobsTotal.WithLabelValues("completed").Inc()
}

func (s *Service) finish(ctx context.Context, jobID string, status store.ValidationJobStatus, isValid *bool, confidence *float64, trace, diff, errMsg string) {
	now := time.Now().UTC()
	patch := store.ValidationJobPatch{
		Status:         &status,
		IsValid:        isValid,
		Confidence:     confidence,
		ExecutionTrace: &trace,
		StateDiff:      &diff,
		CompletedAt:    &now,
	}
	if errMsg != "" {
		patch.ErrorMessage = &errMsg
	}
	if err := s.Store.UpdateValidationJob(ctx, jobID, patch); err != nil {
		s.Logger.Error("failed to record validation job outcome", "job_id", jobID, "error", err)
	}
}

// resolveRPCEndpoint returns the RPC endpoint the sandbox should be given
// and whether the PoC already violates the allow_live=false guarantee by
// hardcoding one of the chain's live provider URLs instead of relying on
// the endpoint the sandbox is handed.
func (s *Service) resolveRPCEndpoint(chain string, allowLive bool, poc string) (string, bool) {
	if chain == "" {
		return "", false
	}
	pool, ok := s.RPCPools[chain]
	if !ok {
		return "", false
	}
	status := pool.Status()
	if !allowLive {
		for _, p := range status.Providers {
			if containsSubstring(poc, p.URL) {
				return "", true
			}
		}
	}
	if len(status.Providers) == 0 {
		return "", false
	}
	return fmt.Sprintf("forked:%s:%s", chain, status.Providers[0].URL), false
}

func containsSubstring(haystack, needle string) bool {
	return needle != "" && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

// classify turns sandbox output into a verdict. A non-empty state diff is
// treated as the PoC having observably changed chain state, which is the
// strongest signal available without a chain-specific exploit oracle;
// an empty diff with a clean trace is inconclusive rather than
// confidently negative.
func classify(trace, stateDiff string) (bool, float64) {
	if stateDiff != "" {
		return true, 0.75
	}
	if trace == "" {
		return false, 0.1
	}
	return false, 0.3
}

func statusPtr(s store.ValidationJobStatus) *store.ValidationJobStatus { return &s }
