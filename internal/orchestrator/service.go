package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// Service is the orchestrator's public entry point: it creates scan
// records, starts ScanWorkflow executions, and answers the read-side
// queries (§4.C5 "Public operations").
type Service struct {
	temporal     client.Client
	store        store.Store
	cfg          config.Orchestrator
	timeouts     ActivityTimeouts
	scanDefaults store.ScanConfig
}

// NewService wires a Service from a dialed Temporal client, the shared
// scan store, and the resolved stage timeouts/defaults.
func NewService(temporalClient client.Client, st store.Store, cfg config.Orchestrator, timeouts ActivityTimeouts, scanDefaults store.ScanConfig) *Service {
	return &Service{
		temporal:     temporalClient,
		store:        st,
		cfg:          cfg,
		timeouts:     timeouts,
		scanDefaults: scanDefaults,
	}
}

// ScanRequest is POST /scan's body (§4.C5, §6 validation).
type ScanRequest struct {
	TargetURL        string           `json:"target_url,omitempty"`
	ContractAddress  string           `json:"contract_address,omitempty"`
	Chain            string           `json:"chain,omitempty"`
	ScanConfig       *store.ScanConfig `json:"scan_config,omitempty"`
	IdempotencyKey   string           `json:"idempotency_key,omitempty"`
}

// ScanAccepted is POST /scan's response.
type ScanAccepted struct {
	ScanID string           `json:"scan_id"`
	Status store.ScanStatus `json:"status"`
}

// CreateScan validates req, enforces backpressure, deduplicates on
// idempotency key, persists the scan record, and starts ScanWorkflow.
func (s *Service) CreateScan(ctx context.Context, req ScanRequest) (ScanAccepted, error) {
	if err := validateScanRequest(req); err != nil {
		return ScanAccepted{}, err
	}

	if req.IdempotencyKey != "" {
		if existing, err := s.store.GetScanByIdempotencyKey(ctx, req.IdempotencyKey); err == nil {
			return ScanAccepted{ScanID: existing.ScanID, Status: existing.Status}, nil
		} else if err != store.ErrNotFound {
			return ScanAccepted{}, errs.Wrap(errs.Internal, "checking idempotency key", err)
		}
	}

	admitted, err := s.admit(ctx)
	if err != nil {
		return ScanAccepted{}, err
	}
	if !admitted {
		return ScanAccepted{}, errs.New(errs.Conflict, "orchestrator is at capacity, try again later")
	}

	scanID := newScanID()

	scanConfig := s.scanDefaults
	if req.ScanConfig != nil {
		scanConfig = mergeScanConfig(s.scanDefaults, *req.ScanConfig)
	}

	target := store.Target{
		GitURL:  req.TargetURL,
		Address: req.ContractAddress,
		Chain:   req.Chain,
	}

	return s.createScanRecord(ctx, scanID, target, scanConfig, req.IdempotencyKey)
}

func (s *Service) createScanRecord(ctx context.Context, scanID string, target store.Target, scanConfig store.ScanConfig, idempotencyKey string) (ScanAccepted, error) {
	scan := &store.Scan{
		ScanID:         scanID,
		Target:         target,
		ChainHint:      target.Chain,
		ScanConfig:     scanConfig,
		Status:         store.ScanPending,
		TargetURL:      target.GitURL,
		IdempotencyKey: idempotencyKey,
		StartedAt:      time.Now(),
	}
	if err := s.store.CreateScan(ctx, scan); err != nil {
		return ScanAccepted{}, errs.Wrap(errs.Internal, "creating scan record", err)
	}

	input := ScanWorkflowInput{ScanID: scanID, Target: target, ScanConfig: scanConfig}
	_, err := s.temporal.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        scanID,
		TaskQueue: s.cfg.TaskQueue,
	}, ScanWorkflow, input, s.timeouts)
	if err != nil {
		return ScanAccepted{}, errs.Wrap(errs.Internal, "starting scan workflow", err)
	}

	return ScanAccepted{ScanID: scanID, Status: store.ScanPending}, nil
}

// GetScan returns the full scan record for GET /scan/{id}.
func (s *Service) GetScan(ctx context.Context, scanID string) (*store.Scan, error) {
	return s.store.GetScan(ctx, scanID)
}

// ListScans returns the most-recent-first scan list for GET /scans.
func (s *Service) ListScans(ctx context.Context, limit int, status store.ScanStatus) ([]*store.Scan, error) {
	return s.store.ListScans(ctx, limit, status)
}

// CancelScan marks the scan cancelled and signals the running workflow
// (§4.C5: "best-effort cancellation; transitions running → failed").
func (s *Service) CancelScan(ctx context.Context, scanID string) error {
	scan, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	if scan.Status != store.ScanPending && scan.Status != store.ScanRunning {
		return errs.New(errs.Conflict, "scan is not in a cancellable state")
	}

	cancelled := true
	if err := s.store.UpdateScan(ctx, scanID, store.Patch{Cancelled: &cancelled}); err != nil {
		return errs.Wrap(errs.Internal, "recording cancellation", err)
	}

	if err := s.temporal.SignalWorkflow(ctx, scanID, "", cancelSignalName, struct{}{}); err != nil {
		// The workflow may have already completed; the stored Cancelled
		// flag is still the source of truth for "subsequent stages MUST
		// NOT start".
		return nil
	}
	return nil
}

func (s *Service) admit(ctx context.Context) (bool, error) {
	capacity := s.cfg.MaxConcurrentScans + s.cfg.QueueSize
	// Fetching capacity+1 per status is enough to know whether the sum
	// reaches capacity without scanning the whole table.
	pending, err := s.store.ListScans(ctx, capacity+1, store.ScanPending)
	if err != nil {
		return false, errs.Wrap(errs.Internal, "checking queue depth", err)
	}
	running, err := s.store.ListScans(ctx, capacity+1, store.ScanRunning)
	if err != nil {
		return false, errs.Wrap(errs.Internal, "checking queue depth", err)
	}
	return len(pending)+len(running) < capacity, nil
}

func validateScanRequest(req ScanRequest) error {
	hasURL := req.TargetURL != ""
	hasAddr := req.ContractAddress != ""
	if hasURL == hasAddr {
		return errs.New(errs.InvalidRequest, "exactly one of target_url or contract_address is required")
	}
	if hasAddr && req.Chain == "" {
		return errs.New(errs.InvalidRequest, "chain is required when contract_address is set")
	}
	return nil
}

func mergeScanConfig(defaults, override store.ScanConfig) store.ScanConfig {
	merged := defaults
	merged.EnableFuzzing = override.EnableFuzzing
	if override.MonitorDurationMinutes != 0 {
		merged.MonitorDurationMinutes = override.MonitorDurationMinutes
	}
	if override.SandboxType != "" {
		merged.SandboxType = override.SandboxType
	}
	merged.AllowLive = override.AllowLive
	if len(override.ReportFormats) > 0 {
		merged.ReportFormats = override.ReportFormats
	}
	if len(override.NotifyChannels) > 0 {
		merged.NotifyChannels = override.NotifyChannels
	}
	return merged
}

func newScanID() string {
	return fmt.Sprintf("scan_%s", uuid.NewString())
}
