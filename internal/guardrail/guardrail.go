// Package guardrail implements the C6 pause workflow: a monitor
// registry and a pause-request state machine that executes through a
// pluggable adapter.
package guardrail

import (
	"context"
	"sync"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
)

// Monitor is a registered watch on a contract (§4.C6 "Monitor registry").
type Monitor struct {
	ContractAddress string    `json:"contract_address"`
	Chain           string    `json:"chain"`
	AutoPause       bool      `json:"auto_pause"`
	AlertChannels   []string  `json:"alert_channels,omitempty"`
	RegisteredAt    time.Time `json:"registered_at"`
}

// PauseStatus is one state in the pause-request lifecycle (§4.C6 "Pause
// request lifecycle").
type PauseStatus string

const (
	PausePendingApproval PauseStatus = "pending_approval"
	PauseAutoApproved    PauseStatus = "auto_approved"
	PauseApproved        PauseStatus = "approved"
	PauseExecuted        PauseStatus = "executed"
	PauseRejected        PauseStatus = "rejected"
)

// PauseRequest is one pause intent against a monitored contract.
type PauseRequest struct {
	ID              string      `json:"id"`
	ContractAddress string      `json:"contract_address"`
	Chain           string      `json:"chain"`
	Reason          string      `json:"reason,omitempty"`
	Severity        string      `json:"severity,omitempty"`
	Requester       string      `json:"requester"` // "auto_rule" | "operator_token"
	Status          PauseStatus `json:"status"`
	LastError       string      `json:"last_error,omitempty"`
	Receipt         string      `json:"receipt,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	DecidedAt       *time.Time  `json:"decided_at,omitempty"`
	ExecutedAt      *time.Time  `json:"executed_at,omitempty"`
	// autoPauseAtCreation pins the owning monitor's auto_pause value at
	// request-creation time so a later config change can't retroactively
	// auto-approve a pending request (§4.C6 "Safety invariant").
	autoPauseAtCreation bool
}

// PauseAdapter executes an approved pause intent against the chain
// (multisig, governance, or a direct EOA call through the RPC pool).
// §4.C6: "a required external collaborator".
type PauseAdapter interface {
	Execute(ctx context.Context, req PauseRequest) (receipt string, err error)
}

// Registry holds the monitor set and pause-request state in memory,
// guarded by a single mutex — the same shape as the teacher's in-memory
// session/job registries before they're handed to a durable store.
type Registry struct {
	mu       sync.Mutex
	monitors map[string]Monitor // keyed by contract_address+":"+chain
	requests map[string]*PauseRequest
	adapter  PauseAdapter
	nextID   func() string
}

// NewRegistry builds an empty Registry. idGen generates pause-request IDs
// (injected so tests get deterministic IDs instead of depending on
// crypto/rand or time).
func NewRegistry(adapter PauseAdapter, idGen func() string) *Registry {
	return &Registry{
		monitors: make(map[string]Monitor),
		requests: make(map[string]*PauseRequest),
		adapter:  adapter,
		nextID:   idGen,
	}
}

func monitorKey(contractAddress, chain string) string {
	return contractAddress + ":" + chain
}

// StartMonitor registers or replaces a monitor (§4.C6 "POST /monitor/start").
func (r *Registry) StartMonitor(m Monitor) Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.RegisteredAt = time.Now()
	r.monitors[monitorKey(m.ContractAddress, m.Chain)] = m
	return m
}

// StopMonitor deregisters a monitor (§4.C6 "POST /monitor/stop").
func (r *Registry) StopMonitor(contractAddress, chain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := monitorKey(contractAddress, chain)
	if _, ok := r.monitors[key]; !ok {
		return errs.New(errs.NotFound, "no monitor registered for "+key)
	}
	delete(r.monitors, key)
	return nil
}

// ListMonitors enumerates every registered monitor (§4.C6 "GET /monitor/status").
func (r *Registry) ListMonitors() []Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		out = append(out, m)
	}
	return out
}

// RequestPause creates a PauseRequest for a monitored contract. If the
// owning monitor's auto_pause was true at creation time, the request is
// immediately auto-approved and executed (§4.C6 "Pause request
// lifecycle", "Safety invariant").
func (r *Registry) RequestPause(ctx context.Context, contractAddress, chain, reason string) (*PauseRequest, error) {
	return r.requestPause(ctx, contractAddress, chain, reason, "", "operator_token")
}

// RequestPauseAuto is the entry point the monitoring stage's anomaly
// detector uses to raise a pause request on its own behalf, recorded with
// requester "auto_rule" rather than "operator_token" (§4.C4
// PauseRequest.requester).
func (r *Registry) RequestPauseAuto(ctx context.Context, contractAddress, chain, reason, severity string) (*PauseRequest, error) {
	return r.requestPause(ctx, contractAddress, chain, reason, severity, "auto_rule")
}

func (r *Registry) requestPause(ctx context.Context, contractAddress, chain, reason, severity, requester string) (*PauseRequest, error) {
	r.mu.Lock()
	monitor, ok := r.monitors[monitorKey(contractAddress, chain)]
	r.mu.Unlock()
	if !ok {
		return nil, errs.New(errs.NotFound, "no monitor registered for "+monitorKey(contractAddress, chain))
	}

	req := &PauseRequest{
		ID:                  r.nextID(),
		ContractAddress:     contractAddress,
		Chain:               chain,
		Reason:              reason,
		Severity:            severity,
		Requester:           requester,
		Status:              PausePendingApproval,
		CreatedAt:           time.Now(),
		autoPauseAtCreation: monitor.AutoPause,
	}

	r.mu.Lock()
	r.requests[req.ID] = req
	r.mu.Unlock()

	if req.autoPauseAtCreation {
		now := time.Now()
		req.Status = PauseAutoApproved
		req.DecidedAt = &now
		r.execute(ctx, req)
	}
	return req, nil
}

// Approve transitions a pending request to approved, then executes it
// (§4.C6: "transitions it to approved (then executed)").
func (r *Registry) Approve(ctx context.Context, id string) (*PauseRequest, error) {
	req, err := r.transition(id, PausePendingApproval, PauseApproved)
	if err != nil {
		return nil, err
	}
	r.execute(ctx, req)
	return req, nil
}

// Reject transitions a pending request to rejected, a terminal state
// (§4.C6: "Reject is terminal").
func (r *Registry) Reject(id string) (*PauseRequest, error) {
	return r.transition(id, PausePendingApproval, PauseRejected)
}

func (r *Registry) transition(id string, from, to PauseStatus) (*PauseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "no pause request "+id)
	}
	if req.Status != from {
		return nil, errs.New(errs.Conflict, "pause request "+id+" is not in "+string(from)+" state")
	}
	now := time.Now()
	req.Status = to
	req.DecidedAt = &now
	return req, nil
}

// execute runs the configured adapter. A failure transitions approved ->
// approved (no state change) with last_error set and is NOT retried
// automatically (§4.C6 "Failure semantics").
func (r *Registry) execute(ctx context.Context, req *PauseRequest) {
	if r.adapter == nil {
		r.mu.Lock()
		req.LastError = "no pause adapter configured"
		r.mu.Unlock()
		return
	}
	receipt, err := r.adapter.Execute(ctx, *req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		req.LastError = err.Error()
		return
	}
	now := time.Now()
	req.LastError = ""
	req.Receipt = receipt
	req.Status = PauseExecuted
	req.ExecutedAt = &now
}

// Get returns a single pause request by id.
func (r *Registry) Get(id string) (*PauseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "no pause request "+id)
	}
	snapshot := *req
	return &snapshot, nil
}
