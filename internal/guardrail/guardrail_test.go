package guardrail

import (
	"context"
	"errors"
	"testing"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return "pr_" + string(rune('0'+n))
	}
}

type fakeAdapter struct {
	fail    bool
	receipt string
}

func (a *fakeAdapter) Execute(ctx context.Context, req PauseRequest) (string, error) {
	if a.fail {
		return "", errors.New("adapter unreachable")
	}
	return a.receipt, nil
}

func TestRequestPauseAutoApprovesWhenMonitorAutoPauseIsTrue(t *testing.T) {
	adapter := &fakeAdapter{receipt: "0xdeadbeef"}
	reg := NewRegistry(adapter, sequentialIDs())
	reg.StartMonitor(Monitor{ContractAddress: "0xabc", Chain: "ethereum", AutoPause: true})

	req, err := reg.RequestPause(context.Background(), "0xabc", "ethereum", "exploit pattern detected")
	if err != nil {
		t.Fatalf("RequestPause: %v", err)
	}
	if req.Status != PauseExecuted {
		t.Fatalf("Status = %q, want executed", req.Status)
	}
	if req.Receipt != "0xdeadbeef" {
		t.Errorf("Receipt = %q, want 0xdeadbeef", req.Receipt)
	}
}

func TestTogglingAutoPauseLaterDoesNotRetroactivelyApprovePendingRequests(t *testing.T) {
	adapter := &fakeAdapter{receipt: "0x1"}
	reg := NewRegistry(adapter, sequentialIDs())
	reg.StartMonitor(Monitor{ContractAddress: "0xabc", Chain: "ethereum", AutoPause: false})

	req, err := reg.RequestPause(context.Background(), "0xabc", "ethereum", "manual flag")
	if err != nil {
		t.Fatalf("RequestPause: %v", err)
	}
	if req.Status != PausePendingApproval {
		t.Fatalf("Status = %q, want pending_approval", req.Status)
	}

	// Flip auto_pause on after the request was already created.
	reg.StartMonitor(Monitor{ContractAddress: "0xabc", Chain: "ethereum", AutoPause: true})

	got, err := reg.Get(req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != PausePendingApproval {
		t.Errorf("Status = %q, want still pending_approval after auto_pause toggled later", got.Status)
	}
}

func TestApproveExecutesAndAdapterFailureKeepsApprovedStatus(t *testing.T) {
	adapter := &fakeAdapter{fail: true}
	reg := NewRegistry(adapter, sequentialIDs())
	reg.StartMonitor(Monitor{ContractAddress: "0xabc", Chain: "ethereum", AutoPause: false})

	req, err := reg.RequestPause(context.Background(), "0xabc", "ethereum", "manual flag")
	if err != nil {
		t.Fatalf("RequestPause: %v", err)
	}

	got, err := reg.Approve(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != PauseApproved {
		t.Errorf("Status = %q, want approved (no state change on execution failure)", got.Status)
	}
	if got.LastError == "" {
		t.Errorf("LastError = %q, want it set after adapter failure", got.LastError)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	reg := NewRegistry(&fakeAdapter{}, sequentialIDs())
	reg.StartMonitor(Monitor{ContractAddress: "0xabc", Chain: "ethereum"})

	req, err := reg.RequestPause(context.Background(), "0xabc", "ethereum", "")
	if err != nil {
		t.Fatalf("RequestPause: %v", err)
	}
	if _, err := reg.Reject(req.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := reg.Approve(context.Background(), req.ID); err == nil {
		t.Errorf("Approve on a rejected request should fail, got nil error")
	}
}

func TestRequestPauseRequiresRegisteredMonitor(t *testing.T) {
	reg := NewRegistry(&fakeAdapter{}, sequentialIDs())
	if _, err := reg.RequestPause(context.Background(), "0xnope", "ethereum", ""); err == nil {
		t.Errorf("RequestPause against an unregistered monitor should fail, got nil error")
	}
}
