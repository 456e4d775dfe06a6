package rpcpool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/errs"
)

func rpcServer(t *testing.T, handler func(method string) (any, *rpcError)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method)
		resp := jsonRPCResponse{Error: rpcErr}
		if rpcErr == nil {
			data, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("marshal result: %v", err)
			}
			resp.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func poolCfg() config.RPCPool {
	return config.RPCPool{
		CircuitThreshold:     3,
		CircuitTimeout:       config.Duration{Duration: 50 * time.Millisecond},
		HealthCheckInterval:  config.Duration{Duration: time.Hour},
		RequestTimeout:       config.Duration{Duration: 2 * time.Second},
		MaxRetriesPerRequest: 3,
	}
}

func TestCallSucceedsOnFirstHealthyProvider(t *testing.T) {
	srv := rpcServer(t, func(method string) (any, *rpcError) {
		return "0x2a", nil
	})

	pool, err := NewPool("ethereum", config.ChainSpec{Providers: []string{srv.URL}}, poolCfg(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	n, err := pool.Client().BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 42 {
		t.Errorf("BlockNumber = %d, want 42", n)
	}
}

func TestCallFailsOverToSecondProvider(t *testing.T) {
	bad := rpcServer(t, func(method string) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "boom"}
	})
	good := rpcServer(t, func(method string) (any, *rpcError) {
		return "0x10", nil
	})

	pool, err := NewPool("ethereum", config.ChainSpec{Providers: []string{bad.URL, good.URL}}, poolCfg(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	n, err := pool.Client().BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 16 {
		t.Errorf("BlockNumber = %d, want 16 (from failover provider)", n)
	}
}

func TestCallReturnsAllProvidersFailed(t *testing.T) {
	bad := rpcServer(t, func(method string) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "boom"}
	})

	pool, err := NewPool("ethereum", config.ChainSpec{Providers: []string{bad.URL}}, poolCfg(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	_, err = pool.Client().BlockNumber(context.Background())
	if err != errs.AllProvidersFailed {
		t.Fatalf("err = %v, want errs.AllProvidersFailed", err)
	}
}

func TestCallDoesNotRetryNonRetryableRPCError(t *testing.T) {
	var calls int32
	bad := rpcServer(t, func(method string) (any, *rpcError) {
		atomic.AddInt32(&calls, 1)
		return nil, &rpcError{Code: -32602, Message: "invalid params"}
	})
	good := rpcServer(t, func(method string) (any, *rpcError) {
		t.Error("second provider should never be called for a non-retryable error")
		return "0x1", nil
	})

	pool, err := NewPool("ethereum", config.ChainSpec{Providers: []string{bad.URL, good.URL}}, poolCfg(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	_, err = pool.Client().BlockNumber(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if errs.KindOf(err) != errs.InvalidRequest {
		t.Errorf("KindOf(err) = %v, want InvalidRequest", errs.KindOf(err))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls = %d, want 1 (no retry across providers)", calls)
	}
}

func TestCircuitOpensAfterThresholdAndSkipsProvider(t *testing.T) {
	var calls int32
	bad := rpcServer(t, func(method string) (any, *rpcError) {
		atomic.AddInt32(&calls, 1)
		return nil, &rpcError{Code: -32000, Message: "boom"}
	})

	cfg := poolCfg()
	cfg.CircuitThreshold = 2
	pool, err := NewPool("ethereum", config.ChainSpec{Providers: []string{bad.URL}}, cfg, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := pool.Client().BlockNumber(context.Background()); err == nil {
			t.Fatal("expected failure")
		}
	}

	callsBeforeOpen := atomic.LoadInt32(&calls)
	if callsBeforeOpen != 2 {
		t.Fatalf("calls before open = %d, want 2", callsBeforeOpen)
	}

	status := pool.Status()
	if status.Providers[0].Status != StatusCircuitOpen {
		t.Fatalf("status = %v, want circuit_open", status.Providers[0].Status)
	}

	if _, err := pool.Client().BlockNumber(context.Background()); err != errs.AllProvidersFailed {
		t.Fatalf("err = %v, want AllProvidersFailed (provider should be skipped, not called)", err)
	}
	if atomic.LoadInt32(&calls) != callsBeforeOpen {
		t.Error("expected no additional call once circuit is open")
	}
}

func TestHealthProbeNeverOpensCircuit(t *testing.T) {
	down := rpcServer(t, func(method string) (any, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "down"}
	})

	cfg := poolCfg()
	cfg.CircuitThreshold = 2
	pool, err := NewPool("ethereum", config.ChainSpec{Providers: []string{down.URL}}, cfg, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	for i := 0; i < 5; i++ {
		pool.probeAll(context.Background())
	}

	status := pool.Status()
	if status.Providers[0].Status == StatusCircuitOpen {
		t.Fatal("health probes alone must never open the circuit")
	}
	if status.Providers[0].Status != StatusFailed {
		t.Errorf("status = %v, want failed after repeated probe failures", status.Providers[0].Status)
	}
}

func TestNewPoolRejectsEmptyProviderList(t *testing.T) {
	_, err := NewPool("ethereum", config.ChainSpec{}, poolCfg(), nil)
	if err == nil {
		t.Fatal("expected error for empty provider list")
	}
}

func TestGetBalanceParsesHexQuantity(t *testing.T) {
	srv := rpcServer(t, func(method string) (any, *rpcError) {
		if method != "eth_getBalance" {
			return nil, &rpcError{Code: -32601, Message: fmt.Sprintf("unexpected method %s", method)}
		}
		return "0x1bc16d674ec80000", nil // 2 ether in wei
	})

	pool, err := NewPool("ethereum", config.ChainSpec{Providers: []string{srv.URL}}, poolCfg(), nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	bal, err := pool.Client().GetBalance(context.Background(), "0xabc", "")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.String() != "2000000000000000000" {
		t.Errorf("balance = %s, want 2000000000000000000", bal.String())
	}
}
