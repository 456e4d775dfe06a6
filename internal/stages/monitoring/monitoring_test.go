package monitoring

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bugbot-labs/bugbot/internal/config"
	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

type rpcCall struct {
	Method string `json:"method"`
}

// newTestHandle starts a JSON-RPC stub that returns a fixed block number
// and one pending transaction, and wires it into a real rpcpool.Pool so
// the stage is exercised through the same handle production code uses.
func newTestHandle(t *testing.T, blockHex, txValueHex string) *rpcpool.Handle {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &call)

		switch call.Method {
		case "eth_blockNumber":
			writeRPCResult(w, `"`+blockHex+`"`)
		case "eth_getBlockByNumber":
			writeRPCResult(w, `{"transactions":[{"hash":"0xdead","value":"`+txValueHex+`"}]}`)
		default:
			writeRPCResult(w, `null`)
		}
	}))
	t.Cleanup(server.Close)

	pool, err := rpcpool.NewPool("ethereum", config.ChainSpec{Providers: []string{server.URL}}, config.RPCPool{}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return pool.Client()
}

func writeRPCResult(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
}

func TestRunFlagsLargeValueTransfer(t *testing.T) {
	handle := newTestHandle(t, "0x64", "0x152d02c7e14af6800000") // 100000 ether in wei
	svc := &Service{
		Pool: func(chain string) *rpcpool.Handle { return handle },
		Thresholds: Thresholds{
			LargeValueWei: big.NewInt(1), // anything nonzero trips it for this test
			PollInterval:  10 * time.Millisecond,
		},
	}

	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		Chain:      "ethereum",
		Target:     store.Target{Address: "0xabc"},
		ScanConfig: store.ScanConfig{MonitorDurationMinutes: 1},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var found bool
	for _, a := range result.Monitoring.Anomalies {
		if a.Kind == "large_value_transfer" {
			found = true
		}
	}
	if !found {
		t.Errorf("anomalies = %+v, want a large_value_transfer entry", result.Monitoring.Anomalies)
	}
}

func TestRunWithoutConfiguredPoolReturnsPartial(t *testing.T) {
	svc := &Service{Pool: func(chain string) *rpcpool.Handle { return nil }}
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		Chain:      "unknownchain",
		ScanConfig: store.ScanConfig{MonitorDurationMinutes: 1},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != stagepb.StatusPartial {
		t.Errorf("Status = %q, want partial", result.Status)
	}
}

func TestRunRespectsZeroDuration(t *testing.T) {
	handle := newTestHandle(t, "0x1", "0x0")
	svc := &Service{Pool: func(chain string) *rpcpool.Handle { return handle }}

	start := time.Now()
	result, err := svc.Run(context.Background(), orchestrator.StageRequest{
		Chain:      "ethereum",
		ScanConfig: store.ScanConfig{MonitorDurationMinutes: 0},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %s for a zero-duration poll window", elapsed)
	}
	if result.Monitoring.DurationMinutes != 0 {
		t.Errorf("DurationMinutes = %d, want 0", result.Monitoring.DurationMinutes)
	}
}
