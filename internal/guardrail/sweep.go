package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/bugbot-labs/bugbot/internal/rpcpool"
)

// SweepThresholds mirrors the monitoring stage's simple anomaly rules
// (§4.C5.d), reused here so a registered monitor can detect the same
// exploit pattern independently of any in-flight scan.
type SweepThresholds struct {
	LargeValueWei *big.Int
}

// Sweeper periodically polls every registered monitor's pending block and
// raises a pause request when a large pending transfer is observed
// (§4.C6: "A monitor detecting an exploit pattern ... emits a
// PauseRequest").
type Sweeper struct {
	Registry   *Registry
	Pool       func(chain string) *rpcpool.Handle
	Thresholds SweepThresholds
	Logger     *slog.Logger
}

type sweepPendingTx struct {
	Hash  string `json:"hash"`
	Value string `json:"value"`
}

type sweepPendingBlock struct {
	Transactions []sweepPendingTx `json:"transactions"`
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if s.Registry == nil || s.Pool == nil || s.Thresholds.LargeValueWei == nil {
		return
	}
	for _, monitor := range s.Registry.ListMonitors() {
		handle := s.Pool(monitor.Chain)
		if handle == nil {
			continue
		}
		reason, severity, found := s.checkMonitor(ctx, handle, monitor)
		if !found {
			continue
		}
		if _, err := s.Registry.RequestPauseAuto(ctx, monitor.ContractAddress, monitor.Chain, reason, severity); err != nil {
			s.logger().Warn("failed to raise automatic pause request", "contract", monitor.ContractAddress, "error", err)
		}
	}
}

func (s *Sweeper) checkMonitor(ctx context.Context, handle *rpcpool.Handle, monitor Monitor) (reason, severity string, found bool) {
	raw, err := handle.GetBlockByNumber(ctx, "pending", true)
	if err != nil {
		return "", "", false
	}
	var block sweepPendingBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return "", "", false
	}
	for _, tx := range block.Transactions {
		value, ok := new(big.Int).SetString(trimHexPrefix(tx.Value), 16)
		if !ok || value.Cmp(s.Thresholds.LargeValueWei) < 0 {
			continue
		}
		return fmt.Sprintf("large pending transfer %s wei (tx %s)", value.String(), tx.Hash), "high", true
	}
	return "", "", false
}

func trimHexPrefix(s string) string {
	if len(s) > 2 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
