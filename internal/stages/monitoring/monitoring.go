// Package monitoring implements the C5.d stage worker: poll a chain for
// a bounded duration and flag simple on-chain anomalies.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/bugbot-labs/bugbot/internal/orchestrator"
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// Thresholds configures the anomaly rules (§4.C5.d: "simple anomaly
// rules").
type Thresholds struct {
	LargeValueWei     *big.Int      // a single pending transfer at or above this value is flagged
	BlockDriftBlocks  uint64        // a single poll-to-poll block jump at or above this is flagged as multi_rpc_drift
	PollInterval      time.Duration
}

// Service implements monitoring's §4.C5.d behaviour.
type Service struct {
	Pool       func(chain string) *rpcpool.Handle
	Thresholds Thresholds
	Logger     *slog.Logger
}

type pendingTx struct {
	Hash  string `json:"hash"`
	Value string `json:"value"`
}

type pendingBlock struct {
	Transactions []pendingTx `json:"transactions"`
}

// Run implements the stage worker's /run contract. It polls strictly for
// scan_config.monitor_duration_minutes and never blocks the pipeline
// longer than duration+60s (§4.C5.d), enforced by deriving runCtx's
// deadline from duration+60s while the poll loop itself exits at
// duration.
func (s *Service) Run(ctx context.Context, req orchestrator.StageRequest) (stagepb.Result, error) {
	started := time.Now()
	duration := time.Duration(req.ScanConfig.MonitorDurationMinutes) * time.Minute

	if s.Pool == nil {
		return stagepb.Result{}, fmt.Errorf("monitoring: no rpc pool resolver configured")
	}
	handle := s.Pool(req.Chain)
	if handle == nil {
		return stagepb.Result{
			Kind:       stagepb.KindMonitoring,
			Status:     stagepb.StatusPartial,
			Error:      "no rpc pool configured for chain " + req.Chain,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Monitoring: &stagepb.MonitoringResult{DurationMinutes: req.ScanConfig.MonitorDurationMinutes},
		}, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, duration+60*time.Second)
	defer cancel()

	interval := s.Thresholds.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	deadline := time.Now().Add(duration)
	var anomalies []stagepb.Anomaly
	var lastBlockNumber uint64
	havePrev := false
	partial := false

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

pollLoop:
	for {
		found, err := s.pollOnce(runCtx, handle, req.Target.Address, &lastBlockNumber, &havePrev)
		if err != nil {
			s.logger().Warn("monitoring poll failed", "error", err)
			partial = true
		}
		anomalies = append(anomalies, found...)

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-runCtx.Done():
			break pollLoop
		case <-ticker.C:
		}
	}

	status := stagepb.StatusOK
	if partial {
		status = stagepb.StatusPartial
	}

	return stagepb.Result{
		Kind:       stagepb.KindMonitoring,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Monitoring: &stagepb.MonitoringResult{
			Anomalies:       anomalies,
			DurationMinutes: req.ScanConfig.MonitorDurationMinutes,
		},
	}, nil
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// pollOnce takes one sample: the pending block's transactions (flagged
// against the large-value-transfer rule) and the current block number
// (flagged against the block-drift rule).
func (s *Service) pollOnce(ctx context.Context, handle *rpcpool.Handle, address string, lastBlockNumber *uint64, havePrev *bool) ([]stagepb.Anomaly, error) {
	var anomalies []stagepb.Anomaly

	blockNumber, err := handle.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if *havePrev && s.Thresholds.BlockDriftBlocks > 0 && blockNumber > *lastBlockNumber &&
		blockNumber-*lastBlockNumber >= s.Thresholds.BlockDriftBlocks {
		anomalies = append(anomalies, stagepb.Anomaly{
			Kind:        "multi_rpc_drift",
			Description: fmt.Sprintf("block number advanced by %d in one poll interval", blockNumber-*lastBlockNumber),
			ObservedAt:  time.Now(),
		})
	}
	*lastBlockNumber = blockNumber
	*havePrev = true

	raw, err := handle.GetBlockByNumber(ctx, "pending", true)
	if err != nil {
		// Not every provider exposes the pending block; treat this as a
		// soft failure for this sample rather than failing the poll.
		return anomalies, nil
	}
	var block pendingBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return anomalies, nil
	}
	for _, tx := range block.Transactions {
		anomalies = append(anomalies, s.checkLargeValue(tx)...)
	}
	return anomalies, nil
}

func (s *Service) checkLargeValue(tx pendingTx) []stagepb.Anomaly {
	if s.Thresholds.LargeValueWei == nil || tx.Value == "" {
		return nil
	}
	value, err := parseHexBigInt(tx.Value)
	if err != nil {
		return nil
	}
	if value.Cmp(s.Thresholds.LargeValueWei) < 0 {
		return nil
	}
	return []stagepb.Anomaly{{
		Kind:        "large_value_transfer",
		Description: fmt.Sprintf("pending transfer of %s wei", value.String()),
		TxHash:      tx.Hash,
		ObservedAt:  time.Now(),
	}}
}

func parseHexBigInt(s string) (*big.Int, error) {
	if len(s) > 2 && s[:2] == "0x" {
		s = s[2:]
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("monitoring: invalid hex value %q", s)
	}
	return v, nil
}
