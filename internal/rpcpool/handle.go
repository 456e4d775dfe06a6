package rpcpool

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Handle is the façade §3 describes: "returns a handle bound to the
// currently best provider; handle transparently supports common read
// methods ... The handle MUST retry on a different provider if the
// underlying transport fails or returns a retryable error." Every method
// below delegates to Pool.call, which re-runs the failover algorithm on
// each invocation rather than pinning to one provider for the handle's
// lifetime.
type Handle struct {
	pool *Pool
}

// BlockNumber returns the chain's current block height.
func (h *Handle) BlockNumber(ctx context.Context) (uint64, error) {
	var hexResult string
	if err := h.pool.call(ctx, "eth_blockNumber", nil, &hexResult); err != nil {
		return 0, err
	}
	return parseHexUint64(hexResult)
}

// GetBalance returns the native balance of address at the given block tag
// ("latest" if empty).
func (h *Handle) GetBalance(ctx context.Context, address, blockTag string) (*big.Int, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	var hexResult string
	if err := h.pool.call(ctx, "eth_getBalance", []any{address, blockTag}, &hexResult); err != nil {
		return nil, err
	}
	return parseHexBigInt(hexResult)
}

// GetCode returns the deployed bytecode at address as a 0x-prefixed hex
// string. An empty "0x" means no contract is deployed there.
func (h *Handle) GetCode(ctx context.Context, address, blockTag string) (string, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	var hexResult string
	if err := h.pool.call(ctx, "eth_getCode", []any{address, blockTag}, &hexResult); err != nil {
		return "", err
	}
	return hexResult, nil
}

// GetTransactionReceipt returns the raw receipt JSON for a transaction
// hash, or nil if the transaction is unknown to the provider.
func (h *Handle) GetTransactionReceipt(ctx context.Context, txHash string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := h.pool.call(ctx, "eth_getTransactionReceipt", []any{txHash}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetLogs returns raw log entries matching filter (a standard eth_getLogs
// filter object: address, topics, fromBlock, toBlock).
func (h *Handle) GetLogs(ctx context.Context, filter map[string]any) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if err := h.pool.call(ctx, "eth_getLogs", []any{filter}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Call performs an eth_call against callObj at the given block tag and
// returns the raw hex-encoded return data.
func (h *Handle) Call(ctx context.Context, callObj map[string]any, blockTag string) (string, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	var hexResult string
	if err := h.pool.call(ctx, "eth_call", []any{callObj, blockTag}, &hexResult); err != nil {
		return "", err
	}
	return hexResult, nil
}

// GetBlockByNumber returns the raw block JSON for blockTag ("pending" or
// "latest" are the monitoring stage's two callers), optionally including
// full transaction objects.
func (h *Handle) GetBlockByNumber(ctx context.Context, blockTag string, fullTx bool) (json.RawMessage, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	var raw json.RawMessage
	if err := h.pool.call(ctx, "eth_getBlockByNumber", []any{blockTag, fullTx}, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// EstimateGas estimates the gas cost of callObj.
func (h *Handle) EstimateGas(ctx context.Context, callObj map[string]any) (uint64, error) {
	var hexResult string
	if err := h.pool.call(ctx, "eth_estimateGas", []any{callObj}, &hexResult); err != nil {
		return 0, err
	}
	return parseHexUint64(hexResult)
}

func parseHexUint64(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("rpcpool: parse hex quantity %q: %w", s, err)
	}
	return v, nil
}

func parseHexBigInt(s string) (*big.Int, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("rpcpool: parse hex big int %q", s)
	}
	return v, nil
}
