// Package indexer implements C9's event indexer: ingests a contract's
// event logs through the RPC pool (C1), serves them back over a filtered
// query endpoint, and streams newly ingested events over a websocket.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bugbot-labs/bugbot/internal/errs"
	"github.com/bugbot-labs/bugbot/internal/rpcpool"
)

// Event is one ingested log entry, normalized just enough to filter and
// stream; Raw carries the provider's untouched eth_getLogs entry.
type Event struct {
	Chain           string          `json:"chain"`
	ContractAddress string          `json:"contract_address"`
	BlockNumber     uint64          `json:"block_number"`
	TxHash          string          `json:"tx_hash"`
	Topics          []string        `json:"topics"`
	Raw             json.RawMessage `json:"raw"`
	IndexedAt       time.Time       `json:"indexed_at"`
}

// StartRequest is the POST /index/start request body.
type StartRequest struct {
	ContractAddress string `json:"contract_address" validate:"required"`
	Chain           string `json:"chain" validate:"required"`
	Backfill        bool   `json:"backfill,omitempty"`
	FromBlock       uint64 `json:"from_block,omitempty"`
}

// StartResponse is the POST /index/start response body.
type StartResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"` // "indexing" or "backfilled"
	EventsIndexed  int    `json:"events_indexed"`
}

// QueryRequest is the POST /index/query request body.
type QueryRequest struct {
	ContractAddress string `json:"contract_address" validate:"required"`
	Chain           string `json:"chain" validate:"required"`
	FromBlock       uint64 `json:"from_block,omitempty"`
	ToBlock         uint64 `json:"to_block,omitempty"`
	Topic           string `json:"topic,omitempty"`
}

// QueryResponse is the POST /index/query response body.
type QueryResponse struct {
	Events []Event `json:"events"`
}

const backfillChunkBlocks = 2000

// Service owns one in-memory event index per (chain, contract) and
// broadcasts newly ingested events to connected websocket subscribers.
type Service struct {
	pools map[string]*rpcpool.Pool // by chain

	mu     sync.RWMutex
	events map[string][]Event // keyed by chain+":"+contract

	hub *Hub
}

// NewService builds an indexer bound to the platform's per-chain RPC
// pools.
func NewService(pools map[string]*rpcpool.Pool) *Service {
	return &Service{
		pools:  pools,
		events: make(map[string][]Event),
		hub:    NewHub(),
	}
}

// Hub exposes the websocket broadcast hub so cmd/indexer can run it.
func (s *Service) Hub() *Hub { return s.hub }

func indexKey(chain, address string) string {
	return chain + ":" + address
}

// Start implements §4.C9's index/start contract: optionally backfills
// from_block..latest synchronously (bounded by ctx, so the caller's
// request timeout is the backfill deadline), then begins tracking the
// contract for subsequent /index/query and /ws activity.
func (s *Service) Start(ctx context.Context, jobID string, req StartRequest) (StartResponse, error) {
	pool, ok := s.pools[req.Chain]
	if !ok {
		return StartResponse{}, errs.New(errs.InvalidRequest, "no rpc pool configured for chain "+req.Chain)
	}

	key := indexKey(req.Chain, req.ContractAddress)
	s.mu.Lock()
	if _, exists := s.events[key]; !exists {
		s.events[key] = nil
	}
	s.mu.Unlock()

	if !req.Backfill {
		return StartResponse{JobID: jobID, Status: "indexing"}, nil
	}

	count, err := s.backfill(ctx, pool, req)
	if err != nil {
		return StartResponse{}, err
	}
	return StartResponse{JobID: jobID, Status: "backfilled", EventsIndexed: count}, nil
}

// backfill walks from_block..latest in fixed-size chunks, stopping the
// instant ctx is done so an impatient caller's deadline produces a clean
// failure rather than a silently-truncated index (§4.C9: "Backfill
// completes within the caller's timeout or fails").
func (s *Service) backfill(ctx context.Context, pool *rpcpool.Pool, req StartRequest) (int, error) {
	handle := pool.Client()

	latest, err := handle.BlockNumber(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.BackendUnavailable, "fetching latest block", err)
	}
	if req.FromBlock > latest {
		return 0, nil
	}

	total := 0
	for from := req.FromBlock; from <= latest; from += backfillChunkBlocks {
		select {
		case <-ctx.Done():
			return total, errs.Wrap(errs.Timeout, "backfill did not complete before the caller's timeout", ctx.Err())
		default:
		}

		to := from + backfillChunkBlocks - 1
		if to > latest {
			to = latest
		}

		raw, err := handle.GetLogs(ctx, map[string]any{
			"address":   req.ContractAddress,
			"fromBlock": fmt.Sprintf("0x%x", from),
			"toBlock":   fmt.Sprintf("0x%x", to),
		})
		if err != nil {
			return total, errs.Wrap(errs.BackendUnavailable, "fetching logs", err)
		}

		for _, r := range raw {
			ev, err := decodeEvent(req.Chain, req.ContractAddress, r)
			if err != nil {
				continue
			}
			s.ingest(ev)
			total++
		}
	}
	return total, nil
}

// ingest appends ev to its index and broadcasts it to websocket
// subscribers.
func (s *Service) ingest(ev Event) {
	key := indexKey(ev.Chain, ev.ContractAddress)
	s.mu.Lock()
	s.events[key] = append(s.events[key], ev)
	s.mu.Unlock()
	s.hub.Broadcast(ev)
}

// Query implements POST /index/query: filters the in-memory index for a
// (chain, contract) by block range and, optionally, topic.
func (s *Service) Query(req QueryRequest) QueryResponse {
	key := indexKey(req.Chain, req.ContractAddress)
	s.mu.RLock()
	all := s.events[key]
	s.mu.RUnlock()

	var out []Event
	for _, ev := range all {
		if req.FromBlock != 0 && ev.BlockNumber < req.FromBlock {
			continue
		}
		if req.ToBlock != 0 && ev.BlockNumber > req.ToBlock {
			continue
		}
		if req.Topic != "" && !containsTopic(ev.Topics, req.Topic) {
			continue
		}
		out = append(out, ev)
	}
	return QueryResponse{Events: out}
}

func containsTopic(topics []string, want string) bool {
	for _, t := range topics {
		if t == want {
			return true
		}
	}
	return false
}

type rawLogEntry struct {
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
	Topics      []string `json:"topics"`
}

func decodeEvent(chain, address string, raw json.RawMessage) (Event, error) {
	var entry rawLogEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Event{}, err
	}
	blockNumber, err := parseHexUint64(entry.BlockNumber)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Chain:           chain,
		ContractAddress: address,
		BlockNumber:     blockNumber,
		TxHash:          entry.TxHash,
		Topics:          entry.Topics,
		Raw:             raw,
		IndexedAt:       time.Now().UTC(),
	}, nil
}

func parseHexUint64(s string) (uint64, error) {
	if len(s) == 0 {
		return 0, nil
	}
	var v uint64
	_, err := fmt.Sscanf(s, "0x%x", &v)
	return v, err
}
