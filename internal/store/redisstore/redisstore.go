// Package redisstore implements store.Store on top of Redis, the pluggable
// alternative to the sqlite default the scan store contract calls out
// (§4.C4: "Implementations MAY be in-process ... or pluggable (e.g., Redis)").
// Each record is stored as a JSON blob under a single key; sorted sets give
// the listing/ordering operations sqlite gets for free from SQL.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bugbot-labs/bugbot/internal/stagepb"
	"github.com/bugbot-labs/bugbot/internal/store"
)

// Store is a Redis-backed store.Store. It assumes a single logical
// database per bugbot deployment (RedisDB in config.Store selects it).
type Store struct {
	rdb *redis.Client
}

// Open dials addr/db and confirms connectivity with a PING.
func Open(addr string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redisstore: ping %s: %w", addr, err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

const (
	keyScan        = "bugbot:scan:"
	keyScanIdemKey = "bugbot:scan:idempotency:"
	keyScansIndex  = "bugbot:scans:index"
	keyScansStatus = "bugbot:scans:status:"

	keyVJob       = "bugbot:vjob:"
	keyVJobQueued = "bugbot:vjobs:queued"

	keyPause       = "bugbot:pause:"
	keyPausesIndex = "bugbot:pauses:index"
	keyPauseStatus = "bugbot:pauses:status:"

	keyMonitor      = "bugbot:monitor:"
	keyMonitorIndex = "bugbot:monitors:index"
)

func monitorKey(address, chain string) string { return keyMonitor + chain + ":" + address }

// scanWire mirrors store.Scan for storage: Scan's json tags are shaped for
// the public API (Cancelled is "-" there, since it is surfaced via status
// instead), but the redis record needs every field round-tripped.
type scanWire struct {
	store.Scan
	Cancelled bool `json:"cancelled"`
}

func marshalScan(scan *store.Scan) ([]byte, error) {
	return json.Marshal(scanWire{Scan: *scan, Cancelled: scan.Cancelled})
}

func unmarshalScan(data []byte) (*store.Scan, error) {
	var w scanWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	scan := w.Scan
	scan.Cancelled = w.Cancelled
	return &scan, nil
}

// CreateScan writes the record and indexes it by start time, status, and
// (if set) idempotency key.
func (s *Store) CreateScan(ctx context.Context, scan *store.Scan) error {
	if scan.StageResults == nil {
		scan.StageResults = map[string]stagepb.Result{}
	}
	data, err := marshalScan(scan)
	if err != nil {
		return fmt.Errorf("redisstore: marshal scan: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyScan+scan.ScanID, data, 0)
	pipe.ZAdd(ctx, keyScansIndex, redis.Z{Score: float64(scan.StartedAt.Unix()), Member: scan.ScanID})
	pipe.SAdd(ctx, keyScanStatusSet(scan.Status), scan.ScanID)
	if scan.IdempotencyKey != "" {
		pipe.Set(ctx, keyScanIdemKey+scan.IdempotencyKey, scan.ScanID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: create scan: %w", err)
	}
	return nil
}

func keyScanStatusSet(status store.ScanStatus) string { return keyScansStatus + string(status) }

func (s *Store) getScan(ctx context.Context, scanID string) (*store.Scan, error) {
	data, err := s.rdb.Get(ctx, keyScan+scanID).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get scan: %w", err)
	}
	scan, err := unmarshalScan(data)
	if err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal scan: %w", err)
	}
	return scan, nil
}

func (s *Store) GetScan(ctx context.Context, scanID string) (*store.Scan, error) {
	return s.getScan(ctx, scanID)
}

func (s *Store) GetScanByIdempotencyKey(ctx context.Context, key string) (*store.Scan, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	scanID, err := s.rdb.Get(ctx, keyScanIdemKey+key).Result()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: lookup idempotency key: %w", err)
	}
	return s.getScan(ctx, scanID)
}

// ListScans walks the started_at-ordered index newest-first, filtering by
// status in Go since a sorted-set intersection would need a parallel
// per-status score set kept in lockstep — simpler to filter client-side
// for the list sizes this store is meant for (§4.C4 is not a high-QPS path).
func (s *Store) ListScans(ctx context.Context, limit int, status store.ScanStatus) ([]*store.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRevRange(ctx, keyScansIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list scans: %w", err)
	}
	var out []*store.Scan
	for _, id := range ids {
		scan, err := s.getScan(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && scan.Status != status {
			continue
		}
		out = append(out, scan)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) UpdateScan(ctx context.Context, scanID string, patch store.Patch) error {
	existing, err := s.getScan(ctx, scanID)
	if err != nil {
		return err
	}

	prevStatus := existing.Status
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.Progress != nil && *patch.Progress > existing.Progress {
		existing.Progress = *patch.Progress
	}
	if patch.CurrentStage != nil {
		existing.CurrentStage = *patch.CurrentStage
	}
	if patch.StageResult != nil {
		existing.StageResults[string(patch.StageResult.Kind)] = *patch.StageResult
	}
	if patch.FindingsSummary != nil {
		existing.FindingsSummary = patch.FindingsSummary
	}
	if patch.Error != nil {
		existing.Error = *patch.Error
	}
	if patch.Cancelled != nil {
		existing.Cancelled = *patch.Cancelled
	}
	if patch.CompletedAt != nil {
		existing.CompletedAt = patch.CompletedAt
	}
	if patch.ReportErrors != nil {
		existing.ReportErrors = patch.ReportErrors
	}

	data, err := marshalScan(existing)
	if err != nil {
		return fmt.Errorf("redisstore: marshal scan: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyScan+scanID, data, 0)
	if existing.Status != prevStatus {
		pipe.SRem(ctx, keyScanStatusSet(prevStatus), scanID)
		pipe.SAdd(ctx, keyScanStatusSet(existing.Status), scanID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: update scan: %w", err)
	}
	return nil
}

func (s *Store) DeleteScan(ctx context.Context, scanID string) error {
	existing, err := s.getScan(ctx, scanID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keyScan+scanID)
	pipe.ZRem(ctx, keyScansIndex, scanID)
	pipe.SRem(ctx, keyScanStatusSet(existing.Status), scanID)
	if existing.IdempotencyKey != "" {
		pipe.Del(ctx, keyScanIdemKey+existing.IdempotencyKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete scan: %w", err)
	}
	return nil
}

func (s *Store) CreateValidationJob(ctx context.Context, job *store.ValidationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redisstore: marshal validation job: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyVJob+job.JobID, data, 0)
	if job.Status == store.JobQueued {
		pipe.ZAdd(ctx, keyVJobQueued, redis.Z{Score: float64(job.CreatedAt.Unix()), Member: job.JobID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: create validation job: %w", err)
	}
	return nil
}

func (s *Store) getValidationJob(ctx context.Context, jobID string) (*store.ValidationJob, error) {
	data, err := s.rdb.Get(ctx, keyVJob+jobID).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get validation job: %w", err)
	}
	var job store.ValidationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal validation job: %w", err)
	}
	return &job, nil
}

func (s *Store) GetValidationJob(ctx context.Context, jobID string) (*store.ValidationJob, error) {
	return s.getValidationJob(ctx, jobID)
}

func (s *Store) ListQueuedValidationJobs(ctx context.Context, limit int) ([]*store.ValidationJob, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRange(ctx, keyVJobQueued, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list queued validation jobs: %w", err)
	}
	var out []*store.ValidationJob
	for _, id := range ids {
		job, err := s.getValidationJob(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *Store) UpdateValidationJob(ctx context.Context, jobID string, patch store.ValidationJobPatch) error {
	existing, err := s.getValidationJob(ctx, jobID)
	if err != nil {
		return err
	}

	wasQueued := existing.Status == store.JobQueued
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.IsValid != nil {
		existing.IsValid = patch.IsValid
	}
	if patch.Confidence != nil {
		existing.Confidence = patch.Confidence
	}
	if patch.ExecutionTrace != nil {
		existing.ExecutionTrace = *patch.ExecutionTrace
	}
	if patch.StateDiff != nil {
		existing.StateDiff = *patch.StateDiff
	}
	if patch.ErrorMessage != nil {
		existing.ErrorMessage = *patch.ErrorMessage
	}
	if patch.OperatorVerdict != nil {
		existing.OperatorVerdict = patch.OperatorVerdict
	}
	if patch.StartedAt != nil {
		existing.StartedAt = patch.StartedAt
	}
	if patch.CompletedAt != nil {
		existing.CompletedAt = patch.CompletedAt
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("redisstore: marshal validation job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyVJob+jobID, data, 0)
	if wasQueued && existing.Status != store.JobQueued {
		pipe.ZRem(ctx, keyVJobQueued, jobID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: update validation job: %w", err)
	}
	return nil
}

func (s *Store) CreatePauseRequest(ctx context.Context, req *store.PauseRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("redisstore: marshal pause request: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyPause+req.ID, data, 0)
	pipe.ZAdd(ctx, keyPausesIndex, redis.Z{Score: float64(req.CreatedAt.Unix()), Member: req.ID})
	pipe.SAdd(ctx, keyPauseStatus+string(req.Status), req.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: create pause request: %w", err)
	}
	return nil
}

func (s *Store) getPauseRequest(ctx context.Context, id string) (*store.PauseRequest, error) {
	data, err := s.rdb.Get(ctx, keyPause+id).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get pause request: %w", err)
	}
	var req store.PauseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal pause request: %w", err)
	}
	return &req, nil
}

func (s *Store) GetPauseRequest(ctx context.Context, id string) (*store.PauseRequest, error) {
	return s.getPauseRequest(ctx, id)
}

func (s *Store) UpdatePauseRequest(ctx context.Context, id string, patch store.PauseRequestPatch) error {
	existing, err := s.getPauseRequest(ctx, id)
	if err != nil {
		return err
	}

	prevStatus := existing.Status
	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.LastError != nil {
		existing.LastError = *patch.LastError
	}
	if patch.DecidedAt != nil {
		existing.DecidedAt = patch.DecidedAt
	}
	if patch.ExecutedAt != nil {
		existing.ExecutedAt = patch.ExecutedAt
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("redisstore: marshal pause request: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, keyPause+id, data, 0)
	if existing.Status != prevStatus {
		pipe.SRem(ctx, keyPauseStatus+string(prevStatus), id)
		pipe.SAdd(ctx, keyPauseStatus+string(existing.Status), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: update pause request: %w", err)
	}
	return nil
}

func (s *Store) ListPauseRequests(ctx context.Context, status string) ([]*store.PauseRequest, error) {
	var ids []string
	var err error
	if status != "" {
		ids, err = s.rdb.SMembers(ctx, keyPauseStatus+status).Result()
	} else {
		ids, err = s.rdb.ZRevRange(ctx, keyPausesIndex, 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: list pause requests: %w", err)
	}
	var out []*store.PauseRequest
	for _, id := range ids {
		req, err := s.getPauseRequest(ctx, id)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *Store) UpsertMonitor(ctx context.Context, m *store.Monitor) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redisstore: marshal monitor: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, monitorKey(m.ContractAddress, m.Chain), data, 0)
	pipe.SAdd(ctx, keyMonitorIndex, monitorKey(m.ContractAddress, m.Chain))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: upsert monitor: %w", err)
	}
	return nil
}

func (s *Store) GetMonitor(ctx context.Context, contractAddress, chain string) (*store.Monitor, error) {
	data, err := s.rdb.Get(ctx, monitorKey(contractAddress, chain)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get monitor: %w", err)
	}
	var m store.Monitor
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("redisstore: unmarshal monitor: %w", err)
	}
	return &m, nil
}

func (s *Store) DeleteMonitor(ctx context.Context, contractAddress, chain string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, monitorKey(contractAddress, chain))
	pipe.SRem(ctx, keyMonitorIndex, monitorKey(contractAddress, chain))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: delete monitor: %w", err)
	}
	return nil
}

func (s *Store) ListMonitors(ctx context.Context) ([]*store.Monitor, error) {
	keys, err := s.rdb.SMembers(ctx, keyMonitorIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list monitors: %w", err)
	}
	var out []*store.Monitor
	for _, key := range keys {
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redisstore: get monitor %s: %w", key, err)
		}
		var m store.Monitor
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("redisstore: unmarshal monitor: %w", err)
		}
		out = append(out, &m)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
