package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/bugbot-labs/bugbot/internal/stagepb"
)

// SQLiteStore is the default Store implementation (§4.C4): single-writer
// (the orchestrator owns each scan record), WAL-mode for concurrent
// readers.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	scan_id TEXT PRIMARY KEY,
	target_json TEXT NOT NULL,
	chain_hint TEXT NOT NULL DEFAULT '',
	scan_config_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	progress INTEGER NOT NULL DEFAULT 0,
	current_stage TEXT NOT NULL DEFAULT '',
	stage_results_json TEXT NOT NULL DEFAULT '{}',
	findings_summary_json TEXT NOT NULL DEFAULT '{}',
	target_url TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL DEFAULT '',
	cancelled BOOLEAN NOT NULL DEFAULT 0,
	report_errors_json TEXT NOT NULL DEFAULT '[]',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME,
	error TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_scans_idempotency_key
	ON scans(idempotency_key) WHERE idempotency_key != '';
CREATE INDEX IF NOT EXISTS idx_scans_status_started ON scans(status, started_at DESC);

CREATE TABLE IF NOT EXISTS validation_jobs (
	job_id TEXT PRIMARY KEY,
	finding_ref_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	sandbox_type TEXT NOT NULL DEFAULT 'docker',
	timeout_seconds INTEGER NOT NULL DEFAULT 300,
	allow_live BOOLEAN NOT NULL DEFAULT 0,
	is_valid BOOLEAN,
	confidence REAL,
	execution_trace TEXT NOT NULL DEFAULT '',
	state_diff TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	operator_verdict_json TEXT NOT NULL DEFAULT '',
	started_at DATETIME,
	completed_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_validation_jobs_status_created
	ON validation_jobs(status, created_at);

CREATE TABLE IF NOT EXISTS pause_requests (
	id TEXT PRIMARY KEY,
	contract_address TEXT NOT NULL,
	chain TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending_approval',
	requester TEXT NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	decided_at DATETIME,
	executed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_pause_requests_status ON pause_requests(status);

CREATE TABLE IF NOT EXISTS monitors (
	contract_address TEXT NOT NULL,
	chain TEXT NOT NULL,
	auto_pause BOOLEAN NOT NULL DEFAULT 0,
	alert_channels_json TEXT NOT NULL DEFAULT '[]',
	started_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (contract_address, chain)
);
`

// Open creates or opens a SQLite database at path and ensures the schema
// exists. WAL mode lets stage-worker health probes and GET /scan/{id}
// reads proceed without blocking on the orchestrator's writes.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateScan inserts a new scan record. scan_id collisions (a replayed
// POST /scan with a reused id) are a caller error, not retried here.
func (s *SQLiteStore) CreateScan(ctx context.Context, scan *Scan) error {
	targetJSON, err := json.Marshal(scan.Target)
	if err != nil {
		return fmt.Errorf("store: marshal target: %w", err)
	}
	cfgJSON, err := json.Marshal(scan.ScanConfig)
	if err != nil {
		return fmt.Errorf("store: marshal scan_config: %w", err)
	}
	if scan.StageResults == nil {
		scan.StageResults = map[string]stagepb.Result{}
	}
	stageJSON, err := json.Marshal(scan.StageResults)
	if err != nil {
		return fmt.Errorf("store: marshal stage_results: %w", err)
	}
	if scan.FindingsSummary == nil {
		scan.FindingsSummary = stagepb.NewFindingsSummary()
	}
	summaryJSON, err := json.Marshal(scan.FindingsSummary)
	if err != nil {
		return fmt.Errorf("store: marshal findings_summary: %w", err)
	}
	reportErrJSON, err := json.Marshal(scan.ReportErrors)
	if err != nil {
		return fmt.Errorf("store: marshal report_errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scans (
			scan_id, target_json, chain_hint, scan_config_json, status, progress,
			current_stage, stage_results_json, findings_summary_json, target_url,
			idempotency_key, cancelled, report_errors_json, started_at, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ScanID, string(targetJSON), scan.ChainHint, string(cfgJSON), scan.Status, scan.Progress,
		scan.CurrentStage, string(stageJSON), string(summaryJSON), scan.TargetURL,
		scan.IdempotencyKey, scan.Cancelled, string(reportErrJSON), scan.StartedAt, scan.Error,
	)
	if err != nil {
		return fmt.Errorf("store: insert scan: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetScan(ctx context.Context, scanID string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, scanRowColumns+` FROM scans WHERE scan_id = ?`, scanID)
	return scanFromRow(row)
}

func (s *SQLiteStore) GetScanByIdempotencyKey(ctx context.Context, key string) (*Scan, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, scanRowColumns+` FROM scans WHERE idempotency_key = ?`, key)
	return scanFromRow(row)
}

func (s *SQLiteStore) ListScans(ctx context.Context, limit int, status ScanStatus) ([]*Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	query := scanRowColumns + ` FROM scans`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list scans: %w", err)
	}
	defer rows.Close()

	var out []*Scan
	for rows.Next() {
		scan, err := scanFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, scan)
	}
	return out, rows.Err()
}

// UpdateScan applies patch atomically. Only fields set in patch are
// written; the orchestrator is the sole writer per scan_id so there is no
// read-modify-write race to guard against beyond the transaction itself.
func (s *SQLiteStore) UpdateScan(ctx context.Context, scanID string, patch Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin update scan: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanFromRow(tx.QueryRowContext(ctx, scanRowColumns+` FROM scans WHERE scan_id = ?`, scanID))
	if err != nil {
		return err
	}

	if patch.Status != nil {
		existing.Status = *patch.Status
	}
	if patch.Progress != nil {
		if *patch.Progress > existing.Progress {
			existing.Progress = *patch.Progress
		}
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

	stageJSON, err := json.Marshal(existing.StageResults)
	if err != nil {
		return fmt.Errorf("store: marshal stage_results: %w", err)
	}
	summaryJSON, err := json.Marshal(existing.FindingsSummary)
	if err != nil {
		return fmt.Errorf("store: marshal findings_summary: %w", err)
	}
	reportErrJSON, err := json.Marshal(existing.ReportErrors)
	if err != nil {
		return fmt.Errorf("store: marshal report_errors: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE scans SET status=?, progress=?, current_stage=?, stage_results_json=?,
			findings_summary_json=?, cancelled=?, report_errors_json=?, completed_at=?, error=?
		WHERE scan_id = ?`,
		existing.Status, existing.Progress, existing.CurrentStage, string(stageJSON),
		string(summaryJSON), existing.Cancelled, string(reportErrJSON), existing.CompletedAt, existing.Error,
		scanID,
	)
	if err != nil {
		return fmt.Errorf("store: update scan: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteScan(ctx context.Context, scanID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE scan_id = ?`, scanID)
	if err != nil {
		return fmt.Errorf("store: delete scan: %w", err)
	}
	return nil
}

const scanRowColumns = `SELECT scan_id, target_json, chain_hint, scan_config_json, status, progress,
	current_stage, stage_results_json, findings_summary_json, target_url, idempotency_key,
	cancelled, report_errors_json, started_at, completed_at, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFromRow(row rowScanner) (*Scan, error) {
	var (
		scan                                                     Scan
		targetJSON, cfgJSON, stageJSON, summaryJSON, reportErrJSON string
		completedAt                                              sql.NullTime
	)
	err := row.Scan(
		&scan.ScanID, &targetJSON, &scan.ChainHint, &cfgJSON, &scan.Status, &scan.Progress,
		&scan.CurrentStage, &stageJSON, &summaryJSON, &scan.TargetURL, &scan.IdempotencyKey,
		&scan.Cancelled, &reportErrJSON, &scan.StartedAt, &completedAt, &scan.Error,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan row: %w", err)
	}

	if err := json.Unmarshal([]byte(targetJSON), &scan.Target); err != nil {
		return nil, fmt.Errorf("store: unmarshal target: %w", err)
	}
	if err := json.Unmarshal([]byte(cfgJSON), &scan.ScanConfig); err != nil {
		return nil, fmt.Errorf("store: unmarshal scan_config: %w", err)
	}
	scan.StageResults = map[string]stagepb.Result{}
	if err := json.Unmarshal([]byte(stageJSON), &scan.StageResults); err != nil {
		return nil, fmt.Errorf("store: unmarshal stage_results: %w", err)
	}
	scan.FindingsSummary = map[string]int{}
	if err := json.Unmarshal([]byte(summaryJSON), &scan.FindingsSummary); err != nil {
		return nil, fmt.Errorf("store: unmarshal findings_summary: %w", err)
	}
	if reportErrJSON != "" {
		if err := json.Unmarshal([]byte(reportErrJSON), &scan.ReportErrors); err != nil {
			return nil, fmt.Errorf("store: unmarshal report_errors: %w", err)
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		scan.CompletedAt = &t
	}
	return &scan, nil
}

var _ Store = (*SQLiteStore)(nil)
