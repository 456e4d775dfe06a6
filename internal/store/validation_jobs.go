package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *SQLiteStore) CreateValidationJob(ctx context.Context, job *ValidationJob) error {
	refJSON, err := json.Marshal(job.FindingRef)
	if err != nil {
		return fmt.Errorf("store: marshal finding_ref: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO validation_jobs (
			job_id, finding_ref_json, status, sandbox_type, timeout_seconds, allow_live, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.JobID, string(refJSON), job.Status, job.SandboxType, job.TimeoutSeconds, job.AllowLive, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert validation job: %w", err)
	}
	return nil
}

const validationJobColumns = `SELECT job_id, finding_ref_json, status, sandbox_type, timeout_seconds, allow_live,
	is_valid, confidence, execution_trace, state_diff, error_message, operator_verdict_json,
	started_at, completed_at, created_at`

func (s *SQLiteStore) GetValidationJob(ctx context.Context, jobID string) (*ValidationJob, error) {
	row := s.db.QueryRowContext(ctx, validationJobColumns+` FROM validation_jobs WHERE job_id = ?`, jobID)
	return validationJobFromRow(row)
}

func (s *SQLiteStore) ListQueuedValidationJobs(ctx context.Context, limit int) ([]*ValidationJob, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		validationJobColumns+` FROM validation_jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		JobQueued, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list queued validation jobs: %w", err)
	}
	defer rows.Close()

	var out []*ValidationJob
	for rows.Next() {
		job, err := validationJobFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateValidationJob(ctx context.Context, jobID string, patch ValidationJobPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin update validation job: %w", err)
	}
	defer tx.Rollback()

	existing, err := validationJobFromRow(tx.QueryRowContext(ctx, validationJobColumns+` FROM validation_jobs WHERE job_id = ?`, jobID))
	if err != nil {
		return err
	}

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

	var verdictJSON string
	if existing.OperatorVerdict != nil {
		data, err := json.Marshal(existing.OperatorVerdict)
		if err != nil {
			return fmt.Errorf("store: marshal operator_verdict: %w", err)
		}
		verdictJSON = string(data)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE validation_jobs SET status=?, is_valid=?, confidence=?, execution_trace=?,
			state_diff=?, error_message=?, operator_verdict_json=?, started_at=?, completed_at=?
		WHERE job_id = ?`,
		existing.Status, existing.IsValid, existing.Confidence, existing.ExecutionTrace,
		existing.StateDiff, existing.ErrorMessage, verdictJSON, existing.StartedAt, existing.CompletedAt,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("store: update validation job: %w", err)
	}
	return tx.Commit()
}

func validationJobFromRow(row rowScanner) (*ValidationJob, error) {
	var (
		job                        ValidationJob
		refJSON, verdictJSON       string
		isValid                    sql.NullBool
		confidence                 sql.NullFloat64
		startedAt, completedAt     sql.NullTime
	)
	err := row.Scan(
		&job.JobID, &refJSON, &job.Status, &job.SandboxType, &job.TimeoutSeconds, &job.AllowLive,
		&isValid, &confidence, &job.ExecutionTrace, &job.StateDiff, &job.ErrorMessage, &verdictJSON,
		&startedAt, &completedAt, &job.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: validation job row: %w", err)
	}

	if err := json.Unmarshal([]byte(refJSON), &job.FindingRef); err != nil {
		return nil, fmt.Errorf("store: unmarshal finding_ref: %w", err)
	}
	if isValid.Valid {
		v := isValid.Bool
		job.IsValid = &v
	}
	if confidence.Valid {
		v := confidence.Float64
		job.Confidence = &v
	}
	if verdictJSON != "" {
		var verdict OperatorVerdict
		if err := json.Unmarshal([]byte(verdictJSON), &verdict); err != nil {
			return nil, fmt.Errorf("store: unmarshal operator_verdict: %w", err)
		}
		job.OperatorVerdict = &verdict
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
