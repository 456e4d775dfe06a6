package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *SQLiteStore) CreatePauseRequest(ctx context.Context, req *PauseRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pause_requests (id, contract_address, chain, reason, severity, status, requester, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ContractAddress, req.Chain, req.Reason, req.Severity, req.Status, req.Requester, req.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert pause request: %w", err)
	}
	return nil
}

const pauseRequestColumns = `SELECT id, contract_address, chain, reason, severity, status, requester,
	last_error, created_at, decided_at, executed_at`

func (s *SQLiteStore) GetPauseRequest(ctx context.Context, id string) (*PauseRequest, error) {
	row := s.db.QueryRowContext(ctx, pauseRequestColumns+` FROM pause_requests WHERE id = ?`, id)
	return pauseRequestFromRow(row)
}

func (s *SQLiteStore) ListPauseRequests(ctx context.Context, status string) ([]*PauseRequest, error) {
	query := pauseRequestColumns + ` FROM pause_requests`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list pause requests: %w", err)
	}
	defer rows.Close()

	var out []*PauseRequest
	for rows.Next() {
		req, err := pauseRequestFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdatePauseRequest applies patch atomically. Callers enforce the legal
// transition set (§3: pending_approval -> approved|rejected -> executed,
// or pending_approval -> auto_approved -> executed); the store itself
// does not validate transitions, it only persists them.
func (s *SQLiteStore) UpdatePauseRequest(ctx context.Context, id string, patch PauseRequestPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin update pause request: %w", err)
	}
	defer tx.Rollback()

	existing, err := pauseRequestFromRow(tx.QueryRowContext(ctx, pauseRequestColumns+` FROM pause_requests WHERE id = ?`, id))
	if err != nil {
		return err
	}

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

	_, err = tx.ExecContext(ctx, `
		UPDATE pause_requests SET status=?, last_error=?, decided_at=?, executed_at=?
		WHERE id = ?`,
		existing.Status, existing.LastError, existing.DecidedAt, existing.ExecutedAt, id,
	)
	if err != nil {
		return fmt.Errorf("store: update pause request: %w", err)
	}
	return tx.Commit()
}

func pauseRequestFromRow(row rowScanner) (*PauseRequest, error) {
	var (
		req                  PauseRequest
		decidedAt, executedAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.ContractAddress, &req.Chain, &req.Reason, &req.Severity, &req.Status, &req.Requester,
		&req.LastError, &req.CreatedAt, &decidedAt, &executedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: pause request row: %w", err)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if executedAt.Valid {
		t := executedAt.Time
		req.ExecutedAt = &t
	}
	return &req, nil
}
