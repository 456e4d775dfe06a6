package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertMonitor enforces the "at most one Monitor per (contract_address,
// chain)" invariant (§3) via the composite primary key: a second start
// with the same key replaces the first.
func (s *SQLiteStore) UpsertMonitor(ctx context.Context, m *Monitor) error {
	channelsJSON, err := json.Marshal(m.AlertChannels)
	if err != nil {
		return fmt.Errorf("store: marshal alert_channels: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitors (contract_address, chain, auto_pause, alert_channels_json, started_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(contract_address, chain) DO UPDATE SET
			auto_pause = excluded.auto_pause,
			alert_channels_json = excluded.alert_channels_json,
			started_at = excluded.started_at`,
		m.ContractAddress, m.Chain, m.AutoPause, string(channelsJSON), m.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("store: upsert monitor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMonitor(ctx context.Context, contractAddress, chain string) (*Monitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT contract_address, chain, auto_pause, alert_channels_json, started_at
		 FROM monitors WHERE contract_address = ? AND chain = ?`,
		contractAddress, chain,
	)
	return monitorFromRow(row)
}

func (s *SQLiteStore) DeleteMonitor(ctx context.Context, contractAddress, chain string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM monitors WHERE contract_address = ? AND chain = ?`, contractAddress, chain)
	if err != nil {
		return fmt.Errorf("store: delete monitor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMonitors(ctx context.Context) ([]*Monitor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT contract_address, chain, auto_pause, alert_channels_json, started_at FROM monitors`)
	if err != nil {
		return nil, fmt.Errorf("store: list monitors: %w", err)
	}
	defer rows.Close()

	var out []*Monitor
	for rows.Next() {
		m, err := monitorFromRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func monitorFromRow(row rowScanner) (*Monitor, error) {
	var (
		m            Monitor
		channelsJSON string
	)
	err := row.Scan(&m.ContractAddress, &m.Chain, &m.AutoPause, &channelsJSON, &m.StartedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: monitor row: %w", err)
	}
	if err := json.Unmarshal([]byte(channelsJSON), &m.AlertChannels); err != nil {
		return nil, fmt.Errorf("store: unmarshal alert_channels: %w", err)
	}
	return &m, nil
}
