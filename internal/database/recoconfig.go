// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecoConfigRow is one versioned ranking parameter document. Rows are never
// mutated in place after activation; a parameter change is a new version.
type RecoConfigRow struct {
	Environment string
	Version     int64
	IsActive    bool
	ParamsJSON  string
	CreatedAt   time.Time
	ActivatedAt *time.Time
}

// InsertRecoConfig stores a new inactive config version for the environment
// and returns the assigned version number (previous max + 1).
func (db *DB) InsertRecoConfig(ctx context.Context, environment, paramsJSON string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin config insert tx: %w", err)
	}
	defer rollbackQuietly(tx)

	var version int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM reco_configs WHERE environment = ?`,
		environment).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate config version: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reco_configs (environment, version, is_active, params_json, created_at)
		VALUES (?, ?, FALSE, ?, ?)`,
		environment, version, paramsJSON, time.Now().UTC())
	if err != nil {
		// The (environment, version) primary key rejects a concurrent insert
		// that allocated the same version.
		return 0, fmt.Errorf("%w: environment=%s version=%d: %v",
			ErrConfigVersionExists, environment, version, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit config insert: %w", err)
	}
	return version, nil
}

// ActivateRecoConfig makes the given version the single active config for
// the environment. Deactivation of the previous version and activation of
// the new one happen in one transaction, so readers observe either the old
// config or the new one, never both and never neither.
func (db *DB) ActivateRecoConfig(ctx context.Context, environment string, version int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin activation tx: %w", err)
	}
	defer rollbackQuietly(tx)

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reco_configs WHERE environment = ? AND version = ?`,
		environment, version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up config version: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: environment=%s version=%d", ErrConfigNotFound, environment, version)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reco_configs SET is_active = FALSE WHERE environment = ? AND is_active`,
		environment); err != nil {
		return fmt.Errorf("failed to deactivate previous config: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE reco_configs SET is_active = TRUE, activated_at = ? WHERE environment = ? AND version = ?`,
		time.Now().UTC(), environment, version); err != nil {
		return fmt.Errorf("failed to activate config: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit activation: %w", err)
	}
	return nil
}

// ActiveRecoConfig returns the active config row for the environment, or
// ErrConfigNotFound when none has been activated yet.
func (db *DB) ActiveRecoConfig(ctx context.Context, environment string) (*RecoConfigRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	row := db.conn.QueryRowContext(ctx, `
		SELECT environment, version, is_active, params_json, created_at, activated_at
		FROM reco_configs
		WHERE environment = ? AND is_active`, environment)

	var cfg RecoConfigRow
	var activatedAt sql.NullTime
	err := row.Scan(&cfg.Environment, &cfg.Version, &cfg.IsActive,
		&cfg.ParamsJSON, &cfg.CreatedAt, &activatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: environment=%s", ErrConfigNotFound, environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active config: %w", err)
	}
	if activatedAt.Valid {
		t := activatedAt.Time
		cfg.ActivatedAt = &t
	}
	return &cfg, nil
}

// ListRecoConfigs returns all config versions for an environment, newest
// first. Admin surface only.
func (db *DB) ListRecoConfigs(ctx context.Context, environment string) ([]RecoConfigRow, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT environment, version, is_active, params_json, created_at, activated_at
		FROM reco_configs
		WHERE environment = ?
		ORDER BY version DESC`, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	defer closeWithLog(rows, "config rows")

	var out []RecoConfigRow
	for rows.Next() {
		var cfg RecoConfigRow
		var activatedAt sql.NullTime
		if err := rows.Scan(&cfg.Environment, &cfg.Version, &cfg.IsActive,
			&cfg.ParamsJSON, &cfg.CreatedAt, &activatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan config row: %w", err)
		}
		if activatedAt.Valid {
			t := activatedAt.Time
			cfg.ActivatedAt = &t
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config row iteration failed: %w", err)
	}
	return out, nil
}
