// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package database

import (
	"context"
	"fmt"
	"strings"
)

// ArmEntityItem is the entity type for per-item bandit arms. The column
// exists so pools or authors can become arms without a migration.
const ArmEntityItem = "item"

// ArmStat holds the success/failure counters of one bandit arm. Counters
// are monotone; they only ever increase.
type ArmStat struct {
	Successes int64
	Failures  int64
}

// BumpArm increments one counter of a bandit arm, creating the arm on first
// use. Never called on the serving path.
func (db *DB) BumpArm(ctx context.Context, entityType, entityID string, success bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	succ, fail := int64(0), int64(1)
	if success {
		succ, fail = 1, 0
	}

	const query = `
		INSERT INTO bandit_arms (entity_type, entity_id, successes, failures)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id) DO UPDATE SET
			successes = bandit_arms.successes + excluded.successes,
			failures = bandit_arms.failures + excluded.failures`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, entityType, entityID, succ, fail); err != nil {
		return fmt.Errorf("failed to bump bandit arm: %w", err)
	}
	return nil
}

// ArmStats returns the counters for the requested arms, keyed by entity ID.
// Arms that were never bumped are absent from the result; callers treat a
// missing arm as the uniform prior.
func (db *DB) ArmStats(ctx context.Context, entityType string, entityIDs []string) (map[string]ArmStat, error) {
	if len(entityIDs) == 0 {
		return map[string]ArmStat{}, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityIDs)), ",")
	query := fmt.Sprintf(`
		SELECT CAST(entity_id AS VARCHAR), successes, failures
		FROM bandit_arms
		WHERE entity_type = ? AND entity_id IN (%s)`, placeholders)

	args := make([]any, 0, len(entityIDs)+1)
	args = append(args, entityType)
	for _, id := range entityIDs {
		args = append(args, id)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bandit arms: %w", err)
	}
	defer closeWithLog(rows, "bandit arm rows")

	out := make(map[string]ArmStat, len(entityIDs))
	for rows.Next() {
		var id string
		var s ArmStat
		if err := rows.Scan(&id, &s.Successes, &s.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan bandit arm: %w", err)
		}
		out[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("bandit arm iteration failed: %w", err)
	}
	return out, nil
}

