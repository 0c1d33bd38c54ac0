// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package database

import (
	"context"
	"fmt"
)

// CounterSnapshot is an item's authoritative counters at a revision, as
// produced by the reconciliation sweep for drifted items.
type CounterSnapshot struct {
	ItemID      string
	LikeCount   int64
	RepostCount int64
	Revision    int64
}

// RefreshAggregates recomputes the denormalized counters the scorer reads:
// the per-item per-kind interaction totals and the snapshot columns on
// items. Idempotent; safe to overlap with a delayed previous run because
// every statement recomputes from the relations of record rather than
// incrementing.
func (db *DB) RefreshAggregates(ctx context.Context) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin aggregate refresh tx: %w", err)
	}
	defer rollbackQuietly(tx)

	// Per-kind interaction totals from the append-only log.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO item_kind_counts (item_id, kind, cnt)
		SELECT item_id, kind, COUNT(*)
		FROM interaction_events
		GROUP BY item_id, kind
		ON CONFLICT (item_id, kind) DO UPDATE SET cnt = excluded.cnt`); err != nil {
		return fmt.Errorf("failed to refresh kind counts: %w", err)
	}

	// Snapshot columns from the relations of record. COALESCE resets items
	// whose last engagement was withdrawn back to zero.
	if _, err := tx.ExecContext(ctx, `
		UPDATE items SET
			like_count = COALESCE((SELECT COUNT(*) FROM likes l WHERE l.item_id = items.id), 0),
			repost_count = COALESCE((SELECT COUNT(*) FROM reposts r WHERE r.item_id = items.id), 0),
			reply_count = COALESCE((SELECT cnt FROM item_kind_counts kc WHERE kc.item_id = items.id AND kc.kind = 'comment'), 0)`); err != nil {
		return fmt.Errorf("failed to refresh item snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit aggregate refresh: %w", err)
	}
	return nil
}

// ReconcileCounts finds items whose snapshot counters drifted from the live
// COUNT(*) of their relations, corrects them, bumps their revisions and
// returns the corrected snapshots so callers can notify watching clients.
// An empty return means no drift.
func (db *DB) ReconcileCounts(ctx context.Context) ([]CounterSnapshot, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin reconcile tx: %w", err)
	}
	defer rollbackQuietly(tx)

	rows, err := tx.QueryContext(ctx, `
		SELECT CAST(i.id AS VARCHAR), live.like_count, live.repost_count
		FROM items i
		JOIN (
			SELECT i2.id,
				COALESCE((SELECT COUNT(*) FROM likes l WHERE l.item_id = i2.id), 0) AS like_count,
				COALESCE((SELECT COUNT(*) FROM reposts r WHERE r.item_id = i2.id), 0) AS repost_count
			FROM items i2
		) live ON live.id = i.id
		WHERE i.like_count <> live.like_count OR i.repost_count <> live.repost_count`)
	if err != nil {
		return nil, fmt.Errorf("failed to query drifted counters: %w", err)
	}

	var drifted []CounterSnapshot
	for rows.Next() {
		var s CounterSnapshot
		if err := rows.Scan(&s.ItemID, &s.LikeCount, &s.RepostCount); err != nil {
			closeQuietly(rows)
			return nil, fmt.Errorf("failed to scan drifted counter: %w", err)
		}
		drifted = append(drifted, s)
	}
	if err := rows.Err(); err != nil {
		closeQuietly(rows)
		return nil, fmt.Errorf("drifted counter iteration failed: %w", err)
	}
	closeQuietly(rows)

	for i := range drifted {
		s := &drifted[i]
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET like_count = ?, repost_count = ? WHERE id = ?`,
			s.LikeCount, s.RepostCount, s.ItemID); err != nil {
			return nil, fmt.Errorf("failed to correct counters for %s: %w", s.ItemID, err)
		}
		s.Revision, err = bumpRevision(ctx, tx, s.ItemID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reconcile: %w", err)
	}
	return drifted, nil
}
