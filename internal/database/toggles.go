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

// Toggleable engagement kinds. Each maps to a relation of record whose
// composite primary key (user_id, item_id) serializes concurrent toggles
// of the same pair without application-level locking.
const (
	KindLike   = "like"
	KindRepost = "repost"
)

// ToggleResult is the authoritative outcome of an engagement toggle.
// Counts are live COUNT(*) values read inside the same transaction, never
// incremented snapshots.
type ToggleResult struct {
	ItemID      string
	Kind        string
	Active      bool
	LikeCount   int64
	RepostCount int64
	Revision    int64
}

func relationTable(kind string) (string, error) {
	switch kind {
	case KindLike:
		return "likes", nil
	case KindRepost:
		return "reposts", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
}

// ToggleEngagement flips the user's engagement relation for an item and
// returns the resulting state with authoritative counts.
//
// The toggle is a single transaction: delete-if-present, otherwise
// insert-if-absent, then live counts and a revision bump. Retransmitted
// requests are idempotent per current state - toggling twice returns to the
// original state, and a duplicate insert lost to a concurrent writer lands on
// the active state instead of erroring.
func (db *DB) ToggleEngagement(ctx context.Context, userID, itemID, kind string) (*ToggleResult, error) {
	table, err := relationTable(kind)
	if err != nil {
		return nil, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin toggle tx: %w", err)
	}
	defer rollbackQuietly(tx)

	var visible bool
	err = tx.QueryRowContext(ctx, `SELECT visible FROM items WHERE id = ?`, itemID).Scan(&visible)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up item: %w", err)
	}
	if !visible {
		return nil, ErrItemNotFound
	}

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE user_id = ? AND item_id = ?`, table),
		userID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete engagement: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read deleted row count: %w", err)
	}

	active := false
	if deleted == 0 {
		// ON CONFLICT DO NOTHING: if a concurrent writer inserted first, the
		// relation is present either way and the result reports active.
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (user_id, item_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`, table),
			userID, itemID, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("failed to insert engagement: %w", err)
		}
		active = true
	}

	result := &ToggleResult{ItemID: itemID, Kind: kind, Active: active}

	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE item_id = ?`, itemID).Scan(&result.LikeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes: %w", err)
	}
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reposts WHERE item_id = ?`, itemID).Scan(&result.RepostCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count reposts: %w", err)
	}

	result.Revision, err = bumpRevision(ctx, tx, itemID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit toggle: %w", err)
	}
	return result, nil
}

// EngagementState reports whether the relation is active for the pair plus
// the live counts and counter revision, outside of any toggle.
func (db *DB) EngagementState(ctx context.Context, userID, itemID, kind string) (*ToggleResult, error) {
	table, err := relationTable(kind)
	if err != nil {
		return nil, err
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result := &ToggleResult{ItemID: itemID, Kind: kind}

	var n int
	err = db.conn.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = ? AND item_id = ?`, table),
		userID, itemID).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to read engagement state: %w", err)
	}
	result.Active = n > 0

	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM likes WHERE item_id = ?`, itemID).Scan(&result.LikeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes: %w", err)
	}
	err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM reposts WHERE item_id = ?`, itemID).Scan(&result.RepostCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count reposts: %w", err)
	}
	err = db.conn.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT revision FROM counter_revisions WHERE item_id = ?), 0)`,
		itemID).Scan(&result.Revision)
	if err != nil {
		return nil, fmt.Errorf("failed to read counter revision: %w", err)
	}
	return result, nil
}

// bumpRevision increments the monotone per-item counter revision inside the
// caller's transaction and returns the new value.
func bumpRevision(ctx context.Context, tx *sql.Tx, itemID string) (int64, error) {
	var revision int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO counter_revisions (item_id, revision) VALUES (?, 1)
		ON CONFLICT (item_id) DO UPDATE SET revision = counter_revisions.revision + 1
		RETURNING revision`, itemID).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to bump counter revision: %w", err)
	}
	return revision, nil
}
