// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package database

import (
	"context"
	"fmt"
	"time"
)

// Candidate is a feed candidate row as produced by candidate generation:
// a visible item inside the lookback window that the requesting user has
// not been shown within the suppression window.
type Candidate struct {
	ItemID          string
	AuthorID        string
	CreatedAt       time.Time
	LikeCount       int64
	RepostCount     int64
	ReplyCount      int64
	Followed        bool
	ImpressionCount int64
}

// Impression records that an item was served to a user on a given page.
type Impression struct {
	UserID   string
	ItemID   string
	PageID   string
	ServedAt time.Time
}

// Interaction is one append-only interaction event.
type Interaction struct {
	EventID    string
	UserID     string
	ItemID     string
	Kind       string
	OccurredAt time.Time
}

// CandidateQuery bounds a candidate generation scan.
type CandidateQuery struct {
	UserID            string
	Now               time.Time
	Lookback          time.Duration // items created within now-lookback
	SuppressionWindow time.Duration // impressions within now-window suppress
	PoolCap           int
	// Before, when non-zero, is an exclusive created_at upper bound used for
	// cursor pagination.
	Before time.Time
}

// RecentCandidates returns the candidate pool for a user, newest first.
// Suppression is a NOT EXISTS subquery over the user's recent impressions so
// the pool never contains an item the user saw within the window. The user's
// own items are excluded. An empty pool is not an error.
func (db *DB) RecentCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if q.PoolCap <= 0 {
		return nil, nil
	}

	before := q.Now
	if !q.Before.IsZero() && q.Before.Before(before) {
		before = q.Before
	}

	const query = `
		SELECT
			CAST(i.id AS VARCHAR),
			CAST(i.author_id AS VARCHAR),
			i.created_at,
			i.like_count,
			i.repost_count,
			i.reply_count,
			EXISTS (
				SELECT 1 FROM follows f
				WHERE f.follower_id = ? AND f.followee_id = i.author_id
			) AS followed,
			(SELECT COUNT(*) FROM impressions pi WHERE pi.item_id = i.id) AS impression_count
		FROM items i
		WHERE i.visible
		  AND i.author_id <> ?
		  AND i.created_at >= ?
		  AND i.created_at < ?
		  AND NOT EXISTS (
			SELECT 1 FROM impressions imp
			WHERE imp.user_id = ?
			  AND imp.item_id = i.id
			  AND imp.served_at >= ?
		  )
		ORDER BY i.created_at DESC
		LIMIT ?`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx,
		q.UserID,
		q.UserID,
		q.Now.Add(-q.Lookback),
		before,
		q.UserID,
		q.Now.Add(-q.SuppressionWindow),
		q.PoolCap,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer closeWithLog(rows, "candidate rows")

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ItemID, &c.AuthorID, &c.CreatedAt,
			&c.LikeCount, &c.RepostCount, &c.ReplyCount,
			&c.Followed, &c.ImpressionCount); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate rows iteration failed: %w", err)
	}
	return out, nil
}

// KindCountsSince returns per-item per-kind interaction totals for items
// created since the given time, keyed by item ID. Only aggregated counts
// are read; the raw event log is never scanned on the serving path.
func (db *DB) KindCountsSince(ctx context.Context, since time.Time) (map[string]map[string]int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		SELECT CAST(kc.item_id AS VARCHAR), kc.kind, kc.cnt
		FROM item_kind_counts kc
		JOIN items i ON i.id = kc.item_id
		WHERE i.created_at >= ?`

	rows, err := db.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query kind counts: %w", err)
	}
	defer closeWithLog(rows, "kind count rows")

	out := make(map[string]map[string]int64)
	for rows.Next() {
		var itemID, kind string
		var cnt int64
		if err := rows.Scan(&itemID, &kind, &cnt); err != nil {
			return nil, fmt.Errorf("failed to scan kind count: %w", err)
		}
		m, ok := out[itemID]
		if !ok {
			m = make(map[string]int64)
			out[itemID] = m
		}
		m[kind] = cnt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kind count rows iteration failed: %w", err)
	}
	return out, nil
}

// AppendImpressions records the items served on one feed page. Append-only;
// a duplicate (user, item, served_at) key is skipped rather than erroring so
// a retried page write stays idempotent.
func (db *DB) AppendImpressions(ctx context.Context, imps []Impression) error {
	if len(imps) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin impressions tx: %w", err)
	}
	defer rollbackQuietly(tx)

	const query = `
		INSERT INTO impressions (user_id, item_id, page_id, served_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	for _, imp := range imps {
		if _, err := tx.ExecContext(ctx, query, imp.UserID, imp.ItemID, imp.PageID, imp.ServedAt); err != nil {
			return fmt.Errorf("failed to insert impression: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit impressions: %w", err)
	}
	return nil
}

// AppendInteraction appends one event to the interaction log.
func (db *DB) AppendInteraction(ctx context.Context, ev Interaction) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const query = `
		INSERT INTO interaction_events (event_id, user_id, item_id, kind, occurred_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	stmt, err := db.getStmt(ctx, query)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, ev.EventID, ev.UserID, ev.ItemID, ev.Kind, ev.OccurredAt); err != nil {
		return fmt.Errorf("failed to append interaction: %w", err)
	}
	return nil
}

// PruneImpressions deletes impressions older than the retention horizon and
// returns the number of rows removed. The interaction log is never pruned.
func (db *DB) PruneImpressions(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM impressions WHERE served_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune impressions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read pruned row count: %w", err)
	}
	return n, nil
}
