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

// Item is a content item as stored. The count columns are aggregate
// snapshots maintained by the refresher, not live counts.
type Item struct {
	ID          string
	AuthorID    string
	CreatedAt   time.Time
	Visible     bool
	LikeCount   int64
	RepostCount int64
	ReplyCount  int64
}

// InsertItem stores a content item. This is the minimal ingest path; item
// CRUD beyond it is out of scope for the engine.
func (db *DB) InsertItem(ctx context.Context, item Item) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO items (id, author_id, created_at, visible)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		item.ID, item.AuthorID, item.CreatedAt, item.Visible)
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

// SetItemVisible flips an item's visibility (moderation hook).
func (db *DB) SetItemVisible(ctx context.Context, itemID string, visible bool) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE items SET visible = ? WHERE id = ?`, visible, itemID)
	if err != nil {
		return fmt.Errorf("failed to update item visibility: %w", err)
	}
	return nil
}

// InsertFollow records a follow edge.
func (db *DB) InsertFollow(ctx context.Context, followerID, followeeID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO follows (follower_id, followee_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`,
		followerID, followeeID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	return nil
}

// FolloweesOf returns the set of authors the user follows.
func (db *DB) FolloweesOf(ctx context.Context, userID string) (map[string]bool, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT CAST(followee_id AS VARCHAR) FROM follows WHERE follower_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query followees: %w", err)
	}
	defer closeWithLog(rows, "followee rows")

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan followee: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("followee iteration failed: %w", err)
	}
	return out, nil
}

// UpsertGraphEdge stores a proximity weight between two users. The graph is
// produced out-of-band; this is its write path into the mirror.
func (db *DB) UpsertGraphEdge(ctx context.Context, userA, userB string, weight float64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO graph_edges (user_a, user_b, weight)
		VALUES (?, ?, ?)
		ON CONFLICT (user_a, user_b) DO UPDATE SET weight = excluded.weight`,
		userA, userB, weight)
	if err != nil {
		return fmt.Errorf("failed to upsert graph edge: %w", err)
	}
	return nil
}

// LoadGraphEdges streams every proximity edge to fn. Used to warm the local
// graph cache; fn returning an error aborts the scan.
func (db *DB) LoadGraphEdges(ctx context.Context, fn func(userA, userB string, weight float64) error) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT CAST(user_a AS VARCHAR), CAST(user_b AS VARCHAR), weight FROM graph_edges`)
	if err != nil {
		return fmt.Errorf("failed to query graph edges: %w", err)
	}
	defer closeWithLog(rows, "graph edge rows")

	for rows.Next() {
		var a, b string
		var w float64
		if err := rows.Scan(&a, &b, &w); err != nil {
			return fmt.Errorf("failed to scan graph edge: %w", err)
		}
		if err := fn(a, b, w); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("graph edge iteration failed: %w", err)
	}
	return nil
}
