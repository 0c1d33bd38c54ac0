// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

/*
schema.go - Database Schema Management

Tables:
  - items: content items with aggregate snapshot columns (like_count,
    repost_count, reply_count) written only by the aggregate refresher and
    the reconciliation sweep
  - impressions: append-only record of items served to users, keyed by
    (user_id, item_id, served_at); drives repeat suppression and novelty
  - interaction_events: append-only log of user interactions (like, unlike,
    comment, repost, expand, profile_visit, follow_after_view, hide, mute,
    block); never deleted
  - item_kind_counts: per-item per-kind interaction totals, recomputed by
    the aggregate refresher
  - likes / reposts: relations of record for engagement toggles; the
    composite primary key serializes concurrent toggles of the same pair
  - counter_revisions: monotone per-item revision, bumped on every committed
    counter change so clients can discard stale realtime updates
  - follows: social graph follow edges
  - graph_edges: proximity weights, refreshed out-of-band, mirrored into the
    local graph cache
  - bandit_arms: Thompson Sampling success/failure counters per entity
  - reco_configs: versioned ranking parameter documents per environment;
    at most one active version per environment, flipped atomically

Schema Strategy:
All columns are defined in the initial CREATE TABLE statements. The schema is
small and append-mostly; versioned migrations can be layered on once there
are deployments to migrate.
*/

//nolint:staticcheck // File documentation, not package doc
package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// initSchema creates tables and indexes
func (db *DB) initSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	for _, query := range indexCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create index: %s: %w", query, err)
		}
	}

	return nil
}

// tableCreationQueries returns the table creation SQL statements
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS items (
			id UUID PRIMARY KEY,
			author_id UUID NOT NULL,
			created_at TIMESTAMP NOT NULL,
			visible BOOLEAN NOT NULL DEFAULT TRUE,
			like_count BIGINT NOT NULL DEFAULT 0,
			repost_count BIGINT NOT NULL DEFAULT 0,
			reply_count BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS impressions (
			user_id UUID NOT NULL,
			item_id UUID NOT NULL,
			page_id UUID NOT NULL,
			served_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, item_id, served_at)
		)`,

		`CREATE TABLE IF NOT EXISTS interaction_events (
			event_id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			item_id UUID NOT NULL,
			kind TEXT NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS item_kind_counts (
			item_id UUID NOT NULL,
			kind TEXT NOT NULL,
			cnt BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (item_id, kind)
		)`,

		`CREATE TABLE IF NOT EXISTS likes (
			user_id UUID NOT NULL,
			item_id UUID NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, item_id)
		)`,

		`CREATE TABLE IF NOT EXISTS reposts (
			user_id UUID NOT NULL,
			item_id UUID NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, item_id)
		)`,

		`CREATE TABLE IF NOT EXISTS counter_revisions (
			item_id UUID PRIMARY KEY,
			revision BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS follows (
			follower_id UUID NOT NULL,
			followee_id UUID NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (follower_id, followee_id)
		)`,

		`CREATE TABLE IF NOT EXISTS graph_edges (
			user_a UUID NOT NULL,
			user_b UUID NOT NULL,
			weight DOUBLE NOT NULL,
			PRIMARY KEY (user_a, user_b)
		)`,

		`CREATE TABLE IF NOT EXISTS bandit_arms (
			entity_type TEXT NOT NULL,
			entity_id UUID NOT NULL,
			successes BIGINT NOT NULL DEFAULT 0,
			failures BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (entity_type, entity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS reco_configs (
			environment TEXT NOT NULL,
			version BIGINT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			params_json TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			activated_at TIMESTAMP,
			PRIMARY KEY (environment, version)
		)`,
	}
}

// indexCreationQueries returns index creation SQL for the hot query paths:
// candidate generation (created_at scan), suppression (impressions by user),
// and aggregate recomputation (events by item).
func indexCreationQueries() []string {
	return []string{
		`CREATE INDEX IF NOT EXISTS idx_items_created_at ON items (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_items_author ON items (author_id)`,
		`CREATE INDEX IF NOT EXISTS idx_impressions_user_served ON impressions (user_id, served_at)`,
		`CREATE INDEX IF NOT EXISTS idx_impressions_item ON impressions (item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_impressions_served_at ON impressions (served_at)`,
		`CREATE INDEX IF NOT EXISTS idx_interaction_events_item ON interaction_events (item_id, kind)`,
		`CREATE INDEX IF NOT EXISTS idx_likes_item ON likes (item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reposts_item ON reposts (item_id)`,
		`CREATE INDEX IF NOT EXISTS idx_follows_followee ON follows (followee_id)`,
	}
}
