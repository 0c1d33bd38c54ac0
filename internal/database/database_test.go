// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/pulsefeed/internal/config"
)

// testDBSemaphore serializes DuckDB access across tests. CGO calls can hang
// when multiple in-memory databases run concurrent operations under CI
// resource pressure.
var testDBSemaphore = make(chan struct{}, 1)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
	}

	db, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})
	return db
}

func mustInsertItem(t *testing.T, db *DB, authorID string, createdAt time.Time) string {
	t.Helper()
	id := uuid.New().String()
	if err := db.InsertItem(context.Background(), Item{
		ID:        id,
		AuthorID:  authorID,
		CreatedAt: createdAt,
		Visible:   true,
	}); err != nil {
		t.Fatalf("InsertItem failed: %v", err)
	}
	return id
}

func TestToggleEngagementIdempotence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	userID := uuid.New().String()
	itemID := mustInsertItem(t, db, uuid.New().String(), time.Now().UTC())

	// First toggle activates.
	res, err := db.ToggleEngagement(ctx, userID, itemID, KindLike)
	if err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if !res.Active {
		t.Error("first toggle should activate")
	}
	if res.LikeCount != 1 {
		t.Errorf("like count = %d, want 1", res.LikeCount)
	}

	// Second toggle deactivates and returns to the original state.
	res, err = db.ToggleEngagement(ctx, userID, itemID, KindLike)
	if err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if res.Active {
		t.Error("second toggle should deactivate")
	}
	if res.LikeCount != 0 {
		t.Errorf("like count = %d, want 0", res.LikeCount)
	}

	// Counts never go negative regardless of how many times we flip.
	for i := 0; i < 5; i++ {
		res, err = db.ToggleEngagement(ctx, userID, itemID, KindLike)
		if err != nil {
			t.Fatalf("toggle %d failed: %v", i, err)
		}
		if res.LikeCount < 0 {
			t.Fatalf("like count went negative: %d", res.LikeCount)
		}
	}
}

func TestToggleEngagementRevisionMonotone(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	userID := uuid.New().String()
	itemID := mustInsertItem(t, db, uuid.New().String(), time.Now().UTC())

	var last int64
	for i := 0; i < 4; i++ {
		res, err := db.ToggleEngagement(ctx, userID, itemID, KindRepost)
		if err != nil {
			t.Fatalf("toggle failed: %v", err)
		}
		if res.Revision <= last {
			t.Fatalf("revision %d not greater than previous %d", res.Revision, last)
		}
		last = res.Revision
	}
}

func TestToggleEngagementErrors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	userID := uuid.New().String()

	_, err := db.ToggleEngagement(ctx, userID, uuid.New().String(), KindLike)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("missing item: got %v, want ErrItemNotFound", err)
	}

	itemID := mustInsertItem(t, db, uuid.New().String(), time.Now().UTC())
	_, err = db.ToggleEngagement(ctx, userID, itemID, "wave")
	if !errors.Is(err, ErrInvalidKind) {
		t.Errorf("bad kind: got %v, want ErrInvalidKind", err)
	}

	// Hidden items are not toggleable.
	if err := db.SetItemVisible(ctx, itemID, false); err != nil {
		t.Fatalf("SetItemVisible failed: %v", err)
	}
	_, err = db.ToggleEngagement(ctx, userID, itemID, KindLike)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("hidden item: got %v, want ErrItemNotFound", err)
	}
}

func TestRecentCandidatesSuppression(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	userID := uuid.New().String()
	authorID := uuid.New().String()

	shown := mustInsertItem(t, db, authorID, now.Add(-1*time.Hour))
	fresh := mustInsertItem(t, db, authorID, now.Add(-2*time.Hour))
	stale := mustInsertItem(t, db, authorID, now.Add(-72*time.Hour)) // outside lookback
	own := uuid.New().String()
	if err := db.InsertItem(ctx, Item{ID: own, AuthorID: userID, CreatedAt: now.Add(-1 * time.Hour), Visible: true}); err != nil {
		t.Fatalf("InsertItem failed: %v", err)
	}

	// Served yesterday: inside the 7 day suppression window.
	if err := db.AppendImpressions(ctx, []Impression{{
		UserID: userID, ItemID: shown, PageID: uuid.New().String(),
		ServedAt: now.Add(-24 * time.Hour),
	}}); err != nil {
		t.Fatalf("AppendImpressions failed: %v", err)
	}

	got, err := db.RecentCandidates(ctx, CandidateQuery{
		UserID:            userID,
		Now:               now,
		Lookback:          48 * time.Hour,
		SuppressionWindow: 7 * 24 * time.Hour,
		PoolCap:           100,
	})
	if err != nil {
		t.Fatalf("RecentCandidates failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("candidate count = %d, want 1 (got %+v)", len(got), got)
	}
	if got[0].ItemID != fresh {
		t.Errorf("candidate = %s, want %s", got[0].ItemID, fresh)
	}
	for _, c := range got {
		if c.ItemID == shown {
			t.Error("suppressed item appeared in pool")
		}
		if c.ItemID == stale {
			t.Error("item outside lookback appeared in pool")
		}
		if c.ItemID == own {
			t.Error("user's own item appeared in pool")
		}
	}
}

func TestRecentCandidatesFollowedFlag(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	userID := uuid.New().String()
	followed := uuid.New().String()
	stranger := uuid.New().String()

	followedItem := mustInsertItem(t, db, followed, now.Add(-1*time.Hour))
	mustInsertItem(t, db, stranger, now.Add(-2*time.Hour))

	if err := db.InsertFollow(ctx, userID, followed); err != nil {
		t.Fatalf("InsertFollow failed: %v", err)
	}

	got, err := db.RecentCandidates(ctx, CandidateQuery{
		UserID: userID, Now: now,
		Lookback: 48 * time.Hour, SuppressionWindow: 7 * 24 * time.Hour,
		PoolCap: 100,
	})
	if err != nil {
		t.Fatalf("RecentCandidates failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candidate count = %d, want 2", len(got))
	}
	for _, c := range got {
		wantFollowed := c.ItemID == followedItem
		if c.Followed != wantFollowed {
			t.Errorf("item %s followed = %v, want %v", c.ItemID, c.Followed, wantFollowed)
		}
	}
}

func TestRecentCandidatesEmptyPool(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.RecentCandidates(context.Background(), CandidateQuery{
		UserID: uuid.New().String(), Now: time.Now().UTC(),
		Lookback: 48 * time.Hour, SuppressionWindow: 7 * 24 * time.Hour,
		PoolCap: 100,
	})
	if err != nil {
		t.Fatalf("empty pool should not error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("candidate count = %d, want 0", len(got))
	}
}

func TestRefreshAggregatesAndReconcile(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	itemID := mustInsertItem(t, db, uuid.New().String(), now)

	// Two likes, one repost, one comment event.
	for i := 0; i < 2; i++ {
		if _, err := db.ToggleEngagement(ctx, uuid.New().String(), itemID, KindLike); err != nil {
			t.Fatalf("toggle failed: %v", err)
		}
	}
	if _, err := db.ToggleEngagement(ctx, uuid.New().String(), itemID, KindRepost); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := db.AppendInteraction(ctx, Interaction{
		EventID: uuid.New().String(), UserID: uuid.New().String(),
		ItemID: itemID, Kind: "comment", OccurredAt: now,
	}); err != nil {
		t.Fatalf("AppendInteraction failed: %v", err)
	}

	if err := db.RefreshAggregates(ctx); err != nil {
		t.Fatalf("RefreshAggregates failed: %v", err)
	}

	got, err := db.RecentCandidates(ctx, CandidateQuery{
		UserID: uuid.New().String(), Now: now.Add(time.Minute),
		Lookback: 48 * time.Hour, SuppressionWindow: 7 * 24 * time.Hour,
		PoolCap: 10,
	})
	if err != nil {
		t.Fatalf("RecentCandidates failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candidate count = %d, want 1", len(got))
	}
	if got[0].LikeCount != 2 || got[0].RepostCount != 1 || got[0].ReplyCount != 1 {
		t.Errorf("snapshot counts = %d/%d/%d, want 2/1/1",
			got[0].LikeCount, got[0].RepostCount, got[0].ReplyCount)
	}

	// Reconcile after refresh finds nothing.
	drifted, err := db.ReconcileCounts(ctx)
	if err != nil {
		t.Fatalf("ReconcileCounts failed: %v", err)
	}
	if len(drifted) != 0 {
		t.Errorf("drifted count = %d, want 0", len(drifted))
	}

	// Inject drift directly, then reconcile corrects it.
	if _, err := db.Conn().ExecContext(ctx,
		`UPDATE items SET like_count = 99 WHERE id = ?`, itemID); err != nil {
		t.Fatalf("failed to inject drift: %v", err)
	}
	drifted, err = db.ReconcileCounts(ctx)
	if err != nil {
		t.Fatalf("ReconcileCounts failed: %v", err)
	}
	if len(drifted) != 1 {
		t.Fatalf("drifted count = %d, want 1", len(drifted))
	}
	if drifted[0].ItemID != itemID || drifted[0].LikeCount != 2 {
		t.Errorf("corrected snapshot = %+v, want item %s with 2 likes", drifted[0], itemID)
	}
	if drifted[0].Revision == 0 {
		t.Error("reconcile should bump the revision")
	}
}

func TestKindCountsSince(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	itemID := mustInsertItem(t, db, uuid.New().String(), now)
	for _, kind := range []string{"expand", "expand", "hide"} {
		if err := db.AppendInteraction(ctx, Interaction{
			EventID: uuid.New().String(), UserID: uuid.New().String(),
			ItemID: itemID, Kind: kind, OccurredAt: now,
		}); err != nil {
			t.Fatalf("AppendInteraction failed: %v", err)
		}
	}
	if err := db.RefreshAggregates(ctx); err != nil {
		t.Fatalf("RefreshAggregates failed: %v", err)
	}

	counts, err := db.KindCountsSince(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("KindCountsSince failed: %v", err)
	}
	if counts[itemID]["expand"] != 2 {
		t.Errorf("expand count = %d, want 2", counts[itemID]["expand"])
	}
	if counts[itemID]["hide"] != 1 {
		t.Errorf("hide count = %d, want 1", counts[itemID]["hide"])
	}
}

func TestPruneImpressions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	userID := uuid.New().String()
	oldItem := mustInsertItem(t, db, uuid.New().String(), now.Add(-100*24*time.Hour))
	newItem := mustInsertItem(t, db, uuid.New().String(), now)

	if err := db.AppendImpressions(ctx, []Impression{
		{UserID: userID, ItemID: oldItem, PageID: uuid.New().String(), ServedAt: now.Add(-95 * 24 * time.Hour)},
		{UserID: userID, ItemID: newItem, PageID: uuid.New().String(), ServedAt: now},
	}); err != nil {
		t.Fatalf("AppendImpressions failed: %v", err)
	}

	pruned, err := db.PruneImpressions(ctx, now.Add(-90*24*time.Hour))
	if err != nil {
		t.Fatalf("PruneImpressions failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
}

func TestBumpArmAndStats(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	armID := uuid.New().String()
	otherID := uuid.New().String()

	for i := 0; i < 3; i++ {
		if err := db.BumpArm(ctx, ArmEntityItem, armID, true); err != nil {
			t.Fatalf("BumpArm failed: %v", err)
		}
	}
	if err := db.BumpArm(ctx, ArmEntityItem, armID, false); err != nil {
		t.Fatalf("BumpArm failed: %v", err)
	}

	stats, err := db.ArmStats(ctx, ArmEntityItem, []string{armID, otherID})
	if err != nil {
		t.Fatalf("ArmStats failed: %v", err)
	}
	got, ok := stats[armID]
	if !ok {
		t.Fatal("bumped arm missing from stats")
	}
	if got.Successes != 3 || got.Failures != 1 {
		t.Errorf("arm stats = %+v, want 3 successes, 1 failure", got)
	}
	if _, ok := stats[otherID]; ok {
		t.Error("never-bumped arm should be absent")
	}
}

func TestRecoConfigLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	const env = "production"

	// No active config initially.
	_, err := db.ActiveRecoConfig(ctx, env)
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("got %v, want ErrConfigNotFound", err)
	}

	v1, err := db.InsertRecoConfig(ctx, env, `{"tau_hours":12}`)
	if err != nil {
		t.Fatalf("InsertRecoConfig failed: %v", err)
	}
	if v1 != 1 {
		t.Errorf("first version = %d, want 1", v1)
	}

	// Inserting does not activate.
	if _, err := db.ActiveRecoConfig(ctx, env); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("got %v, want ErrConfigNotFound before activation", err)
	}

	if err := db.ActivateRecoConfig(ctx, env, v1); err != nil {
		t.Fatalf("ActivateRecoConfig failed: %v", err)
	}
	active, err := db.ActiveRecoConfig(ctx, env)
	if err != nil {
		t.Fatalf("ActiveRecoConfig failed: %v", err)
	}
	if active.Version != v1 || active.ParamsJSON != `{"tau_hours":12}` {
		t.Errorf("active = %+v, want version %d", active, v1)
	}

	// Activating v2 atomically swaps: exactly one active row afterwards.
	v2, err := db.InsertRecoConfig(ctx, env, `{"tau_hours":24}`)
	if err != nil {
		t.Fatalf("InsertRecoConfig failed: %v", err)
	}
	if err := db.ActivateRecoConfig(ctx, env, v2); err != nil {
		t.Fatalf("ActivateRecoConfig failed: %v", err)
	}

	var activeCount int
	if err := db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reco_configs WHERE environment = ? AND is_active`, env).Scan(&activeCount); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if activeCount != 1 {
		t.Errorf("active rows = %d, want exactly 1", activeCount)
	}

	active, err = db.ActiveRecoConfig(ctx, env)
	if err != nil {
		t.Fatalf("ActiveRecoConfig failed: %v", err)
	}
	if active.Version != v2 {
		t.Errorf("active version = %d, want %d", active.Version, v2)
	}

	// Activating an unknown version fails and leaves the active row alone.
	if err := db.ActivateRecoConfig(ctx, env, 99); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("got %v, want ErrConfigNotFound", err)
	}
	active, err = db.ActiveRecoConfig(ctx, env)
	if err != nil || active.Version != v2 {
		t.Errorf("failed activation must not disturb active config: %v %+v", err, active)
	}

	// Environments are isolated.
	if _, err := db.ActiveRecoConfig(ctx, "staging"); !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("staging should have no active config, got %v", err)
	}
}

func TestEngagementStateMatchesToggles(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	itemID := mustInsertItem(t, db, uuid.New().String(), now.Add(-time.Hour))
	userID := uuid.New().String()

	fresh, err := db.EngagementState(ctx, userID, itemID, KindLike)
	if err != nil {
		t.Fatalf("EngagementState failed: %v", err)
	}
	if fresh.Active || fresh.LikeCount != 0 || fresh.Revision != 0 {
		t.Errorf("untouched item state = %+v, want inactive zero counts", fresh)
	}

	toggled, err := db.ToggleEngagement(ctx, userID, itemID, KindLike)
	if err != nil {
		t.Fatalf("ToggleEngagement failed: %v", err)
	}

	state, err := db.EngagementState(ctx, userID, itemID, KindLike)
	if err != nil {
		t.Fatalf("EngagementState failed: %v", err)
	}
	if !state.Active || state.LikeCount != 1 {
		t.Errorf("state = %+v, want active with one like", state)
	}
	if state.Revision != toggled.Revision {
		t.Errorf("revision = %d, want %d from the toggle", state.Revision, toggled.Revision)
	}

	other, err := db.EngagementState(ctx, uuid.New().String(), itemID, KindLike)
	if err != nil {
		t.Fatalf("EngagementState failed: %v", err)
	}
	if other.Active || other.LikeCount != 1 {
		t.Errorf("other viewer state = %+v, want inactive with shared count", other)
	}
}
