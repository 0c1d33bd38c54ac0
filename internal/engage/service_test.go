// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package engage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/pulsefeed/internal/database"
	"github.com/tomtom215/pulsefeed/internal/events"
)

// fakeEngageStore is a hand-rolled Store tracking toggle state in memory.
type fakeEngageStore struct {
	active       map[string]bool  // user\x00item\x00kind
	counts       map[string]int64 // item\x00kind, shared across viewers
	revision     int64
	interactions []database.Interaction
	drifted      []database.CounterSnapshot
	toggleErr    error
}

func newFakeEngageStore() *fakeEngageStore {
	return &fakeEngageStore{active: make(map[string]bool), counts: make(map[string]int64)}
}

func (f *fakeEngageStore) ToggleEngagement(_ context.Context, userID, itemID, kind string) (*database.ToggleResult, error) {
	if f.toggleErr != nil {
		return nil, f.toggleErr
	}
	key := userID + "\x00" + itemID + "\x00" + kind
	f.active[key] = !f.active[key]
	f.revision++

	countKey := itemID + "\x00" + kind
	if f.active[key] {
		f.counts[countKey]++
	} else {
		f.counts[countKey]--
	}
	return &database.ToggleResult{
		ItemID: itemID, Kind: kind, Active: f.active[key],
		LikeCount:   f.counts[itemID+"\x00"+database.KindLike],
		RepostCount: f.counts[itemID+"\x00"+database.KindRepost],
		Revision:    f.revision,
	}, nil
}

func (f *fakeEngageStore) EngagementState(_ context.Context, userID, itemID, kind string) (*database.ToggleResult, error) {
	key := userID + "\x00" + itemID + "\x00" + kind
	return &database.ToggleResult{
		ItemID: itemID, Kind: kind, Active: f.active[key],
		LikeCount:   f.counts[itemID+"\x00"+database.KindLike],
		RepostCount: f.counts[itemID+"\x00"+database.KindRepost],
		Revision:    f.revision,
	}, nil
}

func (f *fakeEngageStore) AppendInteraction(_ context.Context, ev database.Interaction) error {
	f.interactions = append(f.interactions, ev)
	return nil
}

func (f *fakeEngageStore) ReconcileCounts(_ context.Context) ([]database.CounterSnapshot, error) {
	return f.drifted, nil
}

type fakePublisher struct {
	interactions []*events.InteractionEvent
	counters     []*events.CounterChanged
	err          error
}

func (f *fakePublisher) PublishInteraction(_ context.Context, ev *events.InteractionEvent) error {
	if f.err != nil {
		return f.err
	}
	f.interactions = append(f.interactions, ev)
	return nil
}

func (f *fakePublisher) PublishCounterChanged(_ context.Context, c *events.CounterChanged) error {
	if f.err != nil {
		return f.err
	}
	f.counters = append(f.counters, c)
	return nil
}

func newTestService(store Store, pub Publisher) *Service {
	return NewService(store, pub, NewToggleLimiter(1000, 1000))
}

func TestToggleRequiresAuth(t *testing.T) {
	s := newTestService(newFakeEngageStore(), &fakePublisher{})
	if _, err := s.Toggle(context.Background(), "", "item", database.KindLike); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
}

func TestToggleRejectsNonToggleableKinds(t *testing.T) {
	s := newTestService(newFakeEngageStore(), &fakePublisher{})
	for _, kind := range []string{"comment", "expand", "bogus"} {
		if _, err := s.Toggle(context.Background(), "user", "item", kind); !errors.Is(err, ErrInvalidKind) {
			t.Errorf("kind %s: got %v, want ErrInvalidKind", kind, err)
		}
	}
}

func TestToggleRateLimited(t *testing.T) {
	store := newFakeEngageStore()
	s := NewService(store, &fakePublisher{}, NewToggleLimiter(1, 1))
	ctx := context.Background()

	if _, err := s.Toggle(ctx, "user", "item", database.KindLike); err != nil {
		t.Fatalf("first toggle failed: %v", err)
	}
	if _, err := s.Toggle(ctx, "user", "item", database.KindLike); !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
	// A different item has its own budget.
	if _, err := s.Toggle(ctx, "user", "other", database.KindLike); err != nil {
		t.Errorf("other item should not be limited: %v", err)
	}
}

func TestToggleMapsNotFound(t *testing.T) {
	store := newFakeEngageStore()
	store.toggleErr = database.ErrItemNotFound
	s := newTestService(store, &fakePublisher{})

	if _, err := s.Toggle(context.Background(), "user", "missing", database.KindLike); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestTogglePublishesCounterChange(t *testing.T) {
	store := newFakeEngageStore()
	pub := &fakePublisher{}
	s := newTestService(store, pub)
	ctx := context.Background()

	res, err := s.Toggle(ctx, "user", "item", database.KindLike)
	if err != nil {
		t.Fatalf("Toggle failed: %v", err)
	}
	if !res.Active {
		t.Error("first toggle should activate")
	}

	if len(pub.counters) != 1 {
		t.Fatalf("counter publications = %d, want 1", len(pub.counters))
	}
	c := pub.counters[0]
	if c.ItemID != "item" || c.LikeCount != res.LikeCount || c.Revision != res.Revision {
		t.Errorf("counter change %+v does not match toggle result %+v", c, res)
	}

	if len(pub.interactions) != 1 || pub.interactions[0].Kind != events.KindLike {
		t.Errorf("interactions = %+v, want one like event", pub.interactions)
	}

	// Deactivation publishes an unlike.
	if _, err := s.Toggle(ctx, "user", "item", database.KindLike); err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if len(pub.interactions) != 2 || pub.interactions[1].Kind != events.KindUnlike {
		t.Errorf("second interaction = %+v, want unlike", pub.interactions)
	}
}

func TestTogglePublishFailureDoesNotFailToggle(t *testing.T) {
	store := newFakeEngageStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	s := newTestService(store, pub)

	res, err := s.Toggle(context.Background(), "user", "item", database.KindLike)
	if err != nil {
		t.Fatalf("committed toggle must not fail on publish error: %v", err)
	}
	if !res.Active {
		t.Error("toggle state must be authoritative regardless of publication")
	}
}

func TestStateRequiresAuth(t *testing.T) {
	s := newTestService(newFakeEngageStore(), &fakePublisher{})
	if _, err := s.State(context.Background(), "", "item-1"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
}

func TestStateReflectsToggles(t *testing.T) {
	store := newFakeEngageStore()
	s := newTestService(store, &fakePublisher{})
	ctx := context.Background()

	if _, err := s.Toggle(ctx, "u-1", "item-1", database.KindLike); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	state, err := s.State(ctx, "u-1", "item-1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if !state.IsLiked || state.IsReposted {
		t.Errorf("state = %+v, want liked only", state)
	}
	if state.LikeCount != 1 || state.Revision == 0 {
		t.Errorf("state = %+v, want one like and a nonzero revision", state)
	}

	// Another viewer sees the count but not the relation.
	other, err := s.State(ctx, "u-2", "item-1")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if other.IsLiked || other.LikeCount != 1 {
		t.Errorf("other viewer state = %+v, want unliked with shared count", other)
	}
}

func TestRecordInteraction(t *testing.T) {
	store := newFakeEngageStore()
	pub := &fakePublisher{}
	s := newTestService(store, pub)
	ctx := context.Background()

	if err := s.RecordInteraction(ctx, "user", "item", events.KindExpand); err != nil {
		t.Fatalf("RecordInteraction failed: %v", err)
	}
	if len(store.interactions) != 1 || store.interactions[0].Kind != events.KindExpand {
		t.Errorf("interactions = %+v, want one expand", store.interactions)
	}

	// Toggleable kinds must go through Toggle.
	if err := s.RecordInteraction(ctx, "user", "item", events.KindLike); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("like via RecordInteraction: got %v, want ErrInvalidKind", err)
	}
	if err := s.RecordInteraction(ctx, "", "item", events.KindExpand); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("got %v, want ErrUnauthenticated", err)
	}
}

func TestReconcileSweepPublishesCorrections(t *testing.T) {
	store := newFakeEngageStore()
	store.drifted = []database.CounterSnapshot{
		{ItemID: "a", LikeCount: 3, RepostCount: 1, Revision: 10},
		{ItemID: "b", LikeCount: 0, RepostCount: 0, Revision: 4},
	}
	pub := &fakePublisher{}
	s := newTestService(store, pub)

	if err := s.ReconcileSweep(context.Background()); err != nil {
		t.Fatalf("ReconcileSweep failed: %v", err)
	}
	if len(pub.counters) != 2 {
		t.Fatalf("counter publications = %d, want one per corrected item", len(pub.counters))
	}
	if pub.counters[0].ItemID != "a" || pub.counters[0].Revision != 10 {
		t.Errorf("correction = %+v, want item a at revision 10", pub.counters[0])
	}
}

func TestToggleLimiterCleanup(t *testing.T) {
	l := NewToggleLimiter(1, 1)
	l.Allow("u1", "i1")
	l.Allow("u2", "i2")
	if l.Len() != 2 {
		t.Fatalf("entries = %d, want 2", l.Len())
	}

	// Nothing is old enough yet.
	if removed := l.Cleanup(time.Minute); removed != 0 {
		t.Errorf("removed = %d, want 0", removed)
	}
	// Everything is older than zero idle time.
	if removed := l.Cleanup(-time.Second); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if l.Len() != 0 {
		t.Errorf("entries = %d, want 0 after cleanup", l.Len())
	}
}
