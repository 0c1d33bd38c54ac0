// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package client

import (
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeSubscriber) Subscribe(itemIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), itemIDs...))
	return nil
}

func (f *fakeSubscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSubscriber) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newTestObserver(t *testing.T, sub Subscriber) (*Observer, *Manager) {
	t.Helper()
	m := NewManager(&fakeToggler{})
	t.Cleanup(m.Close)
	o := NewObserver(m, sub,
		WithThrottle(50*time.Millisecond),
		WithDebounce(40*time.Millisecond),
	)
	t.Cleanup(o.Close)
	return o, m
}

func TestObserverFirstUpdateAppliesImmediately(t *testing.T) {
	o, m := newTestObserver(t, &fakeSubscriber{})
	m.Track("item-1", EngagementState{})

	o.OnCounterUpdate(CounterUpdate{ItemID: "item-1", LikeCount: 3, Revision: 1})

	if !m.waitSettled("item-1", time.Second) {
		t.Fatal("state never settled")
	}
	st, _ := m.State("item-1")
	if st.LikeCount != 3 {
		t.Errorf("like count = %d, want 3 (applied without throttle delay)", st.LikeCount)
	}
}

func TestObserverThrottleCoalescesBursts(t *testing.T) {
	o, m := newTestObserver(t, &fakeSubscriber{})
	m.Track("item-1", EngagementState{})

	// Burst of updates inside one throttle window.
	for rev := int64(1); rev <= 5; rev++ {
		o.OnCounterUpdate(CounterUpdate{ItemID: "item-1", LikeCount: rev * 10, Revision: rev})
	}

	st, _ := m.State("item-1")
	if st.LastRevision != 1 {
		t.Errorf("revision before trailing edge = %d, want 1 (only first applied)", st.LastRevision)
	}

	time.Sleep(120 * time.Millisecond)

	st, _ = m.State("item-1")
	if st.LastRevision != 5 || st.LikeCount != 50 {
		t.Errorf("state after trailing edge = %+v, want highest revision 5 applied", st)
	}
}

func TestObserverThrottleIsPerItem(t *testing.T) {
	o, m := newTestObserver(t, &fakeSubscriber{})
	m.Track("item-1", EngagementState{})
	m.Track("item-2", EngagementState{})

	o.OnCounterUpdate(CounterUpdate{ItemID: "item-1", LikeCount: 1, Revision: 1})
	o.OnCounterUpdate(CounterUpdate{ItemID: "item-2", LikeCount: 2, Revision: 1})

	st1, _ := m.State("item-1")
	st2, _ := m.State("item-2")
	if st1.LikeCount != 1 || st2.LikeCount != 2 {
		t.Errorf("each item's first update should apply immediately, got %d and %d",
			st1.LikeCount, st2.LikeCount)
	}
}

func TestObserverDebouncesResubscription(t *testing.T) {
	sub := &fakeSubscriber{}
	o, _ := newTestObserver(t, sub)

	// Simulated scroll: visible set changes faster than the debounce.
	o.SetVisible([]string{"a"})
	time.Sleep(10 * time.Millisecond)
	o.SetVisible([]string{"a", "b"})
	time.Sleep(10 * time.Millisecond)
	o.SetVisible([]string{"b", "c"})

	if got := sub.callCount(); got != 0 {
		t.Errorf("subscribe calls during scroll = %d, want 0", got)
	}

	time.Sleep(100 * time.Millisecond)

	if got := sub.callCount(); got != 1 {
		t.Fatalf("subscribe calls after debounce = %d, want 1", got)
	}
	last := sub.lastCall()
	if len(last) != 2 || last[0] != "b" || last[1] != "c" {
		t.Errorf("subscribed set = %v, want final visible set [b c]", last)
	}
}

func TestObserverCloseStopsTimers(t *testing.T) {
	sub := &fakeSubscriber{}
	o, _ := newTestObserver(t, sub)

	o.SetVisible([]string{"a"})
	o.Close()

	time.Sleep(100 * time.Millisecond)
	if got := sub.callCount(); got != 0 {
		t.Errorf("subscribe calls after Close = %d, want 0", got)
	}
}
