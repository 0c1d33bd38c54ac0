// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package client

import (
	"sync"
	"time"
)

const (
	// defaultThrottle caps how often a single item's counters repaint.
	// Hot items can change many times a second; faster than this is
	// invisible churn.
	defaultThrottle = 300 * time.Millisecond

	// defaultDebounce delays resubscription while the visible set is
	// still changing, so a fast scroll produces one subscribe, not one
	// per frame.
	defaultDebounce = 500 * time.Millisecond
)

// Subscriber updates the server-side watch set for this connection.
type Subscriber interface {
	Subscribe(itemIDs []string) error
}

// Observer sits between the realtime channel and the state manager. It
// throttles per-item counter updates and debounces resubscription as the
// user scrolls.
type Observer struct {
	manager    *Manager
	subscriber Subscriber
	throttle   time.Duration
	debounce   time.Duration

	mu            sync.Mutex
	items         map[string]*throttleEntry
	pendingIDs    []string
	debounceTimer *time.Timer
	closed        bool
}

type throttleEntry struct {
	lastApplied time.Time
	pending     *CounterUpdate
	timer       *time.Timer
}

// ObserverOption adjusts Observer timing, mainly for tests.
type ObserverOption func(*Observer)

// WithThrottle overrides the per-item repaint interval.
func WithThrottle(d time.Duration) ObserverOption {
	return func(o *Observer) { o.throttle = d }
}

// WithDebounce overrides the resubscription delay.
func WithDebounce(d time.Duration) ObserverOption {
	return func(o *Observer) { o.debounce = d }
}

// NewObserver creates an Observer feeding updates into manager and watch
// changes into subscriber.
func NewObserver(manager *Manager, subscriber Subscriber, opts ...ObserverOption) *Observer {
	o := &Observer{
		manager:    manager,
		subscriber: subscriber,
		throttle:   defaultThrottle,
		debounce:   defaultDebounce,
		items:      make(map[string]*throttleEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnCounterUpdate handles one incoming realtime update. The first update
// for an item applies immediately; further updates inside the throttle
// window coalesce, keeping only the highest revision, and fire on the
// trailing edge.
func (o *Observer) OnCounterUpdate(u CounterUpdate) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}

	entry, ok := o.items[u.ItemID]
	if !ok {
		entry = &throttleEntry{}
		o.items[u.ItemID] = entry
	}

	now := time.Now()
	if entry.timer == nil && now.Sub(entry.lastApplied) >= o.throttle {
		entry.lastApplied = now
		o.mu.Unlock()
		o.manager.Apply(u)
		return
	}

	// Inside the window: coalesce to the newest revision.
	if entry.pending == nil || u.Revision > entry.pending.Revision {
		buf := u
		entry.pending = &buf
	}
	if entry.timer == nil {
		wait := o.throttle - now.Sub(entry.lastApplied)
		if wait < 0 {
			wait = 0
		}
		entry.timer = time.AfterFunc(wait, func() { o.flushItem(u.ItemID) })
	}
	o.mu.Unlock()
}

func (o *Observer) flushItem(itemID string) {
	o.mu.Lock()
	entry, ok := o.items[itemID]
	if !ok || o.closed {
		o.mu.Unlock()
		return
	}
	entry.timer = nil
	pending := entry.pending
	entry.pending = nil
	if pending != nil {
		entry.lastApplied = time.Now()
	}
	o.mu.Unlock()

	if pending != nil {
		o.manager.Apply(*pending)
	}
}

// SetVisible records the new visible set and schedules a resubscription
// after the debounce interval. Repeated calls during a scroll reset the
// timer so only the final set goes to the server.
func (o *Observer) SetVisible(itemIDs []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}

	o.pendingIDs = append([]string(nil), itemIDs...)
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	o.debounceTimer = time.AfterFunc(o.debounce, o.flushSubscription)
}

func (o *Observer) flushSubscription() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	ids := o.pendingIDs
	o.pendingIDs = nil
	o.debounceTimer = nil
	o.mu.Unlock()

	if ids == nil {
		return
	}
	// Subscription failures are recoverable: the next scroll resubscribes,
	// and the reconciliation sweep repairs any missed counters.
	_ = o.subscriber.Subscribe(ids)
}

// Close stops all timers. Pending throttled updates are dropped.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	if o.debounceTimer != nil {
		o.debounceTimer.Stop()
	}
	for _, entry := range o.items {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
}
