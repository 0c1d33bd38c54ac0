// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package client models the consuming application's engagement state: one
// optimistic state machine per visible item, updated by local toggles and
// by realtime counter updates. All mutation of an item's state is funneled
// through a single goroutine, so consumers never observe a torn update.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/pulsefeed/internal/logging"
)

// Toggle kinds accepted by the state machine.
const (
	KindLike   = "like"
	KindRepost = "repost"
)

// ErrToggleInFlight is returned when a toggle arrives while the previous
// toggle on the same item has not settled. Re-entrant toggles are dropped
// rather than queued: the user mashing the button wants one flip, not many.
var ErrToggleInFlight = errors.New("toggle already in flight")

// ErrUnknownKind is returned for kinds other than like and repost.
var ErrUnknownKind = errors.New("unknown toggle kind")

// EngagementState is a point-in-time snapshot of one item's engagement.
type EngagementState struct {
	ItemID       string
	IsLiked      bool
	LikeCount    int64
	IsReposted   bool
	RepostCount  int64
	InFlight     bool
	LastRevision int64
}

// CounterUpdate is an authoritative counter notification from the server.
type CounterUpdate struct {
	ItemID      string
	LikeCount   int64
	RepostCount int64
	Revision    int64
}

// ToggleOutcome is the server's authoritative answer to a toggle.
type ToggleOutcome struct {
	Active      bool
	LikeCount   int64
	RepostCount int64
	Revision    int64
}

// Toggler sends a toggle to the server and returns the authoritative state.
type Toggler interface {
	Toggle(ctx context.Context, itemID, kind string) (ToggleOutcome, error)
}

// itemActor owns one item's state. Every mutation runs on the actor's
// loop goroutine via the mailbox; public methods only post commands.
//
// The mailbox is never closed: a settle goroutine or a concurrent Toggle
// may still be posting when the item scrolls out of the working set, so
// shutdown goes through the closed flag and the quit channel instead.
type itemActor struct {
	itemID  string
	toggler Toggler
	mailbox chan func()
	quit    chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	closed bool

	// Owned by the loop goroutine.
	state    EngagementState
	rollback EngagementState
	buffered *CounterUpdate
}

func newItemActor(itemID string, toggler Toggler, seed EngagementState) *itemActor {
	seed.ItemID = itemID
	seed.InFlight = false
	a := &itemActor{
		itemID:  itemID,
		toggler: toggler,
		mailbox: make(chan func(), 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		state:   seed,
	}
	go a.loop()
	return a
}

func (a *itemActor) loop() {
	defer close(a.done)
	for {
		select {
		case cmd := <-a.mailbox:
			cmd()
		case <-a.quit:
			// Commands accepted before close are already in the buffer;
			// run them so their reply channels are answered.
			for {
				select {
				case cmd := <-a.mailbox:
					cmd()
				default:
					return
				}
			}
		}
	}
}

// post delivers a command to the loop. Returns false after close; a true
// return guarantees the command runs.
func (a *itemActor) post(cmd func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.mailbox <- cmd
	return true
}

func (a *itemActor) snapshot() EngagementState {
	reply := make(chan EngagementState, 1)
	if !a.post(func() { reply <- a.state }) {
		return EngagementState{ItemID: a.itemID}
	}
	return <-reply
}

// toggle flips the state optimistically and settles it from the server
// response. The network call runs off the loop goroutine; its result is
// posted back as another command.
func (a *itemActor) toggle(ctx context.Context, kind string) error {
	if kind != KindLike && kind != KindRepost {
		return ErrUnknownKind
	}

	errc := make(chan error, 1)
	posted := a.post(func() {
		if a.state.InFlight {
			errc <- ErrToggleInFlight
			return
		}

		a.rollback = a.state
		a.applyOptimisticFlip(kind)
		a.state.InFlight = true
		errc <- nil

		go a.settle(ctx, kind)
	})
	if !posted {
		return errors.New("item state closed")
	}
	return <-errc
}

// applyOptimisticFlip runs on the loop goroutine.
func (a *itemActor) applyOptimisticFlip(kind string) {
	switch kind {
	case KindLike:
		if a.state.IsLiked {
			a.state.IsLiked = false
			a.state.LikeCount = clampZero(a.state.LikeCount - 1)
		} else {
			a.state.IsLiked = true
			a.state.LikeCount++
		}
	case KindRepost:
		if a.state.IsReposted {
			a.state.IsReposted = false
			a.state.RepostCount = clampZero(a.state.RepostCount - 1)
		} else {
			a.state.IsReposted = true
			a.state.RepostCount++
		}
	}
}

// settle performs the network call and posts the result back to the loop.
func (a *itemActor) settle(ctx context.Context, kind string) {
	outcome, err := a.toggler.Toggle(ctx, a.itemID, kind)
	a.post(func() {
		a.state.InFlight = false

		if err != nil {
			logging.Warn().Err(err).
				Str("item_id", a.itemID).
				Str("kind", kind).
				Msg("toggle failed, rolling back optimistic state")
			keepRevision := a.state.LastRevision
			a.state = a.rollback
			a.state.LastRevision = keepRevision
			a.drainBuffered()
			return
		}

		switch kind {
		case KindLike:
			a.state.IsLiked = outcome.Active
		case KindRepost:
			a.state.IsReposted = outcome.Active
		}
		a.state.LikeCount = clampZero(outcome.LikeCount)
		a.state.RepostCount = clampZero(outcome.RepostCount)
		if outcome.Revision > a.state.LastRevision {
			a.state.LastRevision = outcome.Revision
		}
		a.drainBuffered()
	})
}

// applyUpdate runs on the loop goroutine. Updates for an in-flight item
// are held back so the server response is not clobbered mid-toggle; the
// latest buffered update is applied once the toggle settles.
func (a *itemActor) applyUpdate(u CounterUpdate) {
	a.post(func() {
		if a.state.InFlight {
			if a.buffered == nil || u.Revision > a.buffered.Revision {
				buf := u
				a.buffered = &buf
			}
			return
		}
		a.applyUpdateNow(u)
	})
}

func (a *itemActor) applyUpdateNow(u CounterUpdate) {
	if u.Revision <= a.state.LastRevision {
		return
	}
	a.state.LikeCount = clampZero(u.LikeCount)
	a.state.RepostCount = clampZero(u.RepostCount)
	a.state.LastRevision = u.Revision
}

func (a *itemActor) drainBuffered() {
	if a.buffered == nil {
		return
	}
	u := *a.buffered
	a.buffered = nil
	a.applyUpdateNow(u)
}

func (a *itemActor) close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	a.mu.Unlock()
	close(a.quit)
	<-a.done
}

func clampZero(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

// Manager tracks engagement state for the set of items the application
// currently cares about.
type Manager struct {
	toggler Toggler

	mu     sync.Mutex
	actors map[string]*itemActor
	closed bool
}

// NewManager creates a Manager that settles toggles through the given
// transport.
func NewManager(toggler Toggler) *Manager {
	return &Manager{
		toggler: toggler,
		actors:  make(map[string]*itemActor),
	}
}

// Track registers an item with its server-provided initial state, as seen
// on the feed page. Tracking an already-tracked item is a no-op.
func (m *Manager) Track(itemID string, seed EngagementState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.actors[itemID]; ok {
		return
	}
	m.actors[itemID] = newItemActor(itemID, m.toggler, seed)
}

// Forget drops an item that scrolled out of the retained window.
func (m *Manager) Forget(itemID string) {
	m.mu.Lock()
	actor, ok := m.actors[itemID]
	delete(m.actors, itemID)
	m.mu.Unlock()
	if ok {
		actor.close()
	}
}

// Toggle flips like or repost state for an item. Returns
// ErrToggleInFlight if the previous toggle has not settled yet.
func (m *Manager) Toggle(ctx context.Context, itemID, kind string) error {
	actor := m.actor(itemID)
	if actor == nil {
		return errors.New("item not tracked")
	}
	return actor.toggle(ctx, kind)
}

// Apply feeds an authoritative counter update into the matching item's
// state machine. Updates for untracked items are ignored.
func (m *Manager) Apply(u CounterUpdate) {
	actor := m.actor(u.ItemID)
	if actor == nil {
		return
	}
	actor.applyUpdate(u)
}

// State returns a snapshot of an item's current engagement state.
func (m *Manager) State(itemID string) (EngagementState, bool) {
	actor := m.actor(itemID)
	if actor == nil {
		return EngagementState{}, false
	}
	return actor.snapshot(), true
}

// Tracked returns the IDs of all currently tracked items.
func (m *Manager) Tracked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.actors))
	for id := range m.actors {
		ids = append(ids, id)
	}
	return ids
}

// Close stops all item state machines.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	actors := make([]*itemActor, 0, len(m.actors))
	for _, a := range m.actors {
		actors = append(actors, a)
	}
	m.actors = make(map[string]*itemActor)
	m.mu.Unlock()

	for _, a := range actors {
		a.close()
	}
}

func (m *Manager) actor(itemID string) *itemActor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actors[itemID]
}

// waitSettled blocks until the item's in-flight toggle (if any) resolves
// or the timeout elapses. Intended for tests and shutdown paths.
func (m *Manager) waitSettled(itemID string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st, ok := m.State(itemID)
		if !ok || !st.InFlight {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
