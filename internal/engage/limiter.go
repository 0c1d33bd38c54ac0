// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package engage

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ToggleLimiter rate limits engagement toggles per (user, item) pair.
// Rapid re-toggles of the same pair are throttled without slowing a user's
// engagement across different items.
type ToggleLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewToggleLimiter creates a keyed limiter allowing perSecond requests with
// the given burst per pair.
func NewToggleLimiter(perSecond float64, burst int) *ToggleLimiter {
	return &ToggleLimiter{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

// Allow reports whether a toggle for the pair may proceed now.
func (l *ToggleLimiter) Allow(userID, itemID string) bool {
	key := userID + "\x00" + itemID

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

// Cleanup drops entries idle longer than maxIdle and returns the number
// removed.
func (l *ToggleLimiter) Cleanup(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, entry := range l.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// RunCleanup evicts idle entries periodically until the context ends.
// Hosted by the supervision tree.
func (l *ToggleLimiter) RunCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup(maxIdle)
		}
	}
}

// Len returns the number of tracked pairs.
func (l *ToggleLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
