// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package client

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pulsefeed/internal/logging"
)

// BreakerToggler wraps a toggle transport in a circuit breaker so a
// degraded server fails toggles fast instead of stacking up timeouts.
// A fast failure rolls the optimistic flip back immediately, which is
// the honest state to show the user.
type BreakerToggler struct {
	inner   Toggler
	breaker *gobreaker.CircuitBreaker[ToggleOutcome]
}

// NewBreakerToggler wraps inner with circuit breaker protection.
func NewBreakerToggler(inner Toggler) *BreakerToggler {
	cb := gobreaker.NewCircuitBreaker[ToggleOutcome](gobreaker.Settings{
		Name:    "toggle-transport",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Toggle circuit state changed")
		},
	})
	return &BreakerToggler{inner: inner, breaker: cb}
}

// Toggle forwards through the breaker.
func (b *BreakerToggler) Toggle(ctx context.Context, itemID, kind string) (ToggleOutcome, error) {
	return b.breaker.Execute(func() (ToggleOutcome, error) {
		return b.inner.Toggle(ctx, itemID, kind)
	})
}
