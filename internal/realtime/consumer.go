// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package realtime

import (
	"github.com/tomtom215/pulsefeed/internal/events"
	"github.com/tomtom215/pulsefeed/internal/logging"
)

// Consumer bridges the counter-change event stream to the hub.
type Consumer struct {
	hub *Hub
}

// NewConsumer creates a Consumer feeding the given hub.
func NewConsumer(hub *Hub) *Consumer {
	return &Consumer{hub: hub}
}

// Handle deserializes one counter-change message and dispatches it to
// watchers. Malformed payloads are acknowledged and dropped; redelivery
// cannot fix them.
func (c *Consumer) Handle(payload []byte) error {
	change, err := events.DeserializeCounterChanged(payload)
	if err != nil {
		logging.Warn().Err(err).Msg("dropping malformed counter-change message")
		return nil
	}
	c.hub.Dispatch(*change)
	return nil
}
