// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package bandit feeds interaction outcomes back into the Thompson
// Sampling arm statistics. It consumes the interaction stream
// asynchronously; the serving path never waits on it.
package bandit

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/pulsefeed/internal/database"
	"github.com/tomtom215/pulsefeed/internal/events"
	"github.com/tomtom215/pulsefeed/internal/logging"
	"github.com/tomtom215/pulsefeed/internal/metrics"
)

// ArmStore is the persistence surface for arm counters.
type ArmStore interface {
	BumpArm(ctx context.Context, entityType, entityID string, success bool) error
}

// Outcome classifies an interaction kind for the bandit.
type Outcome int

const (
	// OutcomeIgnored kinds do not move arm counters (undo actions).
	OutcomeIgnored Outcome = iota
	// OutcomeSuccess kinds count as a success.
	OutcomeSuccess
	// OutcomeFailure kinds count as a failure.
	OutcomeFailure
)

// Classify maps an interaction kind to its bandit outcome. Undo kinds
// (unlike, unrepost) are ignored: arm counters are monotone, withdrawal of
// an engagement does not rewrite history.
func Classify(kind string) Outcome {
	switch kind {
	case events.KindLike, events.KindComment, events.KindRepost,
		events.KindExpand, events.KindProfileVisit, events.KindFollowAfterView:
		return OutcomeSuccess
	case events.KindHide, events.KindMute, events.KindBlock:
		return OutcomeFailure
	default:
		return OutcomeIgnored
	}
}

// Consumer applies interaction events to arm statistics.
type Consumer struct {
	store ArmStore
}

// NewConsumer creates a bandit consumer.
func NewConsumer(store ArmStore) *Consumer {
	return &Consumer{store: store}
}

// Handle processes one interaction message. Malformed payloads are logged
// and dropped (returning nil acks them; redelivery cannot fix a bad
// payload); store errors propagate so the message is redelivered.
func (c *Consumer) Handle(ctx context.Context, msg *message.Message) error {
	ev, err := events.DeserializeInteraction(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed interaction event")
		return nil
	}

	outcome := Classify(ev.Kind)
	if outcome == OutcomeIgnored {
		return nil
	}

	success := outcome == OutcomeSuccess
	if err := c.store.BumpArm(ctx, database.ArmEntityItem, ev.ItemID, success); err != nil {
		return fmt.Errorf("bump arm for %s: %w", ev.ItemID, err)
	}

	signal := "failure"
	if success {
		signal = "success"
	}
	metrics.BanditArmUpdates.WithLabelValues(signal).Inc()
	return nil
}
