// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package events carries the engagement event stream: interaction events
// feeding the bandit consumer and authoritative counter-change
// notifications feeding realtime reconciliation. Transport is NATS
// JetStream via Watermill.
package events

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Topics on the ENGAGEMENT stream.
const (
	// TopicInteractions carries InteractionEvent messages.
	TopicInteractions = "engagement.interactions"

	// TopicCounters carries CounterChanged messages.
	TopicCounters = "engagement.counters"
)

// Interaction kinds. The toggleable kinds (like, unlike, repost, unrepost)
// mirror relation changes; the rest are behavioral signals.
const (
	KindLike            = "like"
	KindUnlike          = "unlike"
	KindComment         = "comment"
	KindRepost          = "repost"
	KindUnrepost        = "unrepost"
	KindExpand          = "expand"
	KindProfileVisit    = "profile_visit"
	KindFollowAfterView = "follow_after_view"
	KindHide            = "hide"
	KindMute            = "mute"
	KindBlock           = "block"
)

// schemaVersion is bumped on breaking payload changes.
const schemaVersion = 1

var validKinds = map[string]bool{
	KindLike: true, KindUnlike: true, KindComment: true,
	KindRepost: true, KindUnrepost: true, KindExpand: true,
	KindProfileVisit: true, KindFollowAfterView: true,
	KindHide: true, KindMute: true, KindBlock: true,
}

// ValidKind reports whether kind names a known interaction.
func ValidKind(kind string) bool {
	return validKinds[kind]
}

// InteractionEvent is one user-item interaction on the stream.
type InteractionEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	ItemID        string    `json:"item_id"`
	Kind          string    `json:"kind"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Validate checks the event is complete enough to process.
func (e *InteractionEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("interaction event missing event_id")
	}
	if e.UserID == "" || e.ItemID == "" {
		return fmt.Errorf("interaction event %s missing user or item", e.EventID)
	}
	if !ValidKind(e.Kind) {
		return fmt.Errorf("interaction event %s has unknown kind %q", e.EventID, e.Kind)
	}
	return nil
}

// CounterChanged announces an item's authoritative counters at a revision.
// Emitted after every committed toggle and for every correction made by the
// reconciliation sweep. Revisions are monotone per item; consumers discard
// updates whose revision is not newer than what they hold.
type CounterChanged struct {
	SchemaVersion int       `json:"schema_version"`
	ItemID        string    `json:"item_id"`
	LikeCount     int64     `json:"like_count"`
	RepostCount   int64     `json:"repost_count"`
	Revision      int64     `json:"revision"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Validate checks the notification is complete enough to apply.
func (c *CounterChanged) Validate() error {
	if c.ItemID == "" {
		return fmt.Errorf("counter change missing item_id")
	}
	if c.LikeCount < 0 || c.RepostCount < 0 {
		return fmt.Errorf("counter change for %s carries negative counts", c.ItemID)
	}
	if c.Revision <= 0 {
		return fmt.Errorf("counter change for %s has non-positive revision %d", c.ItemID, c.Revision)
	}
	return nil
}

// SerializeInteraction encodes an event for the wire, stamping the schema
// version.
func SerializeInteraction(e *InteractionEvent) ([]byte, error) {
	e.SchemaVersion = schemaVersion
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("serialize interaction event: %w", err)
	}
	return data, nil
}

// DeserializeInteraction decodes and validates a wire payload.
func DeserializeInteraction(data []byte) (*InteractionEvent, error) {
	var e InteractionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("deserialize interaction event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// SerializeCounterChanged encodes a notification for the wire.
func SerializeCounterChanged(c *CounterChanged) ([]byte, error) {
	c.SchemaVersion = schemaVersion
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("serialize counter change: %w", err)
	}
	return data, nil
}

// DeserializeCounterChanged decodes and validates a wire payload.
func DeserializeCounterChanged(data []byte) (*CounterChanged, error) {
	var c CounterChanged
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("deserialize counter change: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
