// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package engage implements the engagement toggle service: idempotent
// like/repost flips with authoritative live counts, rate limiting, and
// post-commit publication of interaction and counter-change events.
package engage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/pulsefeed/internal/database"
	"github.com/tomtom215/pulsefeed/internal/events"
	"github.com/tomtom215/pulsefeed/internal/logging"
	"github.com/tomtom215/pulsefeed/internal/metrics"
)

var (
	// ErrUnauthenticated is returned when no authenticated user is present.
	ErrUnauthenticated = errors.New("authentication required")

	// ErrRateLimited is returned when the pair's toggle budget is spent.
	ErrRateLimited = errors.New("toggle rate limit exceeded")

	// ErrNotFound is returned for unknown or hidden items.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidKind is returned for kinds that are not toggleable or not
	// recordable.
	ErrInvalidKind = errors.New("invalid engagement kind")
)

// Store is the persistence surface the service needs.
type Store interface {
	ToggleEngagement(ctx context.Context, userID, itemID, kind string) (*database.ToggleResult, error)
	EngagementState(ctx context.Context, userID, itemID, kind string) (*database.ToggleResult, error)
	AppendInteraction(ctx context.Context, ev database.Interaction) error
	ReconcileCounts(ctx context.Context) ([]database.CounterSnapshot, error)
}

// Publisher is the event stream surface the service needs.
type Publisher interface {
	PublishInteraction(ctx context.Context, ev *events.InteractionEvent) error
	PublishCounterChanged(ctx context.Context, c *events.CounterChanged) error
}

// Service handles engagement toggles and interaction recording.
type Service struct {
	store     Store
	publisher Publisher
	limiter   *ToggleLimiter
	now       func() time.Time
}

// NewService creates the engagement service. publisher may be nil when the
// event stream is disabled; toggles remain authoritative, realtime clients
// just reconcile on the next sweep they observe.
func NewService(store Store, publisher Publisher, limiter *ToggleLimiter) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		limiter:   limiter,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Toggle flips the user's like or repost on an item and returns the
// authoritative resulting state. The database transaction is the
// serialization point; retransmitted requests are idempotent per current
// state.
func (s *Service) Toggle(ctx context.Context, userID, itemID, kind string) (*database.ToggleResult, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if kind != database.KindLike && kind != database.KindRepost {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if !s.limiter.Allow(userID, itemID) {
		metrics.ToggleOutcomes.WithLabelValues(kind, "rate_limited").Inc()
		return nil, ErrRateLimited
	}

	start := time.Now()
	result, err := s.store.ToggleEngagement(ctx, userID, itemID, kind)
	metrics.ToggleDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			metrics.ToggleOutcomes.WithLabelValues(kind, "not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.ToggleOutcomes.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("toggle failed: %w", err)
	}

	outcome := "deactivated"
	if result.Active {
		outcome = "activated"
	}
	metrics.ToggleOutcomes.WithLabelValues(kind, outcome).Inc()

	// Post-commit side effects. The toggle already committed; a failure
	// here loses a notification, not state, and the reconciliation sweep
	// covers the gap. Logged, never returned.
	s.appendAndPublish(ctx, userID, result)

	return result, nil
}

// ItemEngagement is the viewer's full engagement picture for one item.
type ItemEngagement struct {
	ItemID      string
	IsLiked     bool
	IsReposted  bool
	LikeCount   int64
	RepostCount int64
	Revision    int64
}

// State reads the viewer's current relations and the live counts for an
// item, outside of any toggle. Clients use it to seed per-item state when
// the item enters their working set.
func (s *Service) State(ctx context.Context, userID, itemID string) (*ItemEngagement, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	like, err := s.store.EngagementState(ctx, userID, itemID, database.KindLike)
	if err != nil {
		return nil, fmt.Errorf("read like state: %w", err)
	}
	repost, err := s.store.EngagementState(ctx, userID, itemID, database.KindRepost)
	if err != nil {
		return nil, fmt.Errorf("read repost state: %w", err)
	}

	return &ItemEngagement{
		ItemID:      itemID,
		IsLiked:     like.Active,
		IsReposted:  repost.Active,
		LikeCount:   like.LikeCount,
		RepostCount: repost.RepostCount,
		Revision:    like.Revision,
	}, nil
}

// RecordInteraction appends a behavioral signal (expand, profile_visit,
// hide, ...) to the interaction log and the stream. Toggleable kinds go
// through Toggle instead.
func (s *Service) RecordInteraction(ctx context.Context, userID, itemID, kind string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if !events.ValidKind(kind) || kind == events.KindLike || kind == events.KindUnlike ||
		kind == events.KindRepost || kind == events.KindUnrepost {
		return fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}

	ev := database.Interaction{
		EventID:    uuid.New().String(),
		UserID:     userID,
		ItemID:     itemID,
		Kind:       kind,
		OccurredAt: s.now(),
	}
	if err := s.store.AppendInteraction(ctx, ev); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}

	s.publishInteraction(ctx, ev)
	return nil
}

// ReconcileSweep recomputes all counters from the relations of record,
// corrects drift and publishes a counter change per corrected item.
func (s *Service) ReconcileSweep(ctx context.Context) error {
	drifted, err := s.store.ReconcileCounts(ctx)
	if err != nil {
		metrics.ReconcileSweepRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	metrics.ReconcileSweepRuns.WithLabelValues("ok").Inc()
	metrics.ReconcileDriftCorrected.Add(float64(len(drifted)))

	for _, snap := range drifted {
		logging.Warn().
			Str("item_id", snap.ItemID).
			Int64("like_count", snap.LikeCount).
			Int64("repost_count", snap.RepostCount).
			Int64("revision", snap.Revision).
			Msg("Corrected drifted counters")
		s.publishCounter(ctx, &events.CounterChanged{
			ItemID:      snap.ItemID,
			LikeCount:   snap.LikeCount,
			RepostCount: snap.RepostCount,
			Revision:    snap.Revision,
			OccurredAt:  s.now(),
		})
	}
	return nil
}

// appendAndPublish records the interaction behind a committed toggle and
// fans out the counter change.
func (s *Service) appendAndPublish(ctx context.Context, userID string, result *database.ToggleResult) {
	kind := toggleEventKind(result.Kind, result.Active)
	ev := database.Interaction{
		EventID:    uuid.New().String(),
		UserID:     userID,
		ItemID:     result.ItemID,
		Kind:       kind,
		OccurredAt: s.now(),
	}
	if err := s.store.AppendInteraction(ctx, ev); err != nil {
		logging.Error().Err(err).Str("item_id", result.ItemID).Msg("Failed to append toggle interaction")
	}

	s.publishInteraction(ctx, ev)
	s.publishCounter(ctx, &events.CounterChanged{
		ItemID:      result.ItemID,
		LikeCount:   result.LikeCount,
		RepostCount: result.RepostCount,
		Revision:    result.Revision,
		OccurredAt:  s.now(),
	})
}

func (s *Service) publishInteraction(ctx context.Context, ev database.Interaction) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishInteraction(ctx, &events.InteractionEvent{
		EventID:    ev.EventID,
		UserID:     ev.UserID,
		ItemID:     ev.ItemID,
		Kind:       ev.Kind,
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		logging.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to publish interaction event")
	}
}

func (s *Service) publishCounter(ctx context.Context, c *events.CounterChanged) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishCounterChanged(ctx, c); err != nil {
		logging.Error().Err(err).Str("item_id", c.ItemID).Msg("Failed to publish counter change")
	}
}

// toggleEventKind maps a toggle outcome to its interaction event kind.
func toggleEventKind(kind string, active bool) string {
	switch {
	case kind == database.KindLike && active:
		return events.KindLike
	case kind == database.KindLike:
		return events.KindUnlike
	case active:
		return events.KindRepost
	default:
		return events.KindUnrepost
	}
}
