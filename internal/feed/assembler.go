// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/pulsefeed/internal/database"
	"github.com/tomtom215/pulsefeed/internal/metrics"
)

// MaxPageLimit bounds the page size a client may request.
const MaxPageLimit = 50

// Engine assembles feed pages: candidate generation, scoring, exploration,
// diversity reranking, impression recording, cursor construction.
type Engine struct {
	store     Store
	registry  *Registry
	scorer    *Scorer
	explorer  *Explorer
	rerankers []Reranker
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRerankers sets the reranker chain, applied in order.
func WithRerankers(rk ...Reranker) Option {
	return func(e *Engine) { e.rerankers = rk }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a feed engine.
func NewEngine(store Store, registry *Registry, scorer *Scorer, explorer *Explorer, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		scorer:   scorer,
		explorer: explorer,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BuildPage assembles one feed page for a user. An exhausted pool yields an
// empty page with a nil error. The cursor, when present, is the opaque
// pagination token from a previous page.
func (e *Engine) BuildPage(ctx context.Context, userID, cursor string, limit int) (*Page, error) {
	start := time.Now()
	page, err := e.buildPage(ctx, userID, cursor, limit)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FeedRequestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return page, err
}

func (e *Engine) buildPage(ctx context.Context, userID, cursor string, limit int) (*Page, error) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	params, _, err := e.registry.Active(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	query := database.CandidateQuery{
		UserID:            userID,
		Now:               now,
		Lookback:          time.Duration(params.LookbackHours) * time.Hour,
		SuppressionWindow: time.Duration(params.SuppressionWindowHours) * time.Hour,
		PoolCap:           params.PoolCap,
	}
	if cursor != "" {
		before, _, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query.Before = before
	}

	candidates, err := e.store.RecentCandidates(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("candidate generation failed: %w", err)
	}
	metrics.FeedCandidatePoolSize.Observe(float64(len(candidates)))

	pageID := uuid.New().String()
	if len(candidates) == 0 {
		metrics.FeedEmptyPages.Inc()
		return &Page{PageID: pageID, Items: []ScoredItem{}}, nil
	}

	kindCounts, err := e.store.KindCountsSince(ctx, now.Add(-query.Lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to load interaction counts: %w", err)
	}

	pool := make([]ScoredItem, 0, len(candidates))
	for _, c := range candidates {
		pool = append(pool, e.scorer.Score(userID, c, kindCounts[c.ItemID], params, now))
	}
	sortByScore(pool)

	exploreSlots := ExploreSlots(params, limit)
	exploitSlots := limit - exploreSlots
	if exploitSlots > len(pool) {
		exploitSlots = len(pool)
	}
	exploit := pool[:exploitSlots]
	remainder := pool[exploitSlots:]

	var explore []ScoredItem
	if exploreSlots > 0 && len(remainder) > 0 {
		ids := make([]string, 0, len(remainder))
		for _, item := range remainder {
			ids = append(ids, item.ItemID)
		}
		stats, err := e.store.ArmStats(ctx, database.ArmEntityItem, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to load arm stats: %w", err)
		}
		explore = e.explorer.Pick(remainder, stats, params.NoveltyBonus, exploreSlots)
	}

	items := interleave(exploit, explore, params)
	for _, r := range e.rerankers {
		items = r.Rerank(items, params)
	}
	if len(items) > limit {
		items = items[:limit]
	}

	metrics.FeedExploreSlots.WithLabelValues("exploit").Add(float64(countExploit(items)))
	metrics.FeedExploreSlots.WithLabelValues("explore").Add(float64(len(items) - countExploit(items)))

	imps := make([]database.Impression, 0, len(items))
	for _, item := range items {
		imps = append(imps, database.Impression{
			UserID:   userID,
			ItemID:   item.ItemID,
			PageID:   pageID,
			ServedAt: now,
		})
	}
	if err := e.store.AppendImpressions(ctx, imps); err != nil {
		return nil, fmt.Errorf("failed to record impressions: %w", err)
	}

	return &Page{
		PageID:     pageID,
		Items:      items,
		NextCursor: nextCursor(items),
	}, nil
}

// sortByScore orders by score descending with deterministic tie-breaks
// (newer first, then ID).
func sortByScore(items []ScoredItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ItemID < items[j].ItemID
	})
}

// interleave spreads explore items evenly through the exploit ranking while
// holding the explore cap over the first ten positions. When the exploit
// side is exhausted the cap yields rather than shortening the page.
func interleave(exploit, explore []ScoredItem, p *Params) []ScoredItem {
	if len(explore) == 0 {
		return exploit
	}

	total := len(exploit) + len(explore)
	step := total / (len(explore) + 1)
	if step < 1 {
		step = 1
	}

	out := make([]ScoredItem, 0, total)
	ei, xi, exploreInTop10 := 0, 0, 0

	for len(out) < total {
		pos := len(out)
		wantExplore := xi < len(explore) && (ei >= len(exploit) || (pos+1)%(step+1) == 0)
		if wantExplore && pos < 10 && exploreInTop10 >= p.ExploreTopCap && ei < len(exploit) {
			wantExplore = false
		}
		if wantExplore {
			out = append(out, explore[xi])
			xi++
			if pos < 10 {
				exploreInTop10++
			}
		} else if ei < len(exploit) {
			out = append(out, exploit[ei])
			ei++
		} else {
			out = append(out, explore[xi])
			xi++
			if pos < 10 {
				exploreInTop10++
			}
		}
	}
	return out
}

func countExploit(items []ScoredItem) int {
	n := 0
	for _, item := range items {
		if !item.Explore {
			n++
		}
	}
	return n
}

// nextCursor encodes the oldest item on the page; the next request uses it
// as the created_at upper bound. Impressions suppress re-serving anything
// already shown, so newer unserved items surface on refresh instead.
func nextCursor(items []ScoredItem) string {
	if len(items) == 0 {
		return ""
	}
	oldest := items[0]
	for _, item := range items[1:] {
		if item.CreatedAt.Before(oldest.CreatedAt) {
			oldest = item
		}
	}
	return EncodeCursor(oldest.CreatedAt, oldest.ItemID)
}
