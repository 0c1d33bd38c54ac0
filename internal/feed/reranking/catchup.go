// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package reranking

import (
	"github.com/tomtom215/pulsefeed/internal/feed"
)

// FollowCatchUp guarantees followed authors periodic visibility: every
// catch-up interval of slots, if no followed-author item appeared within the
// last interval, the next followed item meeting the quality floor is pulled
// up into that slot.
//
// Runs after AuthorSpacing; the pull-up preserves the relative order of
// everything it moves past.
type FollowCatchUp struct{}

// NewFollowCatchUp creates the catch-up reranker.
func NewFollowCatchUp() *FollowCatchUp {
	return &FollowCatchUp{}
}

// Name returns the reranker identifier.
func (f *FollowCatchUp) Name() string {
	return "follow_catchup"
}

// Rerank applies catch-up interleaving on a copy of the input.
func (f *FollowCatchUp) Rerank(items []feed.ScoredItem, p *feed.Params) []feed.ScoredItem {
	interval := p.CatchUpInterval
	if interval <= 0 || len(items) == 0 {
		return items
	}

	out := make([]feed.ScoredItem, len(items))
	copy(out, items)

	sinceFollowed := 0
	for i := range out {
		if out[i].Followed {
			sinceFollowed = 0
			continue
		}
		sinceFollowed++
		if sinceFollowed < interval {
			continue
		}

		// Interval elapsed without a followed author: pull up the next
		// followed item that clears the quality floor. If none remains,
		// the page stands as assembled.
		for j := i + 1; j < len(out); j++ {
			if out[j].Followed && out[j].Quality >= p.QualityFloor {
				pullUp(out, j, i)
				sinceFollowed = 0
				break
			}
		}
	}
	return out
}

// pullUp moves the item at from to position to, shifting the slice right by
// one between them.
func pullUp(items []feed.ScoredItem, from, to int) {
	item := items[from]
	copy(items[to+1:from+1], items[to:from])
	items[to] = item
}
