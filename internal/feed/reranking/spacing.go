// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package reranking implements post-processing passes that rewrite the
// order of an assembled feed page for diversity and interleaving.
package reranking

import (
	"github.com/tomtom215/pulsefeed/internal/feed"
)

// AuthorSpacing enforces a minimum distance between items by the same
// author: no two items by one author within the spacing window.
//
// The pass walks the page top to bottom. When an item would violate the
// window, it is swapped forward with the next item that satisfies it. When
// no eligible item remains in the tail, the violation is allowed and the
// page is kept whole - a deterministic fallback that never shortens the
// page a user was about to see.
type AuthorSpacing struct{}

// NewAuthorSpacing creates the spacing reranker.
func NewAuthorSpacing() *AuthorSpacing {
	return &AuthorSpacing{}
}

// Name returns the reranker identifier.
func (a *AuthorSpacing) Name() string {
	return "author_spacing"
}

// Rerank applies author spacing in place on a copy of the input.
func (a *AuthorSpacing) Rerank(items []feed.ScoredItem, p *feed.Params) []feed.ScoredItem {
	window := p.AuthorWindow
	if window <= 1 || len(items) < 2 {
		return items
	}

	out := make([]feed.ScoredItem, len(items))
	copy(out, items)

	for i := range out {
		if !violates(out, i, window) {
			continue
		}
		// Swap forward with the next candidate whose author keeps the
		// window intact at this position. When the tail is exhausted the
		// violation stands and the page stays whole.
		for j := i + 1; j < len(out); j++ {
			if !wouldViolate(out, i, out[j].AuthorID, window) {
				out[i], out[j] = out[j], out[i]
				break
			}
		}
	}
	return out
}

// violates reports whether the item at position i repeats an author seen
// within the preceding window.
func violates(items []feed.ScoredItem, i, window int) bool {
	return wouldViolate(items, i, items[i].AuthorID, window)
}

// wouldViolate reports whether placing author at position i would repeat an
// author within the preceding window.
func wouldViolate(items []feed.ScoredItem, i int, author string, window int) bool {
	lo := i - (window - 1)
	if lo < 0 {
		lo = 0
	}
	for j := lo; j < i; j++ {
		if items[j].AuthorID == author {
			return true
		}
	}
	return false
}
