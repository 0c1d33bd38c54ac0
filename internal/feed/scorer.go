// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package feed

import (
	"math"
	"time"

	"github.com/tomtom215/pulsefeed/internal/database"
)

// Scorer combines the ranking signals into a single score:
//
//	freshness = exp(-age_hours / tau)
//	quality   = sum over kinds of weight_k * count_k
//	relation  = follow_boost + graph proximity
//	score     = freshness * (alpha*quality + beta*relation + gamma*similarity)
//
// A missing signal contributes zero, never an error: an item with no
// engagement history still ranks on freshness and relation alone.
type Scorer struct {
	proximity  ProximitySource
	similarity SimilaritySource
}

// NewScorer creates a scorer with the given signal sources. Nil sources
// default to zero contribution.
func NewScorer(proximity ProximitySource, similarity SimilaritySource) *Scorer {
	if proximity == nil {
		proximity = zeroProximity{}
	}
	if similarity == nil {
		similarity = zeroSimilarity{}
	}
	return &Scorer{proximity: proximity, similarity: similarity}
}

// Score ranks one candidate for one user at one instant. kindCounts carries
// the per-kind interaction totals for the item; nil means no interactions.
func (s *Scorer) Score(userID string, c database.Candidate, kindCounts map[string]int64, p *Params, now time.Time) ScoredItem {
	ageHours := now.Sub(c.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	freshness := math.Exp(-ageHours / p.TauHours)

	quality := s.quality(c, kindCounts, p)

	relation := s.proximity.Proximity(userID, c.AuthorID)
	if c.Followed {
		relation += p.FollowBoost
	}

	similarity := s.similarity.Similarity(userID, c.ItemID)

	score := freshness * (p.Alpha*quality + p.Beta*relation + p.Gamma*similarity)

	return ScoredItem{
		ItemID:          c.ItemID,
		AuthorID:        c.AuthorID,
		CreatedAt:       c.CreatedAt,
		LikeCount:       c.LikeCount,
		RepostCount:     c.RepostCount,
		ReplyCount:      c.ReplyCount,
		Followed:        c.Followed,
		ImpressionCount: c.ImpressionCount,
		Score:           score,
		Quality:         quality,
		Reasons: []Reason{
			{Signal: "freshness", Weight: freshness},
			{Signal: "quality", Weight: p.Alpha * quality},
			{Signal: "relation", Weight: p.Beta * relation},
			{Signal: "similarity", Weight: p.Gamma * similarity},
		},
	}
}

// quality folds the weighted interaction counts. The toggleable kinds read
// from the snapshot columns (the relations of record); the event log would
// double-count them because toggles also append like/unlike events.
func (s *Scorer) quality(c database.Candidate, kindCounts map[string]int64, p *Params) float64 {
	q := p.QualityWeights["like"]*float64(c.LikeCount) +
		p.QualityWeights["repost"]*float64(c.RepostCount) +
		p.QualityWeights["comment"]*float64(c.ReplyCount)

	for kind, cnt := range kindCounts {
		switch kind {
		case "like", "unlike", "repost", "comment":
			continue
		}
		q += p.QualityWeights[kind] * float64(cnt)
	}
	return q
}
