// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package feed

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/pulsefeed/internal/database"
)

// Reason is one interpretable component of an item's score, in the order
// the signals were combined.
type Reason struct {
	Signal string  `json:"signal"`
	Weight float64 `json:"weight"`
}

// ScoredItem is a candidate with its final score and explanation.
type ScoredItem struct {
	ItemID          string    `json:"id"`
	AuthorID        string    `json:"author_id"`
	CreatedAt       time.Time `json:"created_at"`
	LikeCount       int64     `json:"like_count"`
	RepostCount     int64     `json:"repost_count"`
	ReplyCount      int64     `json:"reply_count"`
	Followed        bool      `json:"-"`
	ImpressionCount int64     `json:"-"`

	Score   float64  `json:"score"`
	Quality float64  `json:"-"`
	Reasons []Reason `json:"reasons,omitempty"`

	// Explore marks items placed by the Thompson Sampling explorer rather
	// than by exploitation score.
	Explore bool `json:"explore"`
}

// Page is one assembled feed page. An empty Items slice with a nil error is
// a valid result (exhausted or suppressed pool).
type Page struct {
	PageID     string       `json:"page_id"`
	Items      []ScoredItem `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// Store is the persistence surface the engine reads and writes.
// *database.DB satisfies it; tests supply hand-rolled fakes.
type Store interface {
	RecentCandidates(ctx context.Context, q database.CandidateQuery) ([]database.Candidate, error)
	KindCountsSince(ctx context.Context, since time.Time) (map[string]map[string]int64, error)
	ArmStats(ctx context.Context, entityType string, entityIDs []string) (map[string]database.ArmStat, error)
	AppendImpressions(ctx context.Context, imps []database.Impression) error
}

// ConfigStore is the RecoConfig registry's persistence surface.
type ConfigStore interface {
	ActiveRecoConfig(ctx context.Context, environment string) (*database.RecoConfigRow, error)
	InsertRecoConfig(ctx context.Context, environment, paramsJSON string) (int64, error)
	ActivateRecoConfig(ctx context.Context, environment string, version int64) error
}

// ProximitySource supplies social-graph proximity weights. A missing edge
// reads as zero.
type ProximitySource interface {
	Proximity(userA, userB string) float64
}

// SimilaritySource supplies content similarity between a user's taste and an
// item. The default implementation returns zero for everything; the scoring
// formula keeps the slot so a model can be plugged in without changes here.
type SimilaritySource interface {
	Similarity(userID, itemID string) float64
}

// Reranker rewrites the order of an assembled page.
type Reranker interface {
	Name() string
	Rerank(items []ScoredItem, p *Params) []ScoredItem
}

// zeroProximity and zeroSimilarity are the defaults when no source is wired.
type zeroProximity struct{}

func (zeroProximity) Proximity(_, _ string) float64 { return 0 }

type zeroSimilarity struct{}

func (zeroSimilarity) Similarity(_, _ string) float64 { return 0 }

// EncodeCursor builds the opaque pagination cursor from the last item of a
// page: base64 of "<created_at unix micros>|<item id>".
func EncodeCursor(createdAt time.Time, itemID string) string {
	raw := strconv.FormatInt(createdAt.UnixMicro(), 10) + "|" + itemID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a cursor back into its created_at bound. A malformed
// cursor is an error; callers translate it to a bad-request response.
func DecodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("malformed cursor: missing separator")
	}
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("malformed cursor timestamp: %w", err)
	}
	return time.UnixMicro(micros).UTC(), parts[1], nil
}
