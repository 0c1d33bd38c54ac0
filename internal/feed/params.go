// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package feed

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Params is one versioned ranking parameter document - the payload of a
// RecoConfig row. Instances are parsed once per version and treated as
// immutable afterwards; a parameter change is a new version.
type Params struct {
	// TauHours is the freshness decay constant: freshness = exp(-age/tau).
	TauHours float64 `json:"tau_hours"`

	// Alpha, Beta and Gamma weight quality, relation and similarity inside
	// the combined score.
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`

	// QualityWeights maps interaction kinds to their contribution to the
	// quality signal. Negative weights demote (hide, mute, block).
	QualityWeights map[string]float64 `json:"quality_weights"`

	// FollowBoost is added to the relation signal for followed authors.
	FollowBoost float64 `json:"follow_boost"`

	// CuriosityRatio is the fraction of page slots given to exploration.
	CuriosityRatio float64 `json:"curiosity_ratio"`

	// ExploreTopCap bounds explore items within the first ten positions.
	ExploreTopCap int `json:"explore_top_cap"`

	// NoveltyBonus is added to the sampled explore score of items that have
	// never been served.
	NoveltyBonus float64 `json:"novelty_bonus"`

	// AuthorWindow is the minimum spacing between items by the same author.
	AuthorWindow int `json:"author_window"`

	// CatchUpInterval forces a followed-author item every N slots.
	CatchUpInterval int `json:"catch_up_interval"`

	// QualityFloor is the minimum quality for catch-up placement.
	QualityFloor float64 `json:"quality_floor"`

	// SuppressionWindowHours hides items the user already saw this recently.
	SuppressionWindowHours int `json:"suppression_window_hours"`

	// LookbackHours bounds candidate generation by item age.
	LookbackHours int `json:"lookback_hours"`

	// PoolCap bounds the candidate pool size.
	PoolCap int `json:"pool_cap"`
}

// DefaultParams returns the production baseline parameters.
func DefaultParams() *Params {
	return &Params{
		TauHours: 12,
		Alpha:    1.0,
		Beta:     1.0,
		Gamma:    1.0,
		QualityWeights: map[string]float64{
			"like":              1.0,
			"comment":           2.0,
			"repost":            1.5,
			"expand":            0.25,
			"profile_visit":     0.5,
			"follow_after_view": 3.0,
			"hide":              -2.0,
			"mute":              -4.0,
			"block":             -8.0,
		},
		FollowBoost:            1.0,
		CuriosityRatio:         0.12,
		ExploreTopCap:          3,
		NoveltyBonus:           0.1,
		AuthorWindow:           5,
		CatchUpInterval:        12,
		QualityFloor:           0.5,
		SuppressionWindowHours: 7 * 24,
		LookbackHours:          48,
		PoolCap:                5000,
	}
}

// ParseParams decodes and validates a parameter document.
func ParseParams(paramsJSON string) (*Params, error) {
	p := DefaultParams()
	if err := json.Unmarshal([]byte(paramsJSON), p); err != nil {
		return nil, fmt.Errorf("failed to parse ranking params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks parameter sanity.
func (p *Params) Validate() error {
	if p.TauHours <= 0 {
		return fmt.Errorf("tau_hours must be positive, got %v", p.TauHours)
	}
	if p.CuriosityRatio < 0 || p.CuriosityRatio > 1 {
		return fmt.Errorf("curiosity_ratio must be in [0,1], got %v", p.CuriosityRatio)
	}
	if p.ExploreTopCap < 0 {
		return fmt.Errorf("explore_top_cap must be non-negative, got %d", p.ExploreTopCap)
	}
	if p.AuthorWindow < 1 {
		return fmt.Errorf("author_window must be at least 1, got %d", p.AuthorWindow)
	}
	if p.CatchUpInterval < 1 {
		return fmt.Errorf("catch_up_interval must be at least 1, got %d", p.CatchUpInterval)
	}
	if p.SuppressionWindowHours < 0 {
		return fmt.Errorf("suppression_window_hours must be non-negative, got %d", p.SuppressionWindowHours)
	}
	if p.LookbackHours <= 0 {
		return fmt.Errorf("lookback_hours must be positive, got %d", p.LookbackHours)
	}
	if p.PoolCap <= 0 {
		return fmt.Errorf("pool_cap must be positive, got %d", p.PoolCap)
	}
	return nil
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	out := *p
	out.QualityWeights = make(map[string]float64, len(p.QualityWeights))
	for k, v := range p.QualityWeights {
		out.QualityWeights[k] = v
	}
	return &out
}

// JSON serializes the parameters for storage in the config registry.
func (p *Params) JSON() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to serialize ranking params: %w", err)
	}
	return string(raw), nil
}
