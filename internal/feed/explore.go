// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package feed

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/tomtom215/pulsefeed/internal/database"
)

// Explorer selects exploration slots by Thompson Sampling.
//
// Each candidate's arm is modeled as Beta(1+successes, 3+failures) - the
// asymmetric prior keeps unproven items humble without burying them. One
// sample is drawn per candidate per page and the highest draws win the
// explore slots, so uncertain arms get traffic in proportion to their
// plausibility rather than their point estimate.
type Explorer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewExplorer creates an explorer seeded for reproducibility in tests and
// debugging. Production passes time-derived seeds.
func NewExplorer(seed int64) *Explorer {
	return &Explorer{rng: rand.New(rand.NewSource(seed))} //nolint:gosec // sampling, not crypto
}

// Pick selects up to n items from the pool by sampled score. stats carries
// the arm counters; a missing arm samples from the prior. Items that have
// never been served receive the novelty bonus on top of their draw.
// The input pool is not modified.
func (e *Explorer) Pick(pool []ScoredItem, stats map[string]database.ArmStat, noveltyBonus float64, n int) []ScoredItem {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}

	type draw struct {
		item  ScoredItem
		theta float64
	}
	draws := make([]draw, 0, len(pool))

	e.mu.Lock()
	for _, item := range pool {
		stat := stats[item.ItemID]
		theta := e.sampleBeta(1+float64(stat.Successes), 3+float64(stat.Failures))
		if item.ImpressionCount == 0 {
			theta += noveltyBonus
		}
		draws = append(draws, draw{item: item, theta: theta})
	}
	e.mu.Unlock()

	sort.SliceStable(draws, func(i, j int) bool {
		return draws[i].theta > draws[j].theta
	})

	out := make([]ScoredItem, 0, n)
	for i := 0; i < n; i++ {
		item := draws[i].item
		item.Explore = true
		item.Reasons = append(item.Reasons, Reason{Signal: "explore", Weight: draws[i].theta})
		out = append(out, item)
	}
	return out
}

// ExploreSlots returns the number of page slots given to exploration for a
// page of the given size: round(curiosity_ratio * limit).
func ExploreSlots(p *Params, limit int) int {
	return int(math.Round(p.CuriosityRatio * float64(limit)))
}

// sampleBeta draws from Beta(a, b) as Ga/(Ga+Gb). Caller holds e.mu.
func (e *Explorer) sampleBeta(a, b float64) float64 {
	x := e.sampleGamma(a)
	y := e.sampleGamma(b)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws from Gamma(shape, 1) using the Marsaglia-Tsang squeeze
// method. Shapes below one are boosted via Gamma(shape+1) * U^(1/shape).
// Caller holds e.mu.
func (e *Explorer) sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := e.rng.Float64()
		for u == 0 {
			u = e.rng.Float64()
		}
		return e.sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := e.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := e.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
