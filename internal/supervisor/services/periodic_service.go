// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package services

import (
	"context"
	"time"

	"github.com/tomtom215/pulsefeed/internal/logging"
	"github.com/tomtom215/pulsefeed/internal/metrics"
)

// PeriodicService runs a job on a fixed interval under supervision. Job
// errors are logged and recorded but do not stop the service; persistent
// failure shows up in the job metrics rather than as restart churn.
//
// The ranking maintenance jobs all run this way: aggregate refresh,
// impression pruning, counter reconciliation sweeps, and graph cache
// refresh.
type PeriodicService struct {
	name       string
	interval   time.Duration
	job        func(ctx context.Context) error
	runAtStart bool
}

// NewPeriodicService wraps job to run every interval. When runAtStart is
// true the job also runs once immediately, before the first tick.
func NewPeriodicService(name string, interval time.Duration, runAtStart bool, job func(ctx context.Context) error) *PeriodicService {
	return &PeriodicService{
		name:       name,
		interval:   interval,
		job:        job,
		runAtStart: runAtStart,
	}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	if p.runAtStart {
		p.runOnce(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *PeriodicService) runOnce(ctx context.Context) {
	start := time.Now()
	err := p.job(ctx)
	metrics.ObserveJob(p.name, err, time.Since(start))

	if err != nil && ctx.Err() == nil {
		logging.Warn().Err(err).Str("job", p.name).Msg("Periodic job failed")
	}
}

func (p *PeriodicService) String() string { return p.name }
