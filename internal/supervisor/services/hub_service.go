// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package services

import (
	"context"
	"time"
)

// ContextRunner matches the realtime hub's RunWithContext method.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the websocket hub event loop under supervision.
type HubService struct {
	runner ContextRunner
}

// NewHubService wraps the realtime hub.
func NewHubService(runner ContextRunner) *HubService {
	return &HubService{runner: runner}
}

// Serve implements suture.Service.
func (h *HubService) Serve(ctx context.Context) error {
	return h.runner.RunWithContext(ctx)
}

func (h *HubService) String() string { return "realtime-hub" }

// LimiterCleaner matches engage.ToggleLimiter's RunCleanup method.
type LimiterCleaner interface {
	RunCleanup(ctx context.Context, interval, maxIdle time.Duration)
}

// LimiterCleanupService periodically evicts idle per-pair toggle limiters
// so the keyed limiter map does not grow without bound.
type LimiterCleanupService struct {
	limiter  LimiterCleaner
	interval time.Duration
	maxIdle  time.Duration
}

// NewLimiterCleanupService wraps a toggle limiter's cleanup loop.
func NewLimiterCleanupService(limiter LimiterCleaner, interval, maxIdle time.Duration) *LimiterCleanupService {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if maxIdle <= 0 {
		maxIdle = time.Hour
	}
	return &LimiterCleanupService{limiter: limiter, interval: interval, maxIdle: maxIdle}
}

// Serve implements suture.Service.
func (s *LimiterCleanupService) Serve(ctx context.Context) error {
	s.limiter.RunCleanup(ctx, s.interval, s.maxIdle)
	return ctx.Err()
}

func (s *LimiterCleanupService) String() string { return "toggle-limiter-cleanup" }
