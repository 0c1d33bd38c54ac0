// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/pulsefeed/internal/logging"
)

// Registry resolves the active ranking parameters for one environment.
//
// The active RecoConfig row is read per call so an activation by another
// process takes effect on the next page; parsing is cached per version.
// When the read fails, the registry falls back to the last successfully
// parsed version so serving survives a database hiccup, and logs loudly
// because a stale config is an operational condition worth noticing.
type Registry struct {
	store       ConfigStore
	environment string

	mu            sync.RWMutex
	cached        *Params
	cachedVersion int64
}

// NewRegistry creates a registry for an environment.
func NewRegistry(store ConfigStore, environment string) *Registry {
	return &Registry{store: store, environment: environment}
}

// Bootstrap ensures the environment has an active config, inserting and
// activating the defaults on first start. Safe to call on every boot.
func (r *Registry) Bootstrap(ctx context.Context) error {
	if _, err := r.store.ActiveRecoConfig(ctx, r.environment); err == nil {
		return nil
	}

	raw, err := DefaultParams().JSON()
	if err != nil {
		return err
	}
	version, err := r.store.InsertRecoConfig(ctx, r.environment, raw)
	if err != nil {
		return fmt.Errorf("failed to insert bootstrap config: %w", err)
	}
	if err := r.store.ActivateRecoConfig(ctx, r.environment, version); err != nil {
		return fmt.Errorf("failed to activate bootstrap config: %w", err)
	}
	logging.Info().
		Str("environment", r.environment).
		Int64("version", version).
		Msg("Bootstrapped default ranking config")
	return nil
}

// Active returns the active parameters and their version.
func (r *Registry) Active(ctx context.Context) (*Params, int64, error) {
	row, err := r.store.ActiveRecoConfig(ctx, r.environment)
	if err != nil {
		r.mu.RLock()
		cached, version := r.cached, r.cachedVersion
		r.mu.RUnlock()
		if cached != nil {
			logging.Error().Err(err).
				Str("environment", r.environment).
				Int64("fallback_version", version).
				Msg("Active ranking config unreadable, serving last known good")
			return cached, version, nil
		}
		return nil, 0, fmt.Errorf("no active ranking config and no fallback: %w", err)
	}

	r.mu.RLock()
	if r.cached != nil && r.cachedVersion == row.Version {
		cached, version := r.cached, r.cachedVersion
		r.mu.RUnlock()
		return cached, version, nil
	}
	r.mu.RUnlock()

	params, err := ParseParams(row.ParamsJSON)
	if err != nil {
		r.mu.RLock()
		cached, version := r.cached, r.cachedVersion
		r.mu.RUnlock()
		if cached != nil {
			logging.Error().Err(err).
				Str("environment", r.environment).
				Int64("bad_version", row.Version).
				Int64("fallback_version", version).
				Msg("Active ranking config unparseable, serving last known good")
			return cached, version, nil
		}
		return nil, 0, err
	}

	r.mu.Lock()
	r.cached = params
	r.cachedVersion = row.Version
	r.mu.Unlock()

	return params, row.Version, nil
}

// Publish stores a new inactive config version and returns its number.
func (r *Registry) Publish(ctx context.Context, p *Params) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	raw, err := p.JSON()
	if err != nil {
		return 0, err
	}
	return r.store.InsertRecoConfig(ctx, r.environment, raw)
}

// Activate flips the active version atomically. Requests in flight finish
// with the version they resolved; new requests observe the new one.
func (r *Registry) Activate(ctx context.Context, version int64) error {
	if err := r.store.ActivateRecoConfig(ctx, r.environment, version); err != nil {
		return err
	}
	logging.Info().
		Str("environment", r.environment).
		Int64("version", version).
		Msg("Activated ranking config")
	return nil
}

// Environment returns the environment this registry serves.
func (r *Registry) Environment() string {
	return r.environment
}
