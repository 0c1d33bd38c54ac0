// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package database

import (
	"errors"
	"io"

	"github.com/tomtom215/pulsefeed/internal/logging"
)

var (
	// ErrItemNotFound is returned when an item does not exist or is hidden.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidKind is returned for an engagement kind that has no relation
	// of record (only "like" and "repost" are toggleable).
	ErrInvalidKind = errors.New("invalid engagement kind")

	// ErrConfigNotFound is returned when no RecoConfig row matches.
	ErrConfigNotFound = errors.New("reco config not found")

	// ErrConfigVersionExists is returned when inserting a RecoConfig version
	// that already exists for the environment.
	ErrConfigVersionExists = errors.New("reco config version already exists")
)

// closeWithLog closes a resource and logs any error.
// Use this for cleanup operations where errors should be acknowledged but not
// fail the operation.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error.
// Use this for cleanup operations in error paths where Close() errors are not
// actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // Explicitly ignore error - cleanup is best-effort
	}
}

// rollbackQuietly rolls back a transaction, tolerating the ErrTxDone that
// follows a successful commit.
func rollbackQuietly(tx interface{ Rollback() error }) {
	if tx == nil {
		return
	}
	_ = tx.Rollback()
}
