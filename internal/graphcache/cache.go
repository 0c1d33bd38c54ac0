// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package graphcache holds social-graph proximity weights in a local
// BadgerDB so the scorer reads them without touching the analytical store.
// The graph is produced out-of-band; this cache is refreshed from the
// database mirror and read-mostly.
package graphcache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/pulsefeed/internal/logging"
)

// EdgeSource streams proximity edges for a bulk load.
type EdgeSource interface {
	LoadGraphEdges(ctx context.Context, fn func(userA, userB string, weight float64) error) error
}

// Cache is a badger-backed proximity lookup.
type Cache struct {
	db *badger.DB
}

// Open creates or opens the cache at path. An empty path opens an
// in-memory instance (tests, ephemeral deployments).
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open graph cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Proximity returns the cached weight between two users. A missing edge
// reads as zero; proximity is an optional signal, never an error.
func (c *Cache) Proximity(userA, userB string) float64 {
	var weight float64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(edgeKey(userA, userB))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt edge value: %d bytes", len(val))
			}
			weight = math.Float64frombits(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			logging.Warn().Err(err).Msg("Graph cache read failed")
		}
		return 0
	}
	return weight
}

// Put stores one edge weight.
func (c *Cache) Put(userA, userB string, weight float64) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(edgeKey(userA, userB), encodeWeight(weight))
	})
}

// Refresh bulk-loads edges from the source, replacing stale weights in
// place. Readers observe old or new weights per edge, which is acceptable
// for an advisory signal.
func (c *Cache) Refresh(ctx context.Context, src EdgeSource) error {
	start := time.Now()
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	edges := 0
	err := src.LoadGraphEdges(ctx, func(userA, userB string, weight float64) error {
		edges++
		return wb.Set(edgeKey(userA, userB), encodeWeight(weight))
	})
	if err != nil {
		return fmt.Errorf("refresh graph cache: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush graph cache: %w", err)
	}

	logging.Info().
		Int("edges", edges).
		Dur("elapsed", time.Since(start)).
		Msg("Graph cache refreshed")
	return nil
}

func edgeKey(userA, userB string) []byte {
	return []byte(userA + "|" + userB)
}

func encodeWeight(weight float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(weight))
	return buf
}
