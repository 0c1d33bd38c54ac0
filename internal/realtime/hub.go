// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

// Package realtime fans engagement counter changes out to connected
// WebSocket clients. Each client declares the set of items currently on
// its screen; the hub delivers counter updates only to clients watching
// the affected item.
package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/pulsefeed/internal/events"
	"github.com/tomtom215/pulsefeed/internal/logging"
	"github.com/tomtom215/pulsefeed/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled indicates the parent context was canceled.
	// This is the normal graceful shutdown path (e.g., SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was exceeded.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication.
const (
	MessageTypeSubscribe     = "subscribe"
	MessageTypeCounterUpdate = "counter_update"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// MaxWatchedItems caps the visible set a single client may subscribe to.
// Feed pages are at most 50 items, so 100 covers two retained pages.
const MaxWatchedItems = 100

// Message represents a WebSocket message.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscribeData is the payload of a client subscribe message: the item
// IDs currently visible on the client's screen. Each subscribe replaces
// the previous watch set entirely.
type SubscribeData struct {
	ItemIDs []string `json:"item_ids"`
}

// CounterUpdateData is the payload delivered to watchers when an item's
// engagement counters change.
type CounterUpdateData struct {
	ItemID      string `json:"item_id"`
	LikeCount   int64  `json:"like_count"`
	RepostCount int64  `json:"repost_count"`
	Revision    int64  `json:"revision"`
}

// Hub maintains the set of active clients and routes counter updates to
// the clients watching each item.
type Hub struct {
	clients    map[*Client]bool
	dispatch   chan events.CounterChanged
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		dispatch:   make(chan events.CounterChanged, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext starts the hub with context support for graceful
// shutdown. Designed for use under suture supervision: on context
// cancellation all connected clients are closed and ctx.Err() is
// returned, so a supervisor restart never leaves orphaned connections.
//
// DETERMINISM: Uses priority-based selection to ensure predictable behavior:
// - Priority 1: Context cancellation (shutdown)
// - Priority 2: Client lifecycle events (Register/Unregister)
// - Priority 3: Counter update dispatch
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: Check for shutdown (highest priority, non-blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: Handle client lifecycle events (non-blocking check)
		select {
		case client := <-h.Register:
			h.registerClient(client)
			continue
		case client := <-h.Unregister:
			h.unregisterClient(client)
			continue
		default:
			// No lifecycle events pending
		}

		// Priority 3: Handle dispatch or wait for any event (blocking)
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.Unregister:
			h.unregisterClient(client)

		case change := <-h.dispatch:
			h.deliverCounterUpdate(change)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	metrics.WebSocketConnections.Inc()
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		metrics.WebSocketConnections.Dec()
	}
	total := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// Dispatch queues a counter change for delivery to watchers. Non-blocking:
// when the dispatch buffer is full the change is dropped, and the periodic
// reconciliation sweep covers the lost notification.
func (h *Hub) Dispatch(change events.CounterChanged) {
	select {
	case h.dispatch <- change:
	default:
		metrics.WebSocketMessagesDropped.Inc()
		logging.Warn().Str("item_id", change.ItemID).Msg("dispatch channel full, dropping counter update")
	}
}

// deliverCounterUpdate sends the update to every client watching the item.
//
// DETERMINISM: Clients are sorted by ID so delivery order is consistent
// across runs, which keeps tests reproducible and acknowledgment sequences
// predictable.
func (h *Hub) deliverCounterUpdate(change events.CounterChanged) {
	message := Message{
		Type: MessageTypeCounterUpdate,
		Data: CounterUpdateData{
			ItemID:      change.ItemID,
			LikeCount:   change.LikeCount,
			RepostCount: change.RepostCount,
			Revision:    change.Revision,
		},
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.Watching(change.ItemID) {
			clients = append(clients, client)
		}
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	// Track clients to remove (can't modify map during iteration)
	var toRemove []*Client

	for _, client := range clients {
		select {
		case client.send <- message:
			metrics.WebSocketMessagesSent.WithLabelValues(MessageTypeCounterUpdate).Inc()
		default:
			// Channel full, client is not draining; mark for removal
			metrics.WebSocketMessagesDropped.Inc()
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
		metrics.WebSocketConnections.Dec()
	}
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	reason := getShutdownReason(ctx)

	// Context cancellation is expected behavior during graceful shutdown,
	// so the context error is not logged as an error field.
	logging.Info().
		Str("component", "realtime-hub").
		Str("reason", string(reason)).
		Int("clients_closed", clientCount).
		Msg("realtime hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients gracefully closes all connected WebSocket clients.
// DETERMINISM: Closes clients in ID order for consistent shutdown behavior.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
		metrics.WebSocketConnections.Dec()
	}
	logging.Info().Msg("closed all realtime clients during shutdown")
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
