// Pulsefeed - Feed Ranking and Engagement Synchronization Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pulsefeed

package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/pulsefeed/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024 // subscribe payloads are small; 16 KB is generous
)

// clientIDCounter generates unique, monotonically increasing IDs for clients.
// DETERMINISM: This ensures clients can be sorted in a consistent order for
// fanout operations, eliminating non-deterministic map iteration order.
var clientIDCounter atomic.Uint64

// Client is a middleman between the websocket connection and the hub.
// It tracks the set of items the remote end currently has on screen.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	watchMu sync.RWMutex
	watch   map[string]struct{}
}

// NewClient creates a new Client with a unique deterministic ID.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:    clientIDCounter.Add(1),
		hub:   hub,
		conn:  conn,
		send:  make(chan Message, 256),
		watch: make(map[string]struct{}),
	}
}

// ID returns the client's unique identifier for deterministic ordering.
func (c *Client) ID() uint64 {
	return c.id
}

// Watching reports whether the client's current visible set includes itemID.
func (c *Client) Watching(itemID string) bool {
	c.watchMu.RLock()
	defer c.watchMu.RUnlock()
	_, ok := c.watch[itemID]
	return ok
}

// WatchCount returns the size of the client's current visible set.
func (c *Client) WatchCount() int {
	c.watchMu.RLock()
	defer c.watchMu.RUnlock()
	return len(c.watch)
}

// setWatch replaces the visible set. Item IDs beyond MaxWatchedItems are
// dropped rather than rejecting the whole subscription.
func (c *Client) setWatch(itemIDs []string) {
	if len(itemIDs) > MaxWatchedItems {
		logging.Warn().
			Uint64("client_id", c.id).
			Int("requested", len(itemIDs)).
			Int("cap", MaxWatchedItems).
			Msg("subscribe exceeds watch cap, truncating")
		itemIDs = itemIDs[:MaxWatchedItems]
	}

	next := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if id == "" {
			continue
		}
		next[id] = struct{}{}
	}

	c.watchMu.Lock()
	c.watch = next
	c.watchMu.Unlock()
}

// readPump pumps messages from the websocket connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			break
		}

		switch msg.Type {
		case MessageTypeSubscribe:
			c.handleSubscribe(msg.Data)

		case MessageTypePing:
			pong := Message{Type: MessageTypePong}
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

func (c *Client) handleSubscribe(data interface{}) {
	// Data arrives as the generic decode of the JSON payload; round-trip
	// through the codec to get the typed form.
	raw, err := json.Marshal(data)
	if err != nil {
		logging.Warn().Err(err).Uint64("client_id", c.id).Msg("unreadable subscribe payload")
		return
	}
	var sub SubscribeData
	if err := json.Unmarshal(raw, &sub); err != nil {
		logging.Warn().Err(err).Uint64("client_id", c.id).Msg("malformed subscribe payload")
		return
	}
	c.setWatch(sub.ItemIDs)
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Explicitly ignore error - best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
