// Copyright (C) 2025 Meridian Ops (engineering@meridianops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// clientBufferSize is the per-client send queue depth. A client that falls
// this far behind starts dropping events rather than stalling the hub.
const clientBufferSize = 64

// Hub broadcasts learning events to connected WebSocket observers.
//
// Description:
//
//	The hub implements Sink. Publish never blocks: each client has a
//	bounded send queue and slow clients silently lose events. Observers are
//	strictly read-only; inbound frames are consumed and discarded.
//
// Thread Safety: Safe for concurrent use.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type hubClient struct {
	conn *websocket.Conn
	send chan Event
}

// NewHub creates a hub with no connected clients.
//
// Inputs:
//
//	logger - Logger instance. Uses slog.Default() if nil.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With(slog.String("component", "event_hub")),
	}
}

// Publish broadcasts an event to all connected clients.
//
// Never blocks; events to slow clients are dropped.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Slow client; drop rather than stall the learning path.
		}
	}
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket and streams events until
// the client disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &hubClient{conn: conn, send: make(chan Event, clientBufferSize)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

// Close disconnects all clients and rejects future connections.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			h.logger.Debug("websocket write failed, dropping client",
				slog.String("error", err.Error()))
			break
		}
	}
	_ = c.conn.Close()
}

// readLoop consumes and discards inbound frames so pings and close frames
// are processed; returning unregisters the client.
func (h *Hub) readLoop(c *hubClient) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
