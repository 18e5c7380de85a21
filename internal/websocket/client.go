// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/starcatalog/internal/broadcast"
	"github.com/tomtom215/starcatalog/internal/logging"
	"github.com/tomtom215/starcatalog/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Message types
const (
	MessageTypeLog    = "log"
	MessageTypePing   = "ping"
	MessageTypePong   = "pong"
	MessageTypeClosed = "closed"
)

// Message is the JSON frame exchanged with clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var clientIDCounter atomic.Uint64

// Client connects one websocket to one subscription.
type Client struct {
	id     uint64
	conn   *websocket.Conn
	sub    *broadcast.Subscription
	pongs  chan struct{}
	lastID int64

	// pingPeriod is shortened in tests.
	pingPeriod time.Duration
}

// NewClient creates a client. lastID is the highest entry id the client
// has already seen.
func NewClient(conn *websocket.Conn, sub *broadcast.Subscription, lastID int64) *Client {
	return &Client{
		id:         clientIDCounter.Add(1),
		conn:       conn,
		sub:        sub,
		pongs:      make(chan struct{}, 1),
		lastID:     lastID,
		pingPeriod: pingPeriod,
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// readPump reads client messages until the connection fails, then cancels
// the write side.
func (c *Client) readPump(cancel context.CancelFunc) {
	defer cancel()

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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Debug().Err(err).Uint64("client", c.id).Msg("unexpected websocket close error")
			}
			return
		}

		if msg.Type == MessageTypePing {
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writePump sends replay, then live entries, pongs and keepalive pings
// until ctx is cancelled or the subscription ends.
func (c *Client) writePump(ctx context.Context, replay []models.LogEntry) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for _, entry := range replay {
		if !c.writeEntry(entry) {
			return
		}
	}

	for {
		select {
		case entry, ok := <-c.sub.C:
			if !ok {
				c.writeClosed(c.sub.Reason())
				return
			}
			if !c.writeEntry(entry) {
				return
			}

		case <-c.pongs:
			if !c.write(Message{Type: MessageTypePong}) {
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

		case <-ctx.Done():
			return
		}
	}
}

// writeEntry sends entry unless an entry with the same or a higher id was
// already sent.
func (c *Client) writeEntry(entry models.LogEntry) bool {
	if entry.ID <= c.lastID {
		return true
	}
	if !c.write(Message{Type: MessageTypeLog, Data: entry}) {
		return false
	}
	c.lastID = entry.ID
	return true
}

func (c *Client) write(msg Message) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set write deadline")
		return false
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		logging.Debug().Err(err).Uint64("client", c.id).Msg("failed to write JSON message")
		return false
	}
	return true
}

func (c *Client) writeClosed(reason string) {
	if !c.write(Message{Type: MessageTypeClosed, Data: reason}) {
		return
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait)); err != nil {
		logging.Debug().Err(err).Msg("failed to write close message")
	}
}
