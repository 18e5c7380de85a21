// Starcatalog - Starred Repository Catalog and Sync Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/starcatalog

/*
Package websocket streams operator log entries to browser clients.

Each connection owns one broadcast.Subscription. The handler registers the
subscription before replaying history, so no entry published during the
upgrade is lost:

 1. Subscribe to the live hub
 2. Upgrade the HTTP connection
 3. Replay GetSince(since) from the ring buffer
 4. Forward live entries, skipping any id already sent

Message Types:

  - log: one models.LogEntry
  - pong: reply to a client "ping" message
  - closed: the subscription ended (data carries the reason: idle, slow,
    shutdown)

Connection Lifecycle:

Each client has two goroutines, as in the usual gorilla/websocket pump
pattern:
  - readPump: reads client messages, answers pings, extends the read
    deadline on pong
  - writePump: writes entries and sends a ping every pingPeriod

When the read side fails the subscription is closed. When the hub removes
the subscription (idle timeout, slow consumer, shutdown) the write side
sends a closed message followed by a close frame.

Client Example (JavaScript):

	const ws = new WebSocket('ws://localhost:8080/api/v1/logs/stream?since=42');
	ws.onmessage = (event) => {
	    const msg = JSON.parse(event.data);
	    if (msg.type === 'log') appendLine(msg.data);
	};

Configuration:

  - writeWait: 10 seconds
  - pongWait: 60 seconds
  - pingPeriod: 54 seconds (must be < pongWait)
  - maxMessageSize: 4 KB for client messages
*/
package websocket
