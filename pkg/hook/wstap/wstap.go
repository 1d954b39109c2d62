// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wstap provides an interception hook that streams intercepted
// messages to WebSocket clients.
//
// Clients connect to the Tap's HTTP handler and receive one JSON Event per
// message. The optional topic query parameter restricts a client to topics
// with the given prefix:
//
//	ws://host:port/tap?topic=weather
//
// The tap never blocks the forward loop: each client has a bounded queue and
// events that do not fit are dropped for that client only.
package wstap

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fproxy/pkg/hook"
	"github.com/gorilla/websocket"
)

const (
	defaultBuffer = 256

	// Time allowed to write an event to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 512
)

var _ hook.Hook = (*Tap)(nil)

// Event is the JSON document sent to tap clients. Payload is base64 encoded.
type Event struct {
	Proxy      string    `json:"proxy"`
	Sequence   uint64    `json:"seq"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// Config configures a Tap.
type Config struct {
	// Buffer is the per-client event queue size.
	Buffer int
	Logger *slog.Logger
}

// Tap is an http.Handler and a hook.Hook.
type Tap struct {
	upgrader websocket.Upgrader
	buffer   int
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	dropped atomic.Uint64
}

type client struct {
	conn   *websocket.Conn
	prefix string
	events chan []byte
}

// New creates a tap with no clients.
func New(cfg Config) *Tap {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Tap{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		buffer:  cfg.Buffer,
		logger:  cfg.Logger,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (t *Tap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("tap upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		conn:   conn,
		prefix: r.URL.Query().Get("topic"),
		events: make(chan []byte, t.buffer),
	}
	if !t.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "tap closed"))
		conn.Close()
		return
	}
	t.logger.Info("tap client connected",
		slog.String("remote", conn.RemoteAddr().String()),
		slog.String("topic", c.prefix))

	go t.writePump(c)
	t.readPump(c)
}

// Intercept implements hook.Hook.
func (t *Tap) Intercept(ctx context.Context, hctx *hook.Context, topic, payload []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.clients) == 0 {
		return nil
	}

	data, err := json.Marshal(Event{
		Proxy:      hctx.ProxyID,
		Sequence:   hctx.Sequence,
		Topic:      string(topic),
		Payload:    payload,
		ReceivedAt: hctx.ReceivedAt,
	})
	if err != nil {
		return err
	}

	for c := range t.clients {
		if !strings.HasPrefix(string(topic), c.prefix) {
			continue
		}
		select {
		case c.events <- data:
		default:
			t.dropped.Add(1)
		}
	}

	return nil
}

// Clients returns the number of connected clients.
func (t *Tap) Clients() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// Dropped returns the number of events not delivered to slow clients.
func (t *Tap) Dropped() uint64 {
	return t.dropped.Load()
}

// Close disconnects all clients. New connections are refused afterwards.
func (t *Tap) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for c := range t.clients {
		delete(t.clients, c)
		close(c.events)
	}
	return nil
}

func (t *Tap) register(c *client) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	t.clients[c] = struct{}{}
	return true
}

func (t *Tap) unregister(c *client) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.clients[c]; ok {
		delete(t.clients, c)
		close(c.events)
	}
}

func (t *Tap) readPump(c *client) {
	defer func() {
		t.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("tap client read failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (t *Tap) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.events:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
