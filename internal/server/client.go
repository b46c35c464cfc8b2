// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrClientClosed is returned by Send once the connection has been torn down.
var ErrClientClosed = errors.New("client connection closed")

// Client is one WebSocket connection. It satisfies registry.Sender.
type Client struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	addr   string
	logger *slog.Logger

	send      chan []byte
	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	readyOnce sync.Once

	maxMessageSize int64
	limiter        *rate.Limiter
}

// NewClient creates a Client for conn. The outbound queue is buffered so that
// a broadcast rarely waits on a single socket.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	opts := hub.opts
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	return &Client{
		conn:           conn,
		hub:            hub,
		addr:           addr,
		logger:         hub.logger.With("remote_addr", addr),
		send:           make(chan []byte, opts.SendBuffer),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		maxMessageSize: opts.MaxMessageSize,
		limiter:        opts.RateLimit.limiter(),
	}
}

// ID returns the registry id, empty until the client is registered.
func (c *Client) ID() string {
	return c.id
}

// Send queues msg for the write pump. It waits until the client has its
// initial_boats frame queued, then blocks while the queue is full until ctx is
// done or the client closes.
func (c *Client) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case <-c.ready:
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// markReady queues first as the client's first frame and releases every
// Send waiting on it.
func (c *Client) markReady(first []byte) {
	c.readyOnce.Do(func() {
		if first != nil {
			c.send <- first
		}
		close(c.ready)
	})
}

// close stops both pumps. Safe to call repeatedly.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				c.logger.Warn("Error closing connection", "error", err)
			}
		}
	})
}

// setupReadConnection arms the read deadline and extends it on every pong.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err):
		c.logger.Warn("Unexpected WebSocket close", "error", err)
	default:
		c.logger.Warn("WebSocket read error", "error", err)
	}
}

// allowMessage applies the per-connection rate limit. Excess frames are
// dropped without closing the connection.
func (c *Client) allowMessage() bool {
	if c.limiter.Allow() {
		return true
	}
	c.logger.Debug("Rate limit exceeded; discarding message")
	return false
}

// readPump reads frames until the connection fails, then unregisters the
// client from the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.close()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logReadError(err)
			}
			return
		}

		if !c.allowMessage() {
			continue
		}
		c.hub.handleMessage(c, raw)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
// It sends a close frame when the client shuts down.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		case <-c.done:
			c.writeCloseMessage()
			return
		}
	}
}

// write sends one frame. Each hub message is its own text frame.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage tells the peer the server is going away.
func (c *Client) writeCloseMessage() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("Error writing close message", "error", err)
	}
}

// isExpectedCloseError reports errors that only mean the socket is already gone.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
