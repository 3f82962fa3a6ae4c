package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/auth"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/metrics"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/protocol"
	"github.com/SHlok06majmundar/nexus-meet-sub000/internal/ratelimit"
)

const wsWriteWait = 10 * time.Second

// client is one signaling connection. The reader goroutine owns all fields
// not guarded below; other goroutines may only touch the send queue.
type client struct {
	server *Server
	conn   *websocket.Conn
	logger *slog.Logger

	memberID string
	// verifiedName is non-empty when the auth token carried a display
	// name; it seeds displayName and wins over the join payload.
	verifiedName string
	displayName  string
	roomID       string

	limiter *ratelimit.TokenBucket

	sendMu sync.Mutex
	closed bool
	send   chan []byte
}

func (s *Server) newClient(conn *websocket.Conn, identity auth.Identity) *client {
	memberID := s.newMemberID()
	name := identity.DisplayName
	if name == "" {
		name = protocol.PlaceholderName(memberID)
	}
	return &client{
		server:       s,
		conn:         conn,
		logger:       s.logger.With("member_id", memberID),
		memberID:     memberID,
		verifiedName: identity.DisplayName,
		displayName:  name,
		limiter:      ratelimit.NewTokenBucket(s.clock, int64(s.cfg.MaxSignalingMessagesPerSecond), int64(s.cfg.MaxSignalingMessagesPerSecond)),
		send:         make(chan []byte, s.cfg.SendQueueMessages),
	}
}

// enqueue hands an encoded event to the write pump without blocking. A full
// queue means the consumer is not draining; the event is dropped and the
// connection is left to die on its ping deadline.
func (c *client) enqueue(payload []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
		c.server.metrics.Inc(metrics.BroadcastsSent)
	default:
		c.server.metrics.Inc(metrics.BroadcastDropsSlow)
	}
}

func (c *client) enqueueEvent(ev protocol.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("encode event", "type", ev.Type, "err", err)
		return
	}
	c.enqueue(payload)
}

func (c *client) sendError(code, message string) {
	c.enqueueEvent(protocol.Event{
		Type:    protocol.EventError,
		Code:    code,
		Message: message,
	})
}

// shutdown closes the send queue. The write pump drains anything already
// queued (including a final error event) before emitting the close frame.
func (c *client) shutdown() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readLoop() {
	defer func() {
		c.server.unregister(c)
		c.leaveRoom()
		c.shutdown()
	}()

	cfg := c.server.cfg
	c.conn.SetReadLimit(cfg.MaxSignalingMessageBytes)
	// Until the member joins a room, the shorter join deadline applies.
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.SignalingAuthTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout()))
	})

	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !isTimeout(err) {
				c.logger.Debug("read failed", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			c.closeWith(websocket.CloseUnsupportedData, "expected text message")
			return
		}

		if !c.limiter.Allow(1) {
			c.server.metrics.Inc(metrics.DropReasonRateLimited)
			c.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		// The deferred shutdown flushes the error event through the write
		// pump ahead of the close frame.
		ev, err := protocol.Parse(payload)
		if err != nil {
			c.server.metrics.Inc(metrics.BadMessages)
			c.sendError("bad-message", "malformed signaling event")
			return
		}

		if !c.dispatch(ev) {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout()))
	}
}

// idleTimeout is the read deadline for the connection's current phase.
func (c *client) idleTimeout() time.Duration {
	if c.roomID == "" {
		return c.server.cfg.SignalingAuthTimeout
	}
	return c.server.cfg.WSIdleTimeout
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.server.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) closeWith(code int, reason string) {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
