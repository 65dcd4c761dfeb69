package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/relay"
)

const wsWriteWait = 1 * time.Second

var errNonTextFrame = errors.New("expected text message")

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id, err := s.relay.Open(registry.TransportWebSocket)
	if err != nil {
		c := &wsConn{srv: s, conn: conn, log: s.log}
		_ = c.send(errorFrame{Type: frameError, Code: relay.Code(err), Message: err.Error()})
		c.closeWith(websocket.CloseTryAgainLater, closeReason(err))
		c.Close()
		return
	}
	wake, done, err := s.relay.Watch(id)
	if err != nil {
		// Removed between Open and Watch, e.g. by a concurrent shutdown.
		_ = conn.Close()
		return
	}

	c := &wsConn{
		srv:  s,
		conn: conn,
		id:   id,
		log:  s.log.With("conn_id", id),
	}
	s.track(c)
	defer s.untrack(c)
	c.run(wake, done)
}

// wsConn adapts one WebSocket to a registered relay connection. A reader
// goroutine handles inbound frames; run owns outbound delivery and pings.
type wsConn struct {
	srv  *Server
	conn *websocket.Conn
	id   string
	log  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) run(wake, done <-chan struct{}) {
	defer c.Close()

	c.conn.SetReadLimit(c.srv.maxMessageBytes)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	if err := c.send(registeredFrame{Type: frameRegistered, ID: c.id}); err != nil {
		return
	}

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop() }()

	var ping <-chan time.Time
	if c.srv.wsPingInterval > 0 {
		t := time.NewTicker(c.srv.wsPingInterval)
		defer t.Stop()
		ping = t.C
	}

	for {
		select {
		case <-wake:
			if err := c.flush(); err != nil {
				return
			}
		case <-done:
			c.closeWith(websocket.CloseNormalClosure, "connection closed")
			return
		case <-ping:
			if err := c.ping(); err != nil {
				return
			}
		case err := <-readErr:
			switch {
			case isTimeout(err):
				c.log.Debug("closing idle signaling websocket", "idle_timeout", c.srv.wsIdleTimeout)
				c.closeWith(websocket.CloseNormalClosure, "idle timeout")
			case errors.Is(err, errNonTextFrame):
				_ = c.send(errorFrame{Type: frameError, Code: relay.CodeBadMessage, Message: err.Error()})
				c.closeWith(websocket.CloseUnsupportedData, err.Error())
			case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				c.log.Debug("signaling websocket read failed", "err", err)
			}
			return
		}
	}
}

func (c *wsConn) readLoop() error {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			return errNonTextFrame
		}
		c.extendReadDeadline()
		c.handle(data)
	}
}

func (c *wsConn) handle(data []byte) {
	if !c.srv.allow(c.id) {
		_ = c.send(errorFrame{Type: frameError, Code: relay.CodeRateLimited, Message: relay.ErrRateLimited.Error()})
		return
	}

	msg, err := parseClientMessage(data)
	if err == nil && msg.ID != "" && msg.ID != c.id {
		err = fmt.Errorf("%w: id does not match this connection", relay.ErrUnauthorized)
	}
	if err != nil {
		c.srv.metrics.Rejected(relay.Code(err))
		_ = c.send(errorFrame{Type: frameError, Code: relay.Code(err), Message: err.Error()})
		return
	}

	out, err := c.srv.relay.Relay(c.id, msg.relayMessage())
	if err != nil {
		_ = c.send(errorFrame{Type: frameError, Code: relay.Code(err), Message: err.Error()})
		return
	}
	_ = c.send(ackFrame{Type: frameAck, Outcome: out})
}

// flush pushes every queued message in FIFO order.
func (c *wsConn) flush() error {
	msgs, err := c.srv.relay.Drain(c.id)
	if err != nil {
		// Removed concurrently; done fires next.
		return nil
	}
	for _, msg := range msgs {
		if err := c.send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *wsConn) extendReadDeadline() {
	if c.srv.wsIdleTimeout <= 0 {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.wsIdleTimeout))
}

func (c *wsConn) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) closeWith(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// Close tears down the socket and unregisters the connection. Safe to call
// more than once.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		if c.id != "" {
			c.srv.relay.Close(c.id)
		}
	})
}

// closeReason fits err's text into a close frame, whose reason is capped at
// 123 bytes.
func closeReason(err error) string {
	const maxReason = 123
	reason := err.Error()
	if len(reason) > maxReason {
		reason = reason[:maxReason]
	}
	return reason
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
