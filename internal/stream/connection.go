package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/OCAP2/choreograph/pkg/streaming"
)

const (
	controlChSize = 256
	ackChSize     = 16
	maxReconnect  = 10
	maxBackoff    = 30 * time.Second
	writeWait     = 10 * time.Second
)

// connection owns one WebSocket with a single write goroutine. Control
// messages are queued in order; frames are coalesced so a slow renderer
// only ever receives the newest one.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	control chan []byte
	frame   []byte
	frameCh chan struct{} // signalled when frame is replaced
	ackCh   chan streaming.AckMessage
	done    chan struct{} // closed on shutdown
	stop    chan struct{} // closed when the current conn is replaced
	closed  bool

	wsURL   string
	secret  string
	backoff time.Duration

	// Cached session_start message for reconnect replay.
	cachedStart []byte

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		control: make(chan []byte, controlChSize),
		frameCh: make(chan struct{}, 1),
		ackCh:   make(chan streaming.AckMessage, ackChSize),
		done:    make(chan struct{}),
		backoff: time.Second,
		logger:  logger,
	}
}

// dial connects to the renderer and starts the read and write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn)
	return nil
}

func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// writeLoop serves conn until a write fails or the connection shuts down.
// Control messages go out before any pending frame.
func (c *connection) writeLoop(conn *ws.Conn, stop <-chan struct{}) {
	for {
		var data []byte
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data = <-c.control:
		default:
			select {
			case <-c.done:
				return
			case <-stop:
				return
			case data = <-c.control:
			case <-c.frameCh:
				c.mu.Lock()
				data, c.frame = c.frame, nil
				c.mu.Unlock()
			}
		}
		if data == nil {
			continue
		}
		if err := c.write(conn, data); err != nil {
			c.logger.Warn("stream write error", "error", err)
			go c.reconnect(conn)
			return
		}
	}
}

// readLoop routes acks to ackCh.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("stream read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != streaming.TypeAck {
			c.logger.Debug("non-ack message from renderer", "raw", string(message))
			continue
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("ack channel full, dropping", "for", ack.For)
		}
	}
}

// reconnect replaces a failed conn with exponential backoff, replaying the
// cached session_start first. Both loops call it on failure; only the
// first call for a given conn does anything.
func (c *connection) reconnect(failed *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != failed {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	close(c.stop)
	c.mu.Unlock()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("reconnecting stream", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("stream reconnect failed", "attempt", attempt, "error", err)
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		c.mu.Lock()
		cached := c.cachedStart
		c.mu.Unlock()
		if cached != nil {
			if err := c.write(conn, cached); err != nil {
				c.logger.Warn("failed to replay session_start", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.stop = make(chan struct{})
		stop := c.stop
		c.mu.Unlock()

		c.logger.Info("stream reconnected", "attempt", attempt)
		go c.writeLoop(conn, stop)
		go c.readLoop(conn)
		return
	}

	c.logger.Error("stream reconnect gave up", "maxAttempts", maxReconnect)
}

// sendControl queues an ordered message. It blocks while the queue is full.
func (c *connection) sendControl(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.control <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sendFrame replaces any frame not yet written.
func (c *connection) sendFrame(data []byte) bool {
	c.mu.Lock()
	replaced := c.frame != nil
	c.frame = data
	c.mu.Unlock()
	select {
	case c.frameCh <- struct{}{}:
	default:
	}
	return replaced
}

// sendAndWait queues data and waits for the renderer's ack.
func (c *connection) sendAndWait(ctx context.Context, data []byte, ackFor string, timeout time.Duration) error {
	if err := c.sendControl(ctx, data); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close sends a close frame and stops all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
		return conn.Close()
	}
	return nil
}
