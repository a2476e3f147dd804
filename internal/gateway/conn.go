package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgatehq/voxgate/internal/wire"
)

const (
	// outboundQueueSize bounds the per-connection send queue.
	outboundQueueSize = 1000

	// senderIdleInterval is how long the sender waits without traffic before
	// logging a liveness line.
	senderIdleInterval = 60 * time.Second

	// writeTimeout bounds one WebSocket write.
	writeTimeout = 5 * time.Second

	// closeTimeout bounds the closing handshake.
	closeTimeout = 3 * time.Second

	// enqueueBlockLog is how long Enqueue waits on a saturated queue before
	// logging that the producer is blocked.
	enqueueBlockLog = 1 * time.Second
)

// ErrConnClosed is returned by Enqueue after the connection closed.
var ErrConnClosed = errors.New("gateway: connection closed")

// Session consumes parsed client events for one connection. Implemented by
// the session package; gateway only drives the lifecycle.
type Session interface {
	HandleEvent(ctx context.Context, ev wire.Event) error
	Close() error
}

// ClientConnection owns one WebSocket client: the outbound event queue, the
// single sender goroutine, activity tracking, and the bound session.
type ClientConnection struct {
	uid      string
	remoteIP string
	conn     *websocket.Conn
	logger   *slog.Logger

	outbound chan wire.Event
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once

	// lastActivity is unix nanoseconds of the latest send or receive.
	lastActivity atomic.Int64

	mu      sync.Mutex
	session Session
}

// NewClientConnection wraps an accepted WebSocket and starts its sender
// goroutine.
func NewClientConnection(uid, remoteIP string, conn *websocket.Conn, logger *slog.Logger) *ClientConnection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ClientConnection{
		uid:      uid,
		remoteIP: remoteIP,
		conn:     conn,
		logger:   logger.With("uid", uid),
		outbound: make(chan wire.Event, outboundQueueSize),
		done:     make(chan struct{}),
	}
	c.Touch()

	c.wg.Add(1)
	go c.sendLoop()
	return c
}

// UID returns the client identifier.
func (c *ClientConnection) UID() string { return c.uid }

// RemoteIP returns the client's reported address.
func (c *ClientConnection) RemoteIP() string { return c.remoteIP }

// Bind attaches the session driving this connection.
func (c *ClientConnection) Bind(sess Session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
}

// Session returns the bound session, or nil before Bind.
func (c *ClientConnection) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Enqueue queues an event for delivery. A saturated queue blocks the caller
// until the sender frees a slot; events are never reordered or dropped.
func (c *ClientConnection) Enqueue(ev wire.Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case c.outbound <- ev:
		return nil
	default:
	}

	slow := time.NewTimer(enqueueBlockLog)
	defer slow.Stop()
	for {
		select {
		case <-c.done:
			return ErrConnClosed
		case c.outbound <- ev:
			return nil
		case <-slow.C:
			c.logger.Warn("outbound queue saturated, producer blocked",
				"event_type", ev.EventType)
		}
	}
}

// Touch records activity now.
func (c *ClientConnection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// IdleFor reports how long the connection has been without activity.
func (c *ClientConnection) IdleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// sendLoop drains the outbound queue onto the socket. One goroutine per
// connection; exits on Close.
func (c *ClientConnection) sendLoop() {
	defer c.wg.Done()

	idle := time.NewTimer(senderIdleInterval)
	defer idle.Stop()

	for {
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(senderIdleInterval)

		select {
		case <-c.done:
			c.drainOutbound()
			return
		case <-idle.C:
			c.logger.Debug("send loop idle")
		case ev := <-c.outbound:
			if err := c.write(ev); err != nil {
				c.logger.Error("event send failed", "event_type", ev.EventType, "error", err)
				continue
			}
			c.Touch()
		}
	}
}

// drainOutbound flushes events still buffered at close time, so a completion
// queued just before a normal close reaches the client. Bounded by
// closeTimeout.
func (c *ClientConnection) drainOutbound() {
	deadline := time.Now().Add(closeTimeout)
	for {
		select {
		case ev := <-c.outbound:
			if time.Now().After(deadline) {
				c.logger.Warn("close drain timed out", "event_type", ev.EventType)
				return
			}
			if err := c.write(ev); err != nil {
				c.logger.Error("event send failed", "event_type", ev.EventType, "error", err)
				return
			}
		default:
			return
		}
	}
}

func (c *ClientConnection) write(ev wire.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("gateway: marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Read blocks for the next client frame.
func (c *ClientConnection) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return typ, nil, err
	}
	c.Touch()
	return typ, data, nil
}

// Close stops the sender, closes the bound session, and performs a normal
// closing handshake. Idempotent.
func (c *ClientConnection) Close() {
	c.Terminate(wire.CloseNormal, "")
}

// Terminate is Close with an explicit status code.
func (c *ClientConnection) Terminate(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()

		if sess := c.Session(); sess != nil {
			if err := sess.Close(); err != nil {
				c.logger.Warn("session close failed", "error", err)
			}
		}

		c.conn.Close(code, reason)
		c.logger.Debug("connection closed", "code", int(code))
	})
}
