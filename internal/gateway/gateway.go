// Package gateway terminates client WebSockets and routes events across
// nodes. Each accepted connection is authenticated, registered in the
// connection pool and in Redis under ws:connection:{uid}, and bound to a
// session that consumes its parsed events.
//
// Cross-node delivery rides Redis streams: SendEvent for a uid homed on
// another node XADDs to that node's ws:server:{server_id} stream, where the
// owning gateway's consumer picks it up and dispatches locally.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/voxgatehq/voxgate/internal/wire"
)

const (
	// connectionTTL is how long a uid's node registration lives in Redis.
	connectionTTL = 24 * time.Hour

	// consumeBlock is the XREAD blocking window of the stream consumer.
	consumeBlock = 3 * time.Second

	// consumeBatch is the XREAD batch size.
	consumeBatch = 100

	// defaultMonitorInterval is how often idle connections are swept.
	defaultMonitorInterval = 30 * time.Second

	// defaultIdleTimeout is the inactivity span after which a connection is
	// evicted.
	defaultIdleTimeout = time.Hour

	// shutdownGrace bounds how long background loops get to drain.
	shutdownGrace = 3 * time.Second
)

// ErrNotRunning is returned by Accept before Start or after Shutdown.
var ErrNotRunning = errors.New("gateway: not running")

// TokenValidator authenticates an upgrade request and yields the client uid.
type TokenValidator func(r *http.Request) (string, error)

// SessionFactory builds the session bound to a freshly registered
// connection.
type SessionFactory func(conn *ClientConnection) (Session, error)

// BearerUID is the default validator: the bearer token is the uid.
func BearerUID(r *http.Request) (string, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		token = r.URL.Query().Get("authorization")
	}
	if token == "" {
		return "", fmt.Errorf("gateway: missing bearer token")
	}
	return token, nil
}

// Gateway accepts, tracks, and routes client connections for one node.
type Gateway struct {
	serverID string
	pool     *Pool
	rdb      redis.UniversalClient
	logger   *slog.Logger

	auth       TokenValidator
	newSession SessionFactory

	monitorInterval time.Duration
	idleTimeout     time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option is a functional option for New.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithServerID pins the node identifier instead of a random one.
func WithServerID(id string) Option {
	return func(g *Gateway) { g.serverID = id }
}

// WithCapacity bounds concurrent connections.
func WithCapacity(capacity int) Option {
	return func(g *Gateway) { g.pool = NewPool(capacity) }
}

// WithTokenValidator replaces the authentication hook.
func WithTokenValidator(v TokenValidator) Option {
	return func(g *Gateway) { g.auth = v }
}

// WithMonitorInterval overrides the idle sweep cadence.
func WithMonitorInterval(d time.Duration) Option {
	return func(g *Gateway) { g.monitorInterval = d }
}

// WithIdleTimeout overrides the eviction threshold.
func WithIdleTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.idleTimeout = d }
}

// New creates a gateway over the given Redis client and session factory.
func New(rdb redis.UniversalClient, factory SessionFactory, opts ...Option) *Gateway {
	g := &Gateway{
		serverID:        uuid.New().String(),
		pool:            NewPool(0),
		rdb:             rdb,
		logger:          slog.Default(),
		auth:            BearerUID,
		newSession:      factory,
		monitorInterval: defaultMonitorInterval,
		idleTimeout:     defaultIdleTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	g.logger = g.logger.With("component", "gateway", "server_id", g.serverID)
	return g
}

// ServerID returns the node identifier.
func (g *Gateway) ServerID() string { return g.serverID }

// Pool exposes the connection pool.
func (g *Gateway) Pool() *Pool { return g.pool }

// Start launches the stream consumer and the idle monitor.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return fmt.Errorf("gateway: already started")
	}
	g.running = true

	ctx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel

	g.wg.Add(2)
	go g.consumeEvents(ctx)
	go g.monitorConnections(ctx)

	g.logger.Info("gateway started")
	return nil
}

// Shutdown stops background loops, waits up to the grace period, then closes
// every connection.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return nil
	}
	g.running = false
	cancel := g.cancel
	g.mu.Unlock()

	start := time.Now()
	cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		g.logger.Warn("background loops did not drain in time")
	case <-ctx.Done():
	}

	g.pool.Clear()
	g.logger.Info("gateway stopped", "elapsed", time.Since(start))
	return nil
}

// ServeHTTP upgrades the request and runs the connection until the client
// goes away. Implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	running := g.running
	g.mu.Unlock()
	if !running {
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.logger.Debug("websocket accept failed", "error", err)
		return
	}

	uid, err := g.auth(r)
	if err != nil {
		g.logger.Warn("token rejected", "remote", r.RemoteAddr, "error", err)
		conn.Close(wire.CloseInvalidToken, "invalid token")
		return
	}

	client, err := g.register(r.Context(), uid, remoteIP(r), conn)
	if err != nil {
		switch {
		case errors.Is(err, ErrCapacityExceeded):
			conn.Close(wire.CloseConnectionLimitExceeded, "connection limit exceeded")
		default:
			conn.Close(wire.CloseInternalError, "registration failed")
		}
		g.logger.Error("connection registration failed", "uid", uid, "error", err)
		return
	}

	g.readLoop(r.Context(), client)
}

// register places the connection in the pool and Redis, replacing any stale
// connection for the same uid, then binds its session.
func (g *Gateway) register(ctx context.Context, uid, ip string, conn *websocket.Conn) (*ClientConnection, error) {
	if old := g.pool.Get(uid); old != nil {
		g.logger.Warn("duplicate connection, replacing", "uid", uid)
		g.remove(ctx, uid)
	}

	client := NewClientConnection(uid, ip, conn, g.logger)
	if err := g.pool.Add(client); err != nil {
		return nil, err
	}

	key := keyConnection(uid)
	pipe := g.rdb.Pipeline()
	pipe.HSet(ctx, key, "server", g.serverID)
	pipe.Expire(ctx, key, connectionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		g.pool.Remove(uid)
		return nil, fmt.Errorf("gateway: register %s: %w", uid, err)
	}

	sess, err := g.newSession(client)
	if err != nil {
		g.pool.Remove(uid)
		g.rdb.Del(ctx, key)
		return nil, fmt.Errorf("gateway: bind session for %s: %w", uid, err)
	}
	client.Bind(sess)

	g.logger.Info("connection registered", "uid", uid, "ip", ip,
		"connections", g.pool.Len())
	return client, nil
}

// readLoop pumps client frames into the session until the socket dies.
func (g *Gateway) readLoop(ctx context.Context, client *ClientConnection) {
	defer g.removeConn(context.Background(), client)

	for {
		typ, data, err := client.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				g.logger.Debug("client disconnected", "uid", client.UID())
			} else {
				g.logger.Debug("read failed", "uid", client.UID(), "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			g.logger.Debug("ignoring non-text frame", "uid", client.UID())
			continue
		}

		ev, err := wire.Parse(data)
		if err != nil {
			g.logger.Warn("bad client frame", "uid", client.UID(), "error", err)
			continue
		}

		sess := client.Session()
		if sess == nil {
			continue
		}
		if err := sess.HandleEvent(ctx, ev); err != nil {
			g.logger.Error("event handling failed",
				"uid", client.UID(), "event_type", ev.EventType, "error", err)
		}
	}
}

// remove tears one connection down everywhere: pool, socket, Redis.
func (g *Gateway) remove(ctx context.Context, uid string) {
	conn := g.pool.Remove(uid)
	if conn == nil {
		return
	}
	conn.Close()
	if err := g.rdb.Del(ctx, keyConnection(uid)).Err(); err != nil {
		g.logger.Debug("connection key cleanup failed", "uid", uid, "error", err)
	}
	g.logger.Debug("connection removed", "uid", uid)
}

// removeConn is remove for a specific connection instance. It is a no-op
// when the uid has already been re-registered by a newer connection.
func (g *Gateway) removeConn(ctx context.Context, client *ClientConnection) {
	if !g.pool.RemoveMatch(client) {
		return
	}
	client.Close()
	if err := g.rdb.Del(ctx, keyConnection(client.UID())).Err(); err != nil {
		g.logger.Debug("connection key cleanup failed", "uid", client.UID(), "error", err)
	}
	g.logger.Debug("connection removed", "uid", client.UID())
}

// Disconnect force-removes a client.
func (g *Gateway) Disconnect(ctx context.Context, uid string) {
	g.remove(ctx, uid)
}

// SendEvent delivers an event to a client wherever it is homed: straight to
// the local queue, or through the owning node's stream.
func (g *Gateway) SendEvent(ctx context.Context, uid string, ev wire.Event) error {
	if conn := g.pool.Get(uid); conn != nil {
		return conn.Enqueue(ev)
	}

	info, err := g.rdb.HGetAll(ctx, keyConnection(uid)).Result()
	if err != nil {
		return fmt.Errorf("gateway: resolve %s: %w", uid, err)
	}
	server, ok := info["server"]
	if !ok {
		g.logger.Debug("client offline", "uid", uid)
		return nil
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("gateway: marshal event: %w", err)
	}
	err = g.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: keyServer(server),
		Values: map[string]any{"uid": uid, "data": data},
	}).Err()
	if err != nil {
		return fmt.Errorf("gateway: route to %s: %w", server, err)
	}
	return nil
}

// consumeEvents reads this node's stream and dispatches to local clients.
// Unknown uids are dropped with a log line.
func (g *Gateway) consumeEvents(ctx context.Context) {
	defer g.wg.Done()

	stream := keyServer(g.serverID)
	lastID := "$"

	for {
		res, err := g.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   consumeBatch,
			Block:   consumeBlock,
		}).Result()
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			g.logger.Error("stream read failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}

		var batch sync.WaitGroup
		for _, str := range res {
			for _, msg := range str.Messages {
				lastID = msg.ID
				batch.Add(1)
				go func(values map[string]any) {
					defer batch.Done()
					g.dispatch(values)
				}(msg.Values)
			}
		}
		batch.Wait()
	}
}

// dispatch hands one routed stream entry to its local client.
func (g *Gateway) dispatch(values map[string]any) {
	uid, _ := values["uid"].(string)
	data, _ := values["data"].(string)
	if uid == "" || data == "" {
		g.logger.Warn("malformed stream entry", "values", values)
		return
	}

	conn := g.pool.Get(uid)
	if conn == nil {
		g.logger.Debug("dropping event for unknown client", "uid", uid)
		return
	}

	var ev wire.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		g.logger.Warn("undecodable routed event", "uid", uid, "error", err)
		return
	}
	if err := conn.Enqueue(ev); err != nil {
		g.logger.Error("routed event dropped", "uid", uid, "error", err)
	}
}

// monitorConnections periodically evicts idle clients and logs pool health.
func (g *Gateway) monitorConnections(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var idle []string
		g.pool.Range(func(c *ClientConnection) bool {
			if c.IdleFor() > g.idleTimeout {
				idle = append(idle, c.UID())
			}
			return true
		})
		for _, uid := range idle {
			g.remove(ctx, uid)
		}
		if len(idle) > 0 {
			g.logger.Debug("evicted idle connections", "count", len(idle))
		}

		g.logger.Info("connection pool status",
			"connections", g.pool.Len(),
			"peak", g.pool.Peak(),
			"capacity", g.pool.Capacity())
	}
}

func keyConnection(uid string) string { return "ws:connection:" + uid }

func keyServer(serverID string) string { return "ws:server:" + serverID }

// remoteIP resolves the client address, honoring reverse-proxy headers.
func remoteIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
