package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxRequests bounds how many request ids the cache tracks at
	// once.
	DefaultMaxRequests = 10

	// DefaultTTL is how long a request's audio stays readable.
	DefaultTTL = time.Hour

	// DefaultChunkTimeout bounds how long a reader waits for the next chunk
	// before its stream ends.
	DefaultChunkTimeout = 30 * time.Second
)

// ErrUnknownRequest is returned when no audio queue exists for a request id,
// either because it was never created or because it expired.
var ErrUnknownRequest = errors.New("tts: unknown request id")

// ErrNoActiveRequest is returned by AppendDelta before any CreateRequest.
var ErrNoActiveRequest = errors.New("tts: no active request")

// CacheOption is a functional option for NewCache.
type CacheOption func(*Cache)

// WithMaxRequests overrides the request id capacity.
func WithMaxRequests(n int) CacheOption {
	return func(c *Cache) { c.maxRequests = n }
}

// WithTTL overrides the per-request time to live.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = ttl }
}

// WithChunkTimeout overrides the per-chunk reader timeout.
func WithChunkTimeout(d time.Duration) CacheOption {
	return func(c *Cache) { c.chunkTimeout = d }
}

// Cache buffers synthesized audio per request id so that an HTTP reader can
// pull an utterance while, or after, the driver produces it.
//
// Request lifecycle: a request is created empty, streams chunks as the
// driver appends them, completes when the empty sentinel arrives, and
// expires on TTL or eviction. A reader that attaches mid-stream sees all
// buffered chunks and all future chunks up to the sentinel. A cancelled
// reader returns its unconsumed chunks to the queue so a later reader with
// the same id resumes where it left off.
type Cache struct {
	maxRequests  int
	ttl          time.Duration
	chunkTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
	current string
}

// cacheEntry holds one request's pending audio. notify wakes the single
// attached reader after each append.
type cacheEntry struct {
	mu        sync.Mutex
	chunks    [][]byte
	completed bool
	createdAt time.Time
	notify    chan struct{}
}

// NewCache creates a Cache with the given options.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		maxRequests:  DefaultMaxRequests,
		ttl:          DefaultTTL,
		chunkTimeout: DefaultChunkTimeout,
		entries:      make(map[string]*cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CreateRequest begins a new synthesis request and makes it current. When
// the cache is at capacity the least recently created completed request is
// evicted; with no completed request, the oldest overall goes.
func (c *Cache) CreateRequest() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.purgeExpiredLocked()
	for len(c.entries) >= c.maxRequests {
		c.evictOneLocked()
	}

	id := fmt.Sprintf("tts_req_%s", hexUUID())
	c.entries[id] = &cacheEntry{
		createdAt: time.Now(),
		notify:    make(chan struct{}, 1),
	}
	c.current = id
	return id
}

// CurrentRequest returns the id of the most recently created request, or ""
// if none exists.
func (c *Cache) CurrentRequest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AppendDelta appends one audio chunk to the current request. An empty
// chunk marks the request completed.
func (c *Cache) AppendDelta(chunk []byte) error {
	c.mu.Lock()
	id := c.current
	e := c.entries[id]
	c.mu.Unlock()

	if id == "" {
		return ErrNoActiveRequest
	}
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}

	e.mu.Lock()
	if len(chunk) == 0 {
		e.completed = true
	} else {
		e.chunks = append(e.chunks, chunk)
	}
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
	return nil
}

// StreamAudio attaches a reader to the given request id. The returned
// channel yields buffered and future chunks in order and closes on the
// completion sentinel or after the per-chunk timeout. Cancelling ctx closes
// the channel and returns any unconsumed chunk to the queue.
func (c *Cache) StreamAudio(ctx context.Context, requestID string) (<-chan []byte, error) {
	c.mu.Lock()
	c.purgeExpiredLocked()
	e := c.entries[requestID]
	c.mu.Unlock()

	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			chunk, ok := e.next(ctx, c.chunkTimeout)
			if !ok {
				return
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				e.pushFront(chunk)
				return
			}
		}
	}()
	return out, nil
}

// next blocks until a chunk is available, the request completes with an
// empty queue, the timeout elapses, or ctx is cancelled. ok is false when
// the stream should end.
func (e *cacheEntry) next(ctx context.Context, timeout time.Duration) ([]byte, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		e.mu.Lock()
		if len(e.chunks) > 0 {
			chunk := e.chunks[0]
			e.chunks = e.chunks[1:]
			e.mu.Unlock()
			return chunk, true
		}
		done := e.completed
		e.mu.Unlock()

		if done {
			return nil, false
		}

		select {
		case <-e.notify:
		case <-deadline.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (e *cacheEntry) pushFront(chunk []byte) {
	e.mu.Lock()
	e.chunks = append([][]byte{chunk}, e.chunks...)
	e.mu.Unlock()
}

// Close drops all buffered audio and request ids.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		e.mu.Lock()
		e.chunks = nil
		e.completed = true
		e.mu.Unlock()
		select {
		case e.notify <- struct{}{}:
		default:
		}
		delete(c.entries, id)
	}
	c.current = ""
}

func (c *Cache) purgeExpiredLocked() {
	now := time.Now()
	for id, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			delete(c.entries, id)
			if c.current == id {
				c.current = ""
			}
		}
	}
}

// evictOneLocked removes the oldest completed entry, or the oldest entry
// outright when nothing has completed yet.
func (c *Cache) evictOneLocked() {
	var victim string
	var victimAt time.Time
	var victimDone bool

	for id, e := range c.entries {
		e.mu.Lock()
		done := e.completed
		e.mu.Unlock()

		better := false
		switch {
		case victim == "":
			better = true
		case done && !victimDone:
			better = true
		case done == victimDone && e.createdAt.Before(victimAt):
			better = true
		}
		if better {
			victim, victimAt, victimDone = id, e.createdAt, done
		}
	}
	if victim != "" {
		delete(c.entries, victim)
		if c.current == victim {
			c.current = ""
		}
	}
}

func hexUUID() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[:])
}
