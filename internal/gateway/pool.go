package gateway

import (
	"errors"
	"sync"
)

// DefaultCapacity bounds the connection pool when no explicit capacity is
// configured.
const DefaultCapacity = 1000

var (
	// ErrCapacityExceeded is returned by Add when the pool is full.
	ErrCapacityExceeded = errors.New("gateway: connection capacity exceeded")

	// ErrDuplicate is returned by Add when the uid is already registered.
	ErrDuplicate = errors.New("gateway: connection already registered")
)

// Pool tracks active client connections by uid. Safe for concurrent use.
type Pool struct {
	mu       sync.RWMutex
	conns    map[string]*ClientConnection
	capacity int
	peak     int
}

// NewPool creates a pool with the given capacity. capacity <= 0 selects
// [DefaultCapacity].
func NewPool(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		conns:    make(map[string]*ClientConnection),
		capacity: capacity,
	}
}

// Add registers a connection.
func (p *Pool) Add(conn *ClientConnection) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.conns[conn.UID()]; ok {
		return ErrDuplicate
	}
	if len(p.conns) >= p.capacity {
		return ErrCapacityExceeded
	}
	p.conns[conn.UID()] = conn
	if len(p.conns) > p.peak {
		p.peak = len(p.conns)
	}
	return nil
}

// Remove unregisters and returns the connection for uid, or nil.
func (p *Pool) Remove(uid string) *ClientConnection {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn := p.conns[uid]
	delete(p.conns, uid)
	return conn
}

// RemoveMatch unregisters conn only if it is still the registered
// connection for its uid. Reports whether removal happened. Guards against
// a stale connection's cleanup tearing down its replacement.
func (p *Pool) RemoveMatch(conn *ClientConnection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conns[conn.UID()] != conn {
		return false
	}
	delete(p.conns, conn.UID())
	return true
}

// Get returns the connection for uid, or nil.
func (p *Pool) Get(uid string) *ClientConnection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conns[uid]
}

// Range calls fn for each connection until fn returns false.
func (p *Pool) Range(fn func(*ClientConnection) bool) {
	p.mu.RLock()
	conns := make([]*ClientConnection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	for _, c := range conns {
		if !fn(c) {
			return
		}
	}
}

// Len reports the number of registered connections.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Peak reports the historical connection high-water mark.
func (p *Pool) Peak() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.peak
}

// Capacity reports the configured limit.
func (p *Pool) Capacity() int { return p.capacity }

// Clear removes and closes every connection.
func (p *Pool) Clear() {
	p.mu.Lock()
	conns := make([]*ClientConnection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*ClientConnection)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
