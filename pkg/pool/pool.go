// Package pool provides a capacity-bounded LIFO pool for reusable resources
// such as ASR, TTS, and LLM client handles.
//
// Acquire never blocks: when the pool is empty a fresh resource is
// constructed. Release pushes the resource back in LIFO order; when the pool
// is already full the resource is closed instead of enqueued.
package pool

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity bounds a pool when no explicit capacity is given.
const DefaultCapacity = 1000

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("pool: closed")

// Pool is a LIFO stack of reusable resources. Safe for concurrent use.
type Pool[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	capacity int
	newFn    func(ctx context.Context) (T, error)
	closeFn  func(T) error
}

// New creates a pool with the given capacity. newFn constructs a resource
// when Acquire finds the pool empty; closeFn disposes of a resource that is
// released into a full pool or still pooled at Close. capacity <= 0 selects
// [DefaultCapacity]. closeFn may be nil.
func New[T any](capacity int, newFn func(ctx context.Context) (T, error), closeFn func(T) error) *Pool[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool[T]{
		capacity: capacity,
		newFn:    newFn,
		closeFn:  closeFn,
	}
}

// Acquire pops the most recently released resource, or constructs a new one
// when the pool is empty.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		var zero T
		return zero, ErrClosed
	}
	if n := len(p.items); n > 0 {
		item := p.items[n-1]
		p.items = p.items[:n-1]
		p.mu.Unlock()
		return item, nil
	}
	p.mu.Unlock()

	return p.newFn(ctx)
}

// Release returns a resource to the pool. A resource released into a full or
// closed pool is closed instead.
func (p *Pool[T]) Release(item T) error {
	p.mu.Lock()
	if !p.closed && len(p.items) < p.capacity {
		p.items = append(p.items, item)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if p.closeFn != nil {
		return p.closeFn(item)
	}
	return nil
}

// Len reports the number of pooled resources.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Close closes every pooled resource and marks the pool closed. Subsequent
// Acquire calls fail and Release closes the resource immediately.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	items := p.items
	p.items = nil
	p.mu.Unlock()

	var errs []error
	if p.closeFn != nil {
		for _, item := range items {
			if err := p.closeFn(item); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
