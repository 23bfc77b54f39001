package cache

import (
	"sync"
	"time"
)

// TTL is a single-value in-process cache with a fixed time-to-live. It backs
// the plan pricing cache so provider lookups are not repeated per request.
type TTL[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
	at    time.Time
	ttl   time.Duration
	now   func() time.Time
}

func NewTTL[T any](ttl time.Duration) *TTL[T] {
	return &TTL[T]{ttl: ttl, now: time.Now}
}

// NewTTLWithClock builds a cache with an injectable clock, used in tests.
func NewTTLWithClock[T any](ttl time.Duration, now func() time.Time) *TTL[T] {
	return &TTL[T]{ttl: ttl, now: now}
}

// Get returns the cached value when present and fresh.
func (c *TTL[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if !c.set {
		return zero, false
	}
	if c.ttl > 0 && c.now().Sub(c.at) >= c.ttl {
		c.set = false
		c.value = zero
		return zero, false
	}
	return c.value, true
}

// Put stores the value and resets the expiry window.
func (c *TTL[T]) Put(value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	c.set = true
	c.at = c.now()
}

// Invalidate drops the cached value.
func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.set = false
}
