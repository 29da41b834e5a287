package cache

import (
	"sync"
	"time"
)

// Item is a cached value with its expiry.
type Item[V any] struct {
	Value     V
	ExpiresAt time.Time
	UpdatedAt time.Time
}

func (it *Item[V]) expiredAt(now time.Time) bool {
	return !now.Before(it.ExpiresAt)
}

// EvictFunc is called, outside the cache lock, for every entry removed by
// expiry.
type EvictFunc[V any] func(key string, value V)

// Cache is a thread-safe in-memory cache with TTL support. Set refreshes the
// TTL of an existing key.
type Cache[V any] struct {
	mu              sync.RWMutex
	items           map[string]*Item[V]
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	onEvict         EvictFunc[V]
	now             func() time.Time

	stopOnce    sync.Once
	stopCleanup chan struct{}
	done        chan struct{}
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithEvict registers a callback for expired entries.
func WithEvict[V any](fn EvictFunc[V]) Option[V] {
	return func(c *Cache[V]) { c.onEvict = fn }
}

// WithCleanupInterval overrides the sweep period (default TTL/2).
func WithCleanupInterval[V any](d time.Duration) Option[V] {
	return func(c *Cache[V]) { c.cleanupInterval = d }
}

// WithClock replaces time.Now.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache and starts its sweeper goroutine. Call Stop to end it.
func New[V any](defaultTTL time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		items:           make(map[string]*Item[V]),
		defaultTTL:      defaultTTL,
		cleanupInterval: defaultTTL / 2,
		now:             time.Now,
		stopCleanup:     make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cleanupInterval <= 0 {
		c.cleanupInterval = time.Second
	}

	go c.cleanup()

	return c
}

// Get returns a live value.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var zero V
	item, exists := c.items[key]
	if !exists || item.expiredAt(c.now()) {
		return zero, false
	}
	return item.Value, true
}

// Set stores value under key with the default TTL and reports whether the
// key was already present and live.
func (c *Cache[V]) Set(key string, value V) bool {
	return c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores a value in cache with custom TTL
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	prev, existed := c.items[key]
	live := existed && !prev.expiredAt(now)

	c.items[key] = &Item[V]{
		Value:     value,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}
	return live
}

// Delete removes a key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Values returns all live values in no particular order.
func (c *Cache[V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	out := make([]V, 0, len(c.items))
	for _, item := range c.items {
		if !item.expiredAt(now) {
			out = append(out, item.Value)
		}
	}
	return out
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	n := 0
	for _, item := range c.items {
		if !item.expiredAt(now) {
			n++
		}
	}
	return n
}

// Clear removes all items without firing eviction callbacks.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*Item[V])
}

type evicted[V any] struct {
	key   string
	value V
}

// Sweep removes expired entries now and returns how many were dropped.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	now := c.now()
	var gone []evicted[V]
	for key, item := range c.items {
		if item.expiredAt(now) {
			gone = append(gone, evicted[V]{key, item.Value})
			delete(c.items, key)
		}
	}
	onEvict := c.onEvict
	c.mu.Unlock()

	if onEvict != nil {
		for _, e := range gone {
			onEvict(e.key, e.value)
		}
	}
	return len(gone)
}

func (c *Cache[V]) cleanup() {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCleanup:
			return
		}
	}
}

// Stop ends the sweeper and waits for it to exit. Safe to call twice.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
	<-c.done
}
