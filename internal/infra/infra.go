// Package infra provides shared infrastructure components used across
// the application: caching, rate limiting, and metrics.
package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// --- Simple in-memory cache ---

// CacheEntry holds a cached value with expiration.
type CacheEntry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// sweepEvery is how many writes pass between sweeps of expired entries.
const sweepEvery = 64

// MemoryCache is a thread-safe in-memory cache with TTL. Instances are
// owned by whoever constructs them; nothing in the module keeps one at
// package level. Expired entries are dropped when read and swept every
// sweepEvery writes, so keys that are never read again do not pile up.
type MemoryCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry[V]
	ttl     time.Duration
	writes  int
	now     func() time.Time
}

// NewMemoryCache creates a new cache with the given default TTL.
func NewMemoryCache[V any](ttl time.Duration) *MemoryCache[V] {
	return &MemoryCache[V]{
		entries: make(map[string]CacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get retrieves a value from the cache. Returns the zero value, false if
// not found or expired.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if c.now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// a concurrent Set may have refreshed it
		if cur, ok := c.entries[key]; ok && c.now().After(cur.ExpiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value in the cache with the default TTL.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value in the cache with a custom TTL.
func (c *MemoryCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[key] = CacheEntry[V]{
		Value:     value,
		ExpiresAt: now.Add(ttl),
	}
	c.writes++
	if c.writes%sweepEvery == 0 {
		for k, v := range c.entries {
			if now.After(v.ExpiresAt) {
				delete(c.entries, k)
			}
		}
	}
}

// Len returns the number of stored entries, expired ones not yet swept
// included.
func (c *MemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// --- Rate limiter ---

// RateLimiter is a token bucket shared by every request to one upstream.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perSecond requests on average with bursts of
// up to burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.lim.Wait(ctx)
}
