// Package cache provides a TTL key/value store for short-lived backend
// query results. Correctness over capacity: entries expire, nothing is
// evicted for size.
package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTTL applies when a caller does not request one.
	DefaultTTL = 5 * time.Minute

	// MaxTTL is the hard ceiling; longer requests are clamped.
	MaxTTL = 24 * time.Hour
)

// Entry is one stored value with its expiry bookkeeping.
type Entry[V any] struct {
	Value    V
	StoredAt time.Time
	TTL      time.Duration
}

// Config tunes a cache instance. Zero values fall back to the package
// defaults.
type Config struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// DefaultConfig returns the standard cache configuration.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: DefaultTTL,
		MaxTTL:     MaxTTL,
	}
}

// Cache is a mutex-guarded TTL store with string keys. Expiry happens
// lazily on Get and in bulk via SweepExpired; a sweep always collects
// expired keys first and deletes afterwards, never while iterating.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]Entry[V]
	cfg     Config
	logger  *zap.Logger

	// now is swappable so tests can control expiry.
	now func() time.Time
}

// New creates an empty cache.
func New[V any](cfg Config, logger *zap.Logger) *Cache[V] {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = MaxTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[V]{
		entries: make(map[string]Entry[V]),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the value for key. An entry past its TTL is deleted and
// reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.StoredAt) > e.TTL {
		delete(c.entries, key)
		return zero, false
	}
	return e.Value, true
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.store(key, value, c.cfg.DefaultTTL)
}

// SetWithTTL stores value with an explicit TTL. Non-positive TTLs fall
// back to the default and TTLs above the ceiling are clamped; both
// corrections log a warning, never an error.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	effective := ttl
	switch {
	case ttl <= 0:
		effective = c.cfg.DefaultTTL
		c.logger.Warn("cache ttl not positive, using default",
			zap.String("key", key),
			zap.Duration("requested_ttl", ttl),
			zap.Duration("effective_ttl", effective))
	case ttl > c.cfg.MaxTTL:
		effective = c.cfg.MaxTTL
		c.logger.Warn("cache ttl above ceiling, clamping",
			zap.String("key", key),
			zap.Duration("requested_ttl", ttl),
			zap.Duration("effective_ttl", effective))
	}
	c.store(key, value, effective)
}

func (c *Cache[V]) store(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry[V]{
		Value:    value,
		StoredAt: c.now(),
		TTL:      ttl,
	}
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[V])
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// SweepExpired removes every expired entry and returns how many were
// dropped. Expired keys are collected before any deletion happens.
func (c *Cache[V]) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for key, e := range c.entries {
		if now.Sub(e.StoredAt) > e.TTL {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(c.entries, key)
	}
	return len(expired)
}

// StartJanitor runs SweepExpired on a ticker until ctx is canceled.
func (c *Cache[V]) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.SweepExpired(); n > 0 {
					c.logger.Debug("cache sweep removed entries", zap.Int("removed", n))
				}
			}
		}
	}()
}
