// Package cache wraps BigCache behind the small surface the controller
// needs: byte values with one shared TTL, plus a Reset hook for the
// clear-cache recovery action and the memory scaling policy.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/allegro/bigcache/v3"
	"go.uber.org/zap"
)

// Config defines cache sizing
type Config struct {
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
	MaxSizeMB int           `yaml:"max_size_mb" json:"max_size_mb"`
}

// DefaultConfig returns the default cache sizing
func DefaultConfig() Config {
	return Config{
		TTL:       5 * time.Minute,
		MaxSizeMB: 32,
	}
}

// Cache is a TTL byte cache shared by the price provider and cleared by
// recovery and memory-pressure actions.
type Cache struct {
	logger *zap.Logger
	bc     *bigcache.BigCache

	hits   atomic.Uint64
	misses atomic.Uint64
	resets atomic.Uint64
}

// New creates the cache
func New(logger *zap.Logger, config Config) (*Cache, error) {
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}

	bcConfig := bigcache.DefaultConfig(config.TTL)
	bcConfig.Verbose = false
	if config.MaxSizeMB > 0 {
		bcConfig.HardMaxCacheSize = config.MaxSizeMB
	}

	bc, err := bigcache.New(context.Background(), bcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Cache{
		logger: logger,
		bc:     bc,
	}, nil
}

// Get returns the cached value for key, if present and unexpired
func (c *Cache) Get(key string) ([]byte, bool) {
	value, err := c.bc.Get(key)
	if err != nil {
		if !errors.Is(err, bigcache.ErrEntryNotFound) {
			c.logger.Debug("Cache get failed", zap.String("key", key), zap.Error(err))
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value, true
}

// Set stores a value under key
func (c *Cache) Set(key string, value []byte) error {
	return c.bc.Set(key, value)
}

// Delete removes one entry
func (c *Cache) Delete(key string) error {
	err := c.bc.Delete(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

// Reset drops every entry. Wired into the clear-cache recovery action and
// the memory scaling policy.
func (c *Cache) Reset() error {
	c.resets.Add(1)
	return c.bc.Reset()
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	return c.bc.Len()
}

// Close releases the cache
func (c *Cache) Close() error {
	return c.bc.Close()
}

// GetStats returns hit/miss counters
func (c *Cache) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"entries": c.bc.Len(),
		"hits":    c.hits.Load(),
		"misses":  c.misses.Load(),
		"resets":  c.resets.Load(),
	}
}
