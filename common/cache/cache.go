package cache

import (
	"context"
	"sync"
	"time"

	"github.com/weftlabs/weft/common/logger"
)

// Cache is the read-cache used by the gateway for hot workflow
// documents. Get reports a miss with found=false and a nil error;
// errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// maxEntries bounds the memory backend. Workflow documents run to a
// few hundred KB, so an unbounded map in a long-lived gateway process
// is a real leak.
const maxEntries = 4096

// sweepInterval is how often the background sweeper reclaims expired
// entries that were never read again.
const sweepInterval = time.Minute

// MemoryCache is an in-process TTL cache. Expired entries read as
// misses immediately; the sweeper reclaims their memory later. Writes
// beyond maxEntries evict an arbitrary live entry.
type MemoryCache struct {
	mu        sync.RWMutex
	data      map[string]*memoryEntry
	log       *logger.Logger
	done      chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache starts the sweeper and returns an empty cache.
func NewMemoryCache(log *logger.Logger) *MemoryCache {
	c := &MemoryCache{
		data: make(map[string]*memoryEntry),
		log:  log,
		done: make(chan struct{}),
	}

	go c.sweep()

	return c
}

// Get returns the value at key, treating expired entries as misses.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false, nil
	}

	c.log.WithContext(ctx).Debug("cache hit", "key", key)
	return entry.value, true, nil
}

// Set stores value under key for ttl. When the cache is full it first
// drops expired entries, then an arbitrary live one; map iteration
// order serves as the random choice.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; !exists && len(c.data) >= maxEntries {
		now := time.Now()
		for k, e := range c.data {
			if now.After(e.expiresAt) {
				delete(c.data, k)
			}
		}
		if len(c.data) >= maxEntries {
			for k := range c.data {
				delete(c.data, k)
				break
			}
			c.log.WithContext(ctx).Debug("cache full, evicted one entry", "entries", len(c.data))
		}
	}

	c.data[key] = &memoryEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Delete removes key if present.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

// Close stops the sweeper and drops all entries. Safe to call more
// than once.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = nil
	c.log.Info("memory cache closed")
	return nil
}

func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.data {
				if now.After(entry.expiresAt) {
					delete(c.data, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
