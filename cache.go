package chorus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Cache is the memoization store shared by pipeline stages. Entries carry an
// optional time-to-live; an entry is logically absent once its TTL elapses,
// evaluated lazily on read. Implementations must be safe for concurrent use
// and linearizable per key: no read may observe a partially written entry.
type Cache interface {
	// Get retrieves a value. The second return is false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a value. A zero ttl means the entry never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a key is present and not expired. It applies
	// the same expiry check as Get.
	Exists(ctx context.Context, key string) (bool, error)

	// Clear removes all entries unconditionally, including unexpired ones.
	Clear(ctx context.Context) error
}

// cacheEntry is a stored value with its expiry. Owned exclusively by
// MemoryCache; never exposed outside it.
type cacheEntry struct {
	value     string
	expiresAt time.Time // zero = never expires
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a fast in-process Cache backed by a map. All data is lost
// on restart; use SoyCache or RedisCache when results must survive the
// process.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
	}
}

// Get implements Cache. Expired entries are removed on access.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return "", false, nil
	}

	if entry.expired(time.Now()) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have renewed it.
		if current, ok := c.entries[key]; ok && current.expired(time.Now()) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false, nil
	}

	return entry.value, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Exists implements Cache.
func (c *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Get(ctx, key)
	return ok, err
}

// Clear implements Cache.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including not-yet-swept expired
// ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweep removes expired entries eagerly. Correctness does not depend on it;
// it exists only to reclaim memory between reads.
func (c *MemoryCache) sweep() {
	now := time.Now()

	c.mu.Lock()
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// CacheJanitor periodically sweeps expired entries from a MemoryCache on a
// cron schedule.
type CacheJanitor struct {
	cache *MemoryCache
	cron  *cron.Cron
}

// NewCacheJanitor creates a janitor sweeping the cache on the given cron
// schedule (e.g. "@every 5m").
func NewCacheJanitor(cache *MemoryCache, schedule string) (*CacheJanitor, error) {
	c := cron.New()
	if _, err := c.AddFunc(schedule, cache.sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return &CacheJanitor{cache: cache, cron: c}, nil
}

// Start begins periodic sweeping in its own goroutine.
func (j *CacheJanitor) Start() {
	j.cron.Start()
}

// Stop halts sweeping and waits for an in-flight sweep to finish.
func (j *CacheJanitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}
