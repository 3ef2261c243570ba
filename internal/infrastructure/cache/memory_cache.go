// Package cache implements the storefront's multi-tier cache: a bounded
// in-process tier (L1), a Redis-backed shared tier (L2), and the orchestrator
// that composes them behind per-data-type strategies.
package cache

import (
	"container/list"
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// evictFraction is the share of tracked entries dropped per eviction pass.
const evictFraction = 0.10

// MemoryCacheConfig configures the in-process tier.
type MemoryCacheConfig struct {
	MaxBytes      int64
	SweepInterval time.Duration
}

// MemoryCache is the in-process tier: a byte-budgeted map with per-entry
// expiry and LRU-ordered batch eviction.
//
// Key Features:
//   - Check-on-read expiry, plus a background sweep
//   - Eviction of the least recently touched ~10% when the budget is exceeded
//   - Prefix/substring invalidation for pattern deletes
//   - Memory usage snapshot for the statistics surface
type MemoryCache struct {
	mu          sync.Mutex
	items       map[string]*cacheItem
	lruList     *list.List
	maxMemory   int64
	currentSize int64

	evictions   int64
	expirations int64

	sweepInterval time.Duration
	cancel        context.CancelFunc
	done          chan struct{}

	now    func() time.Time
	logger *zap.Logger
}

// cacheItem represents a single cached entry
type cacheItem struct {
	key        string
	value      []byte
	size       int64
	expiry     time.Time
	lastAccess time.Time
	lruElement *list.Element
}

// MemoryUsage is the local-tier snapshot exposed on the statistics surface.
type MemoryUsage struct {
	TotalEntries      int     `json:"totalEntries"`
	CurrentUsageBytes int64   `json:"currentUsageBytes"`
	MaxUsageBytes     int64   `json:"maxUsageBytes"`
	UsagePercentage   float64 `json:"usagePercentage"`
	Evictions         int64   `json:"evictions"`
	Expirations       int64   `json:"expirations"`
}

// NewMemoryCache creates a new in-memory cache with the specified configuration
func NewMemoryCache(cfg MemoryCacheConfig, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	return &MemoryCache{
		items:         make(map[string]*cacheItem),
		lruList:       list.New(),
		maxMemory:     cfg.MaxBytes,
		sweepInterval: cfg.SweepInterval,
		now:           time.Now,
		logger:        logger,
	}
}

// Get retrieves a value. Expired entries are removed and reported as a miss
// even if the sweep has not reached them yet.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return nil, false
	}

	now := c.now()
	if !now.Before(item.expiry) {
		c.removeItem(item)
		c.expirations++
		return nil, false
	}

	c.lruList.MoveToFront(item.lruElement)
	item.lastAccess = now

	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true
}

// Remaining returns the time left before key expires.
func (c *MemoryCache) Remaining(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return 0, false
	}
	left := item.expiry.Sub(c.now())
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// Set stores a value with the specified TTL. It returns false when the entry
// alone is larger than the whole budget and was therefore not cached.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = TTLMedium
	}
	itemSize := int64(len(key) + len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	if itemSize > c.maxMemory {
		c.logger.Warn("Item too large for local cache",
			zap.String("key", key),
			zap.Int64("size", itemSize),
			zap.Int64("max_memory", c.maxMemory),
		)
		return false
	}

	if existing, exists := c.items[key]; exists {
		c.removeItem(existing)
	}

	for c.currentSize+itemSize > c.maxMemory && c.lruList.Len() > 0 {
		c.evictBatch()
	}

	now := c.now()
	item := &cacheItem{
		key:        key,
		value:      make([]byte, len(value)),
		size:       itemSize,
		expiry:     now.Add(ttl),
		lastAccess: now,
	}
	copy(item.value, value)

	item.lruElement = c.lruList.PushFront(item)
	c.items[key] = item
	c.currentSize += itemSize
	return true
}

// evictBatch drops the least recently touched tenth of the entries, at least
// one, and returns how many were removed. Must be called with the lock held.
func (c *MemoryCache) evictBatch() int {
	n := int(math.Ceil(float64(c.lruList.Len()) * evictFraction))
	if n < 1 {
		n = 1
	}
	var (
		freed   int64
		removed int
	)
	for ; removed < n; removed++ {
		oldest := c.lruList.Back()
		if oldest == nil {
			break
		}
		item := oldest.Value.(*cacheItem)
		freed += item.size
		c.removeItem(item)
		c.evictions++
	}
	c.logger.Debug("Evicted local cache entries",
		zap.Int("count", removed),
		zap.Int64("freed_bytes", freed),
		zap.Int64("usage_bytes", c.currentSize),
	)
	return removed
}

// Delete removes a value from the cache
func (c *MemoryCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeItem(item)
	return true
}

// DeleteMatching removes every key that starts with prefix and contains
// substr. Either may be empty.
func (c *MemoryCache) DeleteMatching(prefix, substr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	toDelete := make([]*cacheItem, 0)
	for key, item := range c.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if substr != "" && !strings.Contains(key[len(prefix):], substr) {
			continue
		}
		toDelete = append(toDelete, item)
	}
	for _, item := range toDelete {
		c.removeItem(item)
	}
	return len(toDelete)
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.lruList.Init()
	c.currentSize = 0
}

// removeItem removes an item from the cache (must be called with lock held)
func (c *MemoryCache) removeItem(item *cacheItem) {
	if item.lruElement != nil {
		c.lruList.Remove(item.lruElement)
	}
	delete(c.items, item.key)
	c.currentSize -= item.size
}

// Usage returns the memory usage snapshot.
func (c *MemoryCache) Usage() MemoryUsage {
	c.mu.Lock()
	defer c.mu.Unlock()

	pct := 0.0
	if c.maxMemory > 0 {
		pct = float64(c.currentSize) / float64(c.maxMemory) * 100
	}
	return MemoryUsage{
		TotalEntries:      len(c.items),
		CurrentUsageBytes: c.currentSize,
		MaxUsageBytes:     c.maxMemory,
		UsagePercentage:   pct,
		Evictions:         c.evictions,
		Expirations:       c.expirations,
	}
}

// Start launches the background expiry sweep. It is a no-op when already
// running.
func (c *MemoryCache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanupExpired()
			}
		}
	}()
}

// Stop halts the sweep and waits for it to exit.
func (c *MemoryCache) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// cleanupExpired removes expired items from the cache
func (c *MemoryCache) cleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	toRemove := make([]*cacheItem, 0)
	for _, item := range c.items {
		if !now.Before(item.expiry) {
			toRemove = append(toRemove, item)
		}
	}
	for _, item := range toRemove {
		c.removeItem(item)
	}
	c.expirations += int64(len(toRemove))

	if len(toRemove) > 0 {
		c.logger.Debug("Cleaned up expired cache items",
			zap.Int("count", len(toRemove)),
		)
	}
	return len(toRemove)
}
