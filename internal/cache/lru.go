package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/objectfs/storage-gateway/pkg/types"
)

// EntryCache is a thread-safe LRU cache of search-index entries,
// keyed by (mountID, fsPath). It sits in front of the SearchIndexStore so
// that repeated lookups of the same directory during a listing burst do not
// round-trip to the backing store.
type EntryCache struct {
	mu          sync.RWMutex
	capacity    int
	items       map[string]*cacheItem
	evictList   *list.List
	config      *CacheConfig
	stats       types.CacheStats
	stopCleanup chan struct{}
}

// CacheConfig configures EntryCache sizing and expiry.
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultCacheConfig returns the metadata-lookup cache defaults: roughly 500
// entries with a 10 minute TTL.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxEntries:      500,
		TTL:             10 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

type cacheItem struct {
	key         string
	entry       types.Entry
	timestamp   time.Time
	accessTime  time.Time
	accessCount int64
	weight      float64
	element     *list.Element
}

// NewEntryCache creates a new EntryCache. A nil config uses DefaultCacheConfig.
func NewEntryCache(config *CacheConfig) *EntryCache {
	if config == nil {
		config = DefaultCacheConfig()
	}

	c := &EntryCache{
		capacity:  config.MaxEntries,
		items:     make(map[string]*cacheItem),
		evictList: list.New(),
		config:    config,
		stats: types.CacheStats{
			Capacity: config.MaxEntries,
		},
		stopCleanup: make(chan struct{}),
	}

	go c.cleanupExpired()

	return c
}

// Get returns the cached entry for (mountID, fsPath), or nil on a miss.
func (c *EntryCache) Get(mountID, fsPath string) *types.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(mountID, fsPath)
	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		c.updateHitRate()
		return nil
	}

	if c.isExpired(item) {
		c.removeItem(key)
		c.stats.Misses++
		c.updateHitRate()
		return nil
	}

	item.accessTime = time.Now()
	item.accessCount++
	item.weight = c.calculateWeight(item)
	c.evictList.MoveToFront(item.element)

	c.stats.Hits++
	c.updateHitRate()

	entry := item.entry
	return &entry
}

// Put stores or refreshes an entry in the cache.
func (c *EntryCache) Put(e types.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(e.MountID, e.FSPath)

	if item, exists := c.items[key]; exists {
		item.entry = e
		item.timestamp = time.Now()
		item.accessTime = time.Now()
		item.accessCount++
		item.weight = c.calculateWeight(item)
		c.evictList.MoveToFront(item.element)
		return
	}

	newItem := &cacheItem{
		key:         key,
		entry:       e,
		timestamp:   time.Now(),
		accessTime:  time.Now(),
		accessCount: 1,
	}
	newItem.weight = c.calculateWeight(newItem)
	newItem.element = c.evictList.PushFront(key)
	c.items[key] = newItem

	c.evictIfNeeded()
}

// Invalidate removes a single entry from the cache.
func (c *EntryCache) Invalidate(mountID, fsPath string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeItem(cacheKey(mountID, fsPath))
}

// InvalidateMount drops every cached entry belonging to a mount, used when a
// rebuild or apply-dirty run lands (C7's threshold-degrade and
// directory-collapse rules operate at this granularity).
func (c *EntryCache) InvalidateMount(mountID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := mountID + "\x00"
	var toRemove []string
	for key := range c.items {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		c.removeItem(key)
	}
}

// Stats returns a snapshot of cache counters.
func (c *EntryCache) Stats() types.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := c.stats
	stats.Entries = len(c.items)
	stats.Capacity = c.capacity
	if c.capacity > 0 {
		stats.Utilization = float64(len(c.items)) / float64(c.capacity)
	}
	return stats
}

// Close stops the background cleanup goroutine.
func (c *EntryCache) Close() {
	close(c.stopCleanup)
}

func cacheKey(mountID, fsPath string) string {
	return mountID + "\x00" + fsPath
}

func (c *EntryCache) isExpired(item *cacheItem) bool {
	if c.config.TTL == 0 {
		return false
	}
	return time.Since(item.timestamp) > c.config.TTL
}

func (c *EntryCache) calculateWeight(item *cacheItem) float64 {
	recencyFactor := 1.0 / (1.0 + time.Since(item.accessTime).Seconds()/3600.0)
	frequencyFactor := float64(item.accessCount)
	return recencyFactor * frequencyFactor
}

func (c *EntryCache) removeItem(key string) {
	item, exists := c.items[key]
	if !exists {
		return
	}
	if item.element != nil {
		c.evictList.Remove(item.element)
	}
	delete(c.items, key)
	c.stats.Evictions++
}

func (c *EntryCache) evictIfNeeded() {
	for c.capacity > 0 && len(c.items) > c.capacity && c.evictList.Len() > 0 {
		element := c.evictList.Back()
		if element == nil {
			return
		}
		key := element.Value.(string)
		c.removeItem(key)
	}
}

func (c *EntryCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *EntryCache) cleanupExpired() {
	interval := c.config.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCleanup:
			return
		case <-ticker.C:
			c.mu.Lock()
			var expired []string
			for key, item := range c.items {
				if c.isExpired(item) {
					expired = append(expired, key)
				}
			}
			for _, key := range expired {
				c.removeItem(key)
			}
			c.mu.Unlock()
		}
	}
}
