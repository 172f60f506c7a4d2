package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirychukyurii/hv-balancer/internal/model"
)

// Cache defines the interface for caching operations
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Clear()
}

// TTLCache implements Cache interface with time-to-live support
type TTLCache struct {
	data *gocache.Cache
}

// New creates a new TTL cache with default cleanup interval
func New(defaultTTL time.Duration) *TTLCache {
	cleanupInterval := defaultTTL * 2
	return &TTLCache{
		data: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the cache
func (c *TTLCache) Get(key string) (any, bool) {
	return c.data.Get(key)
}

// Set stores a value in the cache with the specified TTL
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	c.data.Set(key, value, ttl)
}

// Delete removes a value from the cache
func (c *TTLCache) Delete(key string) {
	c.data.Delete(key)
}

// Clear removes all values from the cache
func (c *TTLCache) Clear() {
	c.data.Flush()
}

// Len returns the number of cached items, including expired ones not yet cleaned up
func (c *TTLCache) Len() int {
	return c.data.ItemCount()
}

// FlavorCache keeps flavor lookups across iterations. Flavors are immutable
// once created, so a long TTL is safe.
type FlavorCache struct {
	cache Cache
	ttl   time.Duration
}

// NewFlavorCache creates a flavor cache on top of a TTL cache
func NewFlavorCache(c Cache, ttl time.Duration) *FlavorCache {
	return &FlavorCache{cache: c, ttl: ttl}
}

// Get returns the cached flavor by id
func (f *FlavorCache) Get(id string) (model.Flavor, bool) {
	v, ok := f.cache.Get(flavorKey(id))
	if !ok {
		return model.Flavor{}, false
	}
	flavor, ok := v.(model.Flavor)
	return flavor, ok
}

// Set stores a flavor
func (f *FlavorCache) Set(flavor model.Flavor) {
	f.cache.Set(flavorKey(flavor.ID), flavor, f.ttl)
}

func flavorKey(id string) string {
	return "flavor:" + id
}
