package routing

import (
	"hash/fnv"
	"sync"
	"time"
)

const planCacheShards = 16

// PlanCache holds resolved plans under (alias, api, freeze_key) until their
// absolute expiry. TTL is bounded by the configured ceiling and by the plan's
// valid_until when present; expired entries are evicted lazily on read.
type PlanCache struct {
	maxTTL time.Duration
	shards [planCacheShards]planCacheShard
}

type planCacheShard struct {
	mu      sync.RWMutex
	entries map[string]cachedPlan
}

type cachedPlan struct {
	plan      RoutePlan
	expiresAt time.Time
}

// NewPlanCache builds a cache with the given TTL ceiling.
func NewPlanCache(maxTTL time.Duration) *PlanCache {
	c := &PlanCache{maxTTL: maxTTL}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]cachedPlan)
	}
	return c
}

// CacheKey composes the cache key for a request/plan pair.
func CacheKey(alias, api, freezeKey string) string {
	return alias + "|" + api + "|" + freezeKey
}

func (c *PlanCache) shard(key string) *planCacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%planCacheShards]
}

// Get returns a copy of a still-valid plan, or nil.
func (c *PlanCache) Get(key string) *RoutePlan {
	shard := c.shard(key)
	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok {
		return nil
	}
	if !time.Now().Before(entry.expiresAt) {
		shard.mu.Lock()
		// Re-check under the write lock; a Put may have refreshed the entry.
		if cur, ok := shard.entries[key]; ok && !time.Now().Before(cur.expiresAt) {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		return nil
	}
	plan := entry.plan
	return &plan
}

// Put stores the plan. Plans without cache control are not cached.
func (c *PlanCache) Put(key string, plan *RoutePlan) {
	if plan.Cache == nil {
		return
	}
	ttl := time.Duration(plan.Cache.TTLMs) * time.Millisecond
	if ttl <= 0 {
		return
	}
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	expiresAt := time.Now().Add(ttl)
	if vu := plan.Cache.ValidUntil; vu != nil && vu.Before(expiresAt) {
		expiresAt = *vu
	}
	if !expiresAt.After(time.Now()) {
		return
	}
	shard := c.shard(key)
	shard.mu.Lock()
	shard.entries[key] = cachedPlan{plan: *plan, expiresAt: expiresAt}
	shard.mu.Unlock()
}

// Flush drops every cached plan; used on routing reloads.
func (c *PlanCache) Flush() {
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.Lock()
		shard.entries = make(map[string]cachedPlan)
		shard.mu.Unlock()
	}
}

// Len counts live entries, including any not yet lazily evicted.
func (c *PlanCache) Len() int {
	total := 0
	for i := range c.shards {
		shard := &c.shards[i]
		shard.mu.RLock()
		total += len(shard.entries)
		shard.mu.RUnlock()
	}
	return total
}
