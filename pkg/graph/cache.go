package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bluefishs/CK-Missive-sub000/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// ResponseCache memoizes graph query responses in Redis. Every miss or Redis
// failure degrades to recomputation; the cache never changes results, only
// latency.
type ResponseCache struct {
	client *redis.Client
	ttls   map[string]time.Duration
}

// CacheParams binds the Redis client and the per-operation TTLs. A nil
// client yields a cache that always misses.
type CacheParams struct {
	Client      *redis.Client
	TTLDetail   time.Duration
	TTLNeighbor time.Duration
	TTLSearch   time.Duration
	TTLStats    time.Duration
}

const (
	opDetail    = "detail"
	opNeighbors = "neighbors"
	opPath      = "path"
	opTimeline  = "timeline"
	opTop       = "top"
	opSearch    = "search"
	opStats     = "stats"
)

func NewResponseCache(params CacheParams) *ResponseCache {
	ttl := func(d time.Duration, def time.Duration) time.Duration {
		if d <= 0 {
			return def
		}
		return d
	}
	detail := ttl(params.TTLDetail, 5*time.Minute)
	neighbors := ttl(params.TTLNeighbor, 5*time.Minute)
	search := ttl(params.TTLSearch, 2*time.Minute)
	stats := ttl(params.TTLStats, 30*time.Minute)

	return &ResponseCache{
		client: params.Client,
		ttls: map[string]time.Duration{
			opDetail:    detail,
			opNeighbors: neighbors,
			opPath:      neighbors,
			opTimeline:  detail,
			opTop:       stats,
			opSearch:    search,
			opStats:     stats,
		},
	}
}

// cacheKey builds "graph:{op}:{params}" keys.
func cacheKey(op string, params ...any) string {
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, fmt.Sprint(p))
	}
	return "graph:" + op + ":" + strings.Join(parts, ":")
}

func (c *ResponseCache) get(ctx context.Context, key string, dest any) bool {
	if c == nil || c.client == nil {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Debug("[Graph] Cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		logger.Debug("[Graph] Cache payload corrupt", "key", key, "error", err)
		return false
	}
	return true
}

func (c *ResponseCache) set(ctx context.Context, op, key string, value any) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttls[op]).Err(); err != nil {
		logger.Debug("[Graph] Cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached graph response. Called after merges and
// batch ingestion, where stale traversals would be visible.
func (c *ResponseCache) Invalidate(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, "graph:*", 200).Iterator()
	keys := make([]string, 0, 64)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Debug("[Graph] Cache scan failed", "error", err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			logger.Debug("[Graph] Cache invalidation failed", "error", err)
		}
	}
}
