// Package cache provides a Redis-backed query result cache with singleflight
// deduplication of concurrent misses for the same key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/mizuchi-search/mizuchi/internal/scorer"
	"github.com/mizuchi-search/mizuchi/pkg/config"
	pkgredis "github.com/mizuchi-search/mizuchi/pkg/redis"
)

const keyPrefix = "search:"

// QueryCache caches search responses in Redis keyed on the full query shape
// (query text, mode, limit, page). Concurrent misses for the same key share
// one computation through singleflight.
type QueryCache struct {
	client *pkgredis.Client
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		client: client,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Get returns a cached response, if present. Redis errors count as misses so
// the cache never blocks a query.
func (c *QueryCache) Get(ctx context.Context, key string) (scorer.Response, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return scorer.Response{}, false
	}
	var resp scorer.Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return scorer.Response{}, false
	}
	c.hits.Add(1)
	return resp, true
}

// Set stores a response under key. Failures are logged and ignored.
func (c *QueryCache) Set(ctx context.Context, key string, resp scorer.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for the query shape, computing and
// caching it on a miss. The returned bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	query string,
	mode string,
	limit, page int,
	computeFn func() (scorer.Response, error),
) (scorer.Response, bool, error) {
	key := BuildKey(query, mode, limit, page)
	if resp, ok := c.Get(ctx, key); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if resp, ok := c.Get(ctx, key); ok {
			return resp, nil
		}
		resp, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, resp)
		return resp, nil
	})
	if err != nil {
		return scorer.Response{}, false, err
	}
	return val.(scorer.Response), false, nil
}

// Invalidate removes every cached search response.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// Stats returns the hit and miss counters since startup.
func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BuildKey derives the Redis key for a query shape. The raw key is hashed so
// arbitrary query text cannot produce oversized or unsafe keys.
func BuildKey(query, mode string, limit, page int) string {
	raw := fmt.Sprintf("%s|mode=%s|limit=%d|page=%d", query, mode, limit, page)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
