package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// Cached list kinds.
const (
	KindProducts = "products"
	KindOrders   = "orders"
)

// ListCache is a read-through Redis cache for paginated list responses.
// Pages are keyed by a per-kind generation counter; invalidation bumps the
// counter so every cached page of that kind becomes unreachable at once and
// ages out through its TTL. Every failure degrades to a cache miss.
type ListCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewListCache connects to Redis and returns the cache, or an error when the
// server is unreachable.
func NewListCache(addr string, ttl time.Duration) (*ListCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("cache: failed to connect to Redis at %s: %w", addr, err)
	}
	log.WithField("addr", addr).Info("connected to Redis list cache")

	return &ListCache{client: client, ttl: ttl}, nil
}

func genKey(kind string) string {
	return "lists:gen:" + kind
}

func pageKey(kind string, gen int64, page, perPage int, sortKey string) string {
	return fmt.Sprintf("lists:%s:%d:page=%d:per=%d:sort=%s", kind, gen, page, perPage, sortKey)
}

func (c *ListCache) generation(ctx context.Context, kind string) int64 {
	gen, err := c.client.Get(ctx, genKey(kind)).Int64()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("kind", kind).Warn("failed to read cache generation")
		}
		return 0
	}
	return gen
}

// GetPage fills dest from the cached page, reporting whether it was found.
func (c *ListCache) GetPage(ctx context.Context, kind string, page, perPage int, sortKey string, dest interface{}) bool {
	key := pageKey(kind, c.generation(ctx, kind), page, perPage, sortKey)
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("key", key).Warn("list cache read failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		log.WithError(err).WithField("key", key).Warn("discarding undecodable list cache entry")
		return false
	}
	return true
}

// SetPage stores the page under the current generation.
func (c *ListCache) SetPage(ctx context.Context, kind string, page, perPage int, sortKey string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).WithField("kind", kind).Warn("failed to marshal list cache entry")
		return
	}
	key := pageKey(kind, c.generation(ctx, kind), page, perPage, sortKey)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Warn("list cache write failed")
	}
}

// Invalidate bumps the generation counter of each kind, orphaning every page
// cached under the previous generation.
func (c *ListCache) Invalidate(ctx context.Context, kinds ...string) {
	for _, kind := range kinds {
		if err := c.client.Incr(ctx, genKey(kind)).Err(); err != nil {
			log.WithError(err).WithField("kind", kind).Warn("list cache invalidation failed")
		}
	}
}

// Close closes the Redis connection.
func (c *ListCache) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			log.WithError(err).Warn("failed to close Redis connection")
		}
	}
}
