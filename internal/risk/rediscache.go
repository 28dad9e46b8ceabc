package risk

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReputationCache shares reputation entries across processes. The TTL is
// enforced by redis key expiry instead of a read-side staleness check.
type RedisReputationCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisReputationCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisReputationCache {
	return &RedisReputationCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func cacheKey(address string) string {
	return "ip_reputation:" + address
}

func (c *RedisReputationCache) Lookup(ctx context.Context, address string) (*ReputationEntry, bool) {
	data, err := c.client.Get(ctx, cacheKey(address)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("reputation cache lookup failed", slog.Any("error", err))
		}
		return nil, false
	}

	var entry ReputationEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("reputation cache entry corrupt", slog.String("address", address), slog.Any("error", err))
		return nil, false
	}
	return &entry, true
}

func (c *RedisReputationCache) Store(ctx context.Context, entry ReputationEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("failed to marshal reputation entry", slog.Any("error", err))
		return
	}

	// Cache misses are recomputed deterministically, so a failed store only
	// costs a recomputation.
	if err := c.client.Set(ctx, cacheKey(entry.Address), data, c.ttl).Err(); err != nil {
		c.logger.Warn("reputation cache store failed", slog.Any("error", err))
	}
}
