// Package redis implements the stats cache, the distributed recompute lock and
// the stale-product set on Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
)

const statsKeyPrefix = "review:stats:"

// putScript stores a snapshot and its computed_at (unix micros) unless the
// cache already holds one computed later. KEYS: data, computed_at.
// ARGV: snapshot JSON, computed_at, ttl in milliseconds (0 keeps forever).
var putScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[2])
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
	redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
	redis.call("SET", KEYS[2], ARGV[2])
end
return 1
`)

// CachedStatsStore is a read-through, write-through cache in front of another
// repository.StatsStore. Cache writes never replace a snapshot computed later
// than the one being written, so a miss that loaded an older snapshot cannot
// overwrite a concurrent Save. Redis failures are logged and fall back to the
// backing store.
type CachedStatsStore struct {
	next   repository.StatsStore
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedStatsStore wraps next with a Redis cache whose entries expire
// after ttl.
func NewCachedStatsStore(next repository.StatsStore, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *CachedStatsStore {
	return &CachedStatsStore{next: next, client: client, ttl: ttl, logger: logger}
}

var _ repository.StatsStore = (*CachedStatsStore)(nil)

func statsKey(productID string) string {
	return statsKeyPrefix + productID
}

func computedAtKey(productID string) string {
	return statsKeyPrefix + productID + ":computed_at"
}

// Get serves the snapshot from cache, loading it from the backing store on a
// miss.
func (c *CachedStatsStore) Get(ctx context.Context, productID string) (*domain.ProductStats, error) {
	data, err := c.client.Get(ctx, statsKey(productID)).Bytes()
	switch {
	case err == nil:
		var st domain.ProductStats
		if jsonErr := json.Unmarshal(data, &st); jsonErr == nil {
			return &st, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable cached stats",
			slog.String("product_id", productID),
		)
	case !errors.Is(err, redis.Nil):
		c.logger.WarnContext(ctx, "stats cache read failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}

	st, err := c.next.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	c.put(ctx, *st)
	return st, nil
}

// Save writes the snapshot to the backing store and then refreshes the cache.
func (c *CachedStatsStore) Save(ctx context.Context, stats domain.ProductStats) error {
	if err := c.next.Save(ctx, stats); err != nil {
		return err
	}
	c.put(ctx, stats)
	return nil
}

// ProductIDs reads through to the backing store.
func (c *CachedStatsStore) ProductIDs(ctx context.Context) ([]string, error) {
	return c.next.ProductIDs(ctx)
}

// Invalidate drops the cached snapshot of productID.
func (c *CachedStatsStore) Invalidate(ctx context.Context, productID string) error {
	if err := c.client.Del(ctx, statsKey(productID), computedAtKey(productID)).Err(); err != nil {
		return fmt.Errorf("redis del stats: %w", err)
	}
	return nil
}

func (c *CachedStatsStore) put(ctx context.Context, st domain.ProductStats) {
	data, err := json.Marshal(st)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to marshal stats for cache",
			slog.String("product_id", st.ProductID),
			slog.String("error", err.Error()),
		)
		return
	}

	keys := []string{statsKey(st.ProductID), computedAtKey(st.ProductID)}
	err = putScript.Run(ctx, c.client, keys,
		data,
		strconv.FormatInt(st.ComputedAt.UnixMicro(), 10),
		c.ttl.Milliseconds(),
	).Err()
	if err != nil {
		c.logger.WarnContext(ctx, "stats cache write failed",
			slog.String("product_id", st.ProductID),
			slog.String("error", err.Error()),
		)
		// A stale entry must not outlive a newer snapshot.
		_ = c.client.Del(ctx, keys...).Err()
	}
}
