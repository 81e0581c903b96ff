package redis

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/marketplace/reviewcore/internal/repository"
)

const staleSetKey = "review:stale-products"

// StaleSet is a repository.StaleMarker backed by a Redis set.
type StaleSet struct {
	client redis.Cmdable
}

// NewStaleSet creates a stale marker on client.
func NewStaleSet(client redis.Cmdable) *StaleSet {
	return &StaleSet{client: client}
}

var _ repository.StaleMarker = (*StaleSet)(nil)

// MarkStale implements repository.StaleMarker.
func (s *StaleSet) MarkStale(ctx context.Context, productID string) error {
	if err := s.client.SAdd(ctx, staleSetKey, productID).Err(); err != nil {
		return fmt.Errorf("redis sadd stale: %w", err)
	}
	return nil
}

// ClearStale implements repository.StaleMarker.
func (s *StaleSet) ClearStale(ctx context.Context, productID string) error {
	if err := s.client.SRem(ctx, staleSetKey, productID).Err(); err != nil {
		return fmt.Errorf("redis srem stale: %w", err)
	}
	return nil
}

// StaleProducts implements repository.StaleMarker.
func (s *StaleSet) StaleProducts(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, staleSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers stale: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}
