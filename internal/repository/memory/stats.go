package memory

import (
	"context"
	"sync"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

// StatsStore is an in-memory repository.StatsStore.
type StatsStore struct {
	mu    sync.RWMutex
	stats map[string]domain.ProductStats
}

// NewStatsStore creates an empty store.
func NewStatsStore() *StatsStore {
	return &StatsStore{stats: make(map[string]domain.ProductStats)}
}

var _ repository.StatsStore = (*StatsStore)(nil)

// Get implements repository.StatsStore.
func (s *StatsStore) Get(_ context.Context, productID string) (*domain.ProductStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stats[productID]
	if !ok {
		return nil, apperrors.NotFound("product stats", productID)
	}
	out := cloneStats(st)
	return &out, nil
}

// Save implements repository.StatsStore.
func (s *StatsStore) Save(_ context.Context, stats domain.ProductStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.stats[stats.ProductID]; ok && cur.ComputedAt.After(stats.ComputedAt) {
		return nil
	}
	s.stats[stats.ProductID] = cloneStats(stats)
	return nil
}

// ProductIDs implements repository.StatsStore.
func (s *StatsStore) ProductIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[string]struct{}, len(s.stats))
	for id := range s.stats {
		ids[id] = struct{}{}
	}
	return sortedKeys(ids), nil
}

func cloneStats(s domain.ProductStats) domain.ProductStats {
	c := s
	c.RatingDistribution = make(domain.RatingDistribution, len(s.RatingDistribution))
	for k, v := range s.RatingDistribution {
		c.RatingDistribution[k] = v
	}
	c.AvgSubRatings = make(map[string]*float64, len(s.AvgSubRatings))
	for k, v := range s.AvgSubRatings {
		if v == nil {
			c.AvgSubRatings[k] = nil
			continue
		}
		f := *v
		c.AvgSubRatings[k] = &f
	}
	c.Mentions = append([]domain.MentionStat(nil), s.Mentions...)
	return c
}

// StaleSet is an in-memory repository.StaleMarker.
type StaleSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewStaleSet creates an empty set.
func NewStaleSet() *StaleSet {
	return &StaleSet{ids: make(map[string]struct{})}
}

var _ repository.StaleMarker = (*StaleSet)(nil)

// MarkStale implements repository.StaleMarker.
func (s *StaleSet) MarkStale(_ context.Context, productID string) error {
	s.mu.Lock()
	s.ids[productID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// ClearStale implements repository.StaleMarker.
func (s *StaleSet) ClearStale(_ context.Context, productID string) error {
	s.mu.Lock()
	delete(s.ids, productID)
	s.mu.Unlock()
	return nil
}

// StaleProducts implements repository.StaleMarker.
func (s *StaleSet) StaleProducts(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.ids), nil
}
