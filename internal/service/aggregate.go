package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

var (
	recomputeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "review_recompute_total",
			Help: "Total number of product aggregate recomputes by result.",
		},
		[]string{"result"},
	)

	recomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "review_recompute_duration_seconds",
			Help:    "Duration of product aggregate recomputes, lock wait included.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ComputeStats derives the aggregate snapshot of productID from reviews.
// Reviews that are not counted are ignored.
func ComputeStats(productID string, reviews []domain.Review, now time.Time) domain.ProductStats {
	st := domain.EmptyStats(productID)
	st.ComputedAt = now

	type subAcc struct{ sum, n int }
	type mentionAcc struct{ reviews, ratingSum int }

	var (
		ratingSum int
		subs      = make(map[string]*subAcc)
		mentions  = make(map[string]*mentionAcc)
	)

	for i := range reviews {
		r := &reviews[i]
		if !r.IsCounted() {
			continue
		}

		st.TotalReviews++
		ratingSum += r.OverallRating
		st.RatingDistribution[r.OverallRating]++

		for category, v := range r.SubRatings {
			acc, ok := subs[category]
			if !ok {
				acc = &subAcc{}
				subs[category] = acc
			}
			// Zero means not applicable.
			if v > 0 {
				acc.sum += v
				acc.n++
			}
		}

		seen := make(map[string]struct{}, len(r.Mentions))
		for _, m := range r.Mentions {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			acc, ok := mentions[m]
			if !ok {
				acc = &mentionAcc{}
				mentions[m] = acc
			}
			acc.reviews++
			acc.ratingSum += r.OverallRating
		}
	}

	if st.TotalReviews > 0 {
		st.AvgRating = domain.RoundRating(float64(ratingSum) / float64(st.TotalReviews))
	}

	for category, acc := range subs {
		if acc.n == 0 {
			st.AvgSubRatings[category] = nil
			continue
		}
		avg := domain.RoundRating(float64(acc.sum) / float64(acc.n))
		st.AvgSubRatings[category] = &avg
	}

	for m, acc := range mentions {
		st.Mentions = append(st.Mentions, domain.MentionStat{
			Mention:   m,
			Count:     acc.reviews,
			AvgRating: domain.RoundRating(float64(acc.ratingSum) / float64(acc.reviews)),
		})
	}
	domain.SortMentions(st.Mentions)

	return st
}

// AggregateRecomputer rebuilds a product's aggregate snapshot from scratch.
// Recomputes of the same product are serialized by the locker, and the
// snapshot is written in one Save, so concurrent triggers converge on the
// state of the store.
type AggregateRecomputer struct {
	reviews repository.ReviewStore
	stats   repository.StatsStore
	locker  repository.RecomputeLocker
	stale   repository.StaleMarker
	logger  *slog.Logger
	now     func() time.Time
}

// NewAggregateRecomputer creates a recomputer. stale may be nil.
func NewAggregateRecomputer(
	reviews repository.ReviewStore,
	stats repository.StatsStore,
	locker repository.RecomputeLocker,
	stale repository.StaleMarker,
	logger *slog.Logger,
) *AggregateRecomputer {
	return &AggregateRecomputer{
		reviews: reviews,
		stats:   stats,
		locker:  locker,
		stale:   stale,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Compute returns the snapshot productID should have given the reviews
// currently stored, without writing it. ComputedAt is taken before the scan,
// so a snapshot never claims to be newer than the reads it was built from.
func (a *AggregateRecomputer) Compute(ctx context.Context, productID string) (domain.ProductStats, error) {
	at := a.now()
	reviews, err := a.reviews.FindCounted(ctx, productID)
	if err != nil {
		return domain.ProductStats{}, fmt.Errorf("load counted reviews: %w", err)
	}
	return ComputeStats(productID, reviews, at), nil
}

// Recompute rescans the counted reviews of productID and overwrites its
// snapshot. On failure the product is marked stale and a RECOMPUTE_FAILED
// error is returned.
func (a *AggregateRecomputer) Recompute(ctx context.Context, productID string) (*domain.ProductStats, error) {
	start := time.Now()
	defer func() { recomputeDuration.Observe(time.Since(start).Seconds()) }()

	st, err := a.recompute(ctx, productID)
	if err != nil {
		recomputeTotal.WithLabelValues("error").Inc()
		a.markStale(ctx, productID)
		return nil, apperrors.Recompute(productID, err)
	}

	recomputeTotal.WithLabelValues("success").Inc()
	return st, nil
}

func (a *AggregateRecomputer) recompute(ctx context.Context, productID string) (*domain.ProductStats, error) {
	unlock, err := a.locker.Lock(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("acquire recompute lock: %w", err)
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			a.logger.WarnContext(ctx, "failed to release recompute lock",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
		}
	}()

	st, err := a.Compute(ctx, productID)
	if err != nil {
		return nil, err
	}
	if err := a.stats.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save product stats: %w", err)
	}

	if a.stale != nil {
		if err := a.stale.ClearStale(ctx, productID); err != nil {
			a.logger.WarnContext(ctx, "failed to clear stale flag",
				slog.String("product_id", productID),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.DebugContext(ctx, "product stats recomputed",
		slog.String("product_id", productID),
		slog.Int("total_reviews", st.TotalReviews),
		slog.Float64("avg_rating", st.AvgRating),
	)
	return &st, nil
}

func (a *AggregateRecomputer) markStale(ctx context.Context, productID string) {
	if a.stale == nil {
		return
	}
	if err := a.stale.MarkStale(ctx, productID); err != nil {
		a.logger.ErrorContext(ctx, "failed to mark product stale",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}
