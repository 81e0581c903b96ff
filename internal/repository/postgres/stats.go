package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	"github.com/marketplace/reviewcore/pkg/database"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

// StatsStore implements repository.StatsStore on the product_rating_stats
// table.
type StatsStore struct {
	pool database.DBTX
}

// NewStatsStore creates a new PostgreSQL-backed stats store.
func NewStatsStore(pool database.DBTX) *StatsStore {
	return &StatsStore{pool: pool}
}

var _ repository.StatsStore = (*StatsStore)(nil)

// Get returns the stored snapshot of productID.
func (s *StatsStore) Get(ctx context.Context, productID string) (_ *domain.ProductStats, err error) {
	query := `
		SELECT product_id, avg_rating::float8, total_reviews, rating_distribution,
		       avg_sub_ratings, mentions, computed_at
		FROM product_rating_stats
		WHERE product_id = $1`

	ctx, end := database.TraceQuery(ctx, "GetProductStats", query)
	defer func() { end(err) }()

	var (
		st                             domain.ProductStats
		distJSON, subJSON, mentionJSON []byte
	)
	err = s.pool.QueryRow(ctx, query, productID).Scan(
		&st.ProductID,
		&st.AvgRating,
		&st.TotalReviews,
		&distJSON,
		&subJSON,
		&mentionJSON,
		&st.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("product stats", productID)
		}
		return nil, fmt.Errorf("get product stats: %w", err)
	}

	st.RatingDistribution = domain.NewRatingDistribution()
	if err := json.Unmarshal(distJSON, &st.RatingDistribution); err != nil {
		return nil, fmt.Errorf("unmarshal rating distribution: %w", err)
	}
	st.AvgSubRatings = map[string]*float64{}
	if err := json.Unmarshal(subJSON, &st.AvgSubRatings); err != nil {
		return nil, fmt.Errorf("unmarshal sub rating averages: %w", err)
	}
	if len(mentionJSON) > 0 {
		if err := json.Unmarshal(mentionJSON, &st.Mentions); err != nil {
			return nil, fmt.Errorf("unmarshal mentions: %w", err)
		}
	}

	return &st, nil
}

// Save upserts every derived field of the snapshot in a single statement. A
// stored snapshot computed later than stats is left in place.
func (s *StatsStore) Save(ctx context.Context, stats domain.ProductStats) (err error) {
	query := `
		INSERT INTO product_rating_stats
			(product_id, avg_rating, total_reviews, rating_distribution, avg_sub_ratings, mentions, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (product_id) DO UPDATE SET
			avg_rating = EXCLUDED.avg_rating,
			total_reviews = EXCLUDED.total_reviews,
			rating_distribution = EXCLUDED.rating_distribution,
			avg_sub_ratings = EXCLUDED.avg_sub_ratings,
			mentions = EXCLUDED.mentions,
			computed_at = EXCLUDED.computed_at
		WHERE product_rating_stats.computed_at <= EXCLUDED.computed_at`

	ctx, end := database.TraceQuery(ctx, "SaveProductStats", query)
	defer func() { end(err) }()

	dist := stats.RatingDistribution
	if dist == nil {
		dist = domain.NewRatingDistribution()
	}
	distJSON, err := json.Marshal(dist)
	if err != nil {
		return fmt.Errorf("marshal rating distribution: %w", err)
	}
	sub := stats.AvgSubRatings
	if sub == nil {
		sub = map[string]*float64{}
	}
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal sub rating averages: %w", err)
	}
	mentions := stats.Mentions
	if mentions == nil {
		mentions = []domain.MentionStat{}
	}
	mentionJSON, err := json.Marshal(mentions)
	if err != nil {
		return fmt.Errorf("marshal mentions: %w", err)
	}

	_, err = s.pool.Exec(ctx, query,
		stats.ProductID,
		stats.AvgRating,
		stats.TotalReviews,
		distJSON,
		subJSON,
		mentionJSON,
		stats.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("save product stats: %w", err)
	}
	return nil
}

// ProductIDs returns every product with a stored snapshot.
func (s *StatsStore) ProductIDs(ctx context.Context) (_ []string, err error) {
	query := `SELECT product_id FROM product_rating_stats ORDER BY product_id`

	ctx, end := database.TraceQuery(ctx, "StatsProductIDs", query)
	defer func() { end(err) }()

	return queryStrings(ctx, s.pool, query)
}

// StaleTable implements repository.StaleMarker on the stale_products table.
// It is used when Redis is not configured.
type StaleTable struct {
	pool database.DBTX
}

// NewStaleTable creates a new PostgreSQL-backed stale marker.
func NewStaleTable(pool database.DBTX) *StaleTable {
	return &StaleTable{pool: pool}
}

var _ repository.StaleMarker = (*StaleTable)(nil)

// MarkStale records productID. Marking an already stale product is a no-op.
func (t *StaleTable) MarkStale(ctx context.Context, productID string) error {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO stale_products (product_id, marked_at) VALUES ($1, NOW()) ON CONFLICT (product_id) DO NOTHING`,
		productID)
	if err != nil {
		return fmt.Errorf("mark product stale: %w", err)
	}
	return nil
}

// ClearStale removes productID.
func (t *StaleTable) ClearStale(ctx context.Context, productID string) error {
	if _, err := t.pool.Exec(ctx, `DELETE FROM stale_products WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("clear stale product: %w", err)
	}
	return nil
}

// StaleProducts lists every stale product.
func (t *StaleTable) StaleProducts(ctx context.Context) ([]string, error) {
	return queryStrings(ctx, t.pool, `SELECT product_id FROM stale_products ORDER BY product_id`)
}
