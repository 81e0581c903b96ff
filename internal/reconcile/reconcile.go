// Package reconcile compares stored product aggregates with the values their
// counted reviews produce, and optionally repairs the ones that drifted.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

var (
	productsChecked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_reconcile_products_checked_total",
		Help: "Total number of products checked by reconciliation.",
	})

	driftTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "review_reconcile_drift_total",
		Help: "Total number of products whose stored aggregate did not match their reviews.",
	})
)

// Recomputer computes and rewrites product aggregates.
type Recomputer interface {
	Compute(ctx context.Context, productID string) (domain.ProductStats, error)
	Recompute(ctx context.Context, productID string) (*domain.ProductStats, error)
}

// ProductLister lists products that have review rows.
type ProductLister interface {
	ProductIDs(ctx context.Context) ([]string, error)
}

// Options controls a single reconciliation run.
type Options struct {
	// ProductIDs restricts the run. Empty means every known product.
	ProductIDs []string

	// Fix rewrites drifted or stale snapshots.
	Fix bool
}

// Drift describes a stored snapshot that disagrees with its reviews.
type Drift struct {
	ProductID string              `json:"product_id"`
	Fields    []string            `json:"fields"`
	Missing   bool                `json:"missing,omitempty"`
	Stale     bool                `json:"stale,omitempty"`
	Stored    domain.ProductStats `json:"stored"`
	Actual    domain.ProductStats `json:"actual"`
	Fixed     bool                `json:"fixed"`
}

// Report summarizes a run.
type Report struct {
	Checked int     `json:"checked"`
	Drifted int     `json:"drifted"`
	Fixed   int     `json:"fixed"`
	Failed  int     `json:"failed"`
	Drifts  []Drift `json:"drifts"`
}

// Job audits product aggregates against the review store.
type Job struct {
	recomputer Recomputer
	reviews    ProductLister
	stats      repository.StatsStore
	stale      repository.StaleMarker
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewJob creates a job checking at most rps products per second. stale may
// be nil; rps <= 0 disables throttling.
func NewJob(
	recomputer Recomputer,
	reviews ProductLister,
	stats repository.StatsStore,
	stale repository.StaleMarker,
	rps float64,
	logger *slog.Logger,
) *Job {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Job{
		recomputer: recomputer,
		reviews:    reviews,
		stats:      stats,
		stale:      stale,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
	}
}

// Run checks every selected product once. A failure on one product is
// counted in the report and does not stop the run; only listing failures and
// context cancellation are returned as errors.
func (j *Job) Run(ctx context.Context, opts Options) (*Report, error) {
	stale, err := j.staleSet(ctx)
	if err != nil {
		return nil, err
	}

	ids := opts.ProductIDs
	if len(ids) == 0 {
		ids, err = j.productIDs(ctx, stale)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{Drifts: []Drift{}}
	for _, id := range ids {
		if err := j.limiter.Wait(ctx); err != nil {
			return report, err
		}

		drift, err := j.check(ctx, id, stale[id])
		report.Checked++
		productsChecked.Inc()
		if err != nil {
			report.Failed++
			j.logger.ErrorContext(ctx, "reconcile check failed",
				slog.String("product_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if drift == nil {
			continue
		}

		if len(drift.Fields) > 0 || drift.Missing {
			report.Drifted++
			driftTotal.Inc()
			j.logger.WarnContext(ctx, "product aggregate drift",
				slog.String("product_id", id),
				slog.Any("fields", drift.Fields),
				slog.Bool("missing", drift.Missing),
			)
		}

		if opts.Fix {
			if _, err := j.recomputer.Recompute(ctx, id); err != nil {
				report.Failed++
				j.logger.ErrorContext(ctx, "reconcile fix failed",
					slog.String("product_id", id),
					slog.String("error", err.Error()),
				)
			} else {
				drift.Fixed = true
				report.Fixed++
			}
		}
		report.Drifts = append(report.Drifts, *drift)
	}

	return report, nil
}

// check returns nil when the stored snapshot matches and the product is not
// flagged stale.
func (j *Job) check(ctx context.Context, productID string, stale bool) (*Drift, error) {
	actual, err := j.recomputer.Compute(ctx, productID)
	if err != nil {
		return nil, err
	}

	missing := false
	stored, err := j.stats.Get(ctx, productID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("get stored stats: %w", err)
		}
		empty := domain.EmptyStats(productID)
		stored = &empty
		missing = actual.TotalReviews > 0
	}

	fields := stored.Diff(actual)
	if len(fields) == 0 && !missing && !stale {
		return nil, nil
	}

	return &Drift{
		ProductID: productID,
		Fields:    fields,
		Missing:   missing,
		Stale:     stale,
		Stored:    *stored,
		Actual:    actual,
	}, nil
}

func (j *Job) staleSet(ctx context.Context) (map[string]bool, error) {
	out := map[string]bool{}
	if j.stale == nil {
		return out, nil
	}
	ids, err := j.stale.StaleProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stale products: %w", err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// productIDs returns the union of stale products, products with a stored
// snapshot and products with reviews, sorted.
func (j *Job) productIDs(ctx context.Context, stale map[string]bool) ([]string, error) {
	seen := make(map[string]struct{}, len(stale))
	for id := range stale {
		seen[id] = struct{}{}
	}

	withStats, err := j.stats.ProductIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products with stats: %w", err)
	}
	withReviews, err := j.reviews.ProductIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products with reviews: %w", err)
	}
	for _, id := range withStats {
		seen[id] = struct{}{}
	}
	for _, id := range withReviews {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Start runs the job every interval until ctx is done.
func (j *Job) Start(ctx context.Context, interval time.Duration, opts Options) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := j.Run(ctx, opts)
			if err != nil {
				if ctx.Err() == nil {
					j.logger.Error("reconciliation run error", slog.String("error", err.Error()))
				}
				continue
			}
			if report.Drifted > 0 || report.Failed > 0 {
				j.logger.Warn("reconciliation finished",
					slog.Int("checked", report.Checked),
					slog.Int("drifted", report.Drifted),
					slog.Int("fixed", report.Fixed),
					slog.Int("failed", report.Failed),
				)
			} else {
				j.logger.Info("reconciliation finished", slog.Int("checked", report.Checked))
			}
		}
	}
}
