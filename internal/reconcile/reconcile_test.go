package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository/memory"
	"github.com/marketplace/reviewcore/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

type fixture struct {
	reviews *memory.ReviewStore
	stats   *memory.StatsStore
	stale   *memory.StaleSet
	job     *Job
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reviews: memory.NewReviewStore(),
		stats:   memory.NewStatsStore(),
		stale:   memory.NewStaleSet(),
	}
	rec := service.NewAggregateRecomputer(f.reviews, f.stats, memory.NewKeyedLocker(), f.stale, discardLogger())
	f.job = NewJob(rec, f.reviews, f.stats, f.stale, 0, discardLogger())
	return f
}

func (f *fixture) addCounted(t *testing.T, id, productID string, rating int) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.reviews.Create(context.Background(), &domain.Review{
		ID:            id,
		ProductID:     productID,
		ReviewerID:    "user-" + id,
		OverallRating: rating,
		Status:        domain.ReviewStatusApproved,
		SubmittedAt:   now,
		PublishedAt:   &now,
	}))
}

func TestRun_NoDrift(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCounted(t, "a", "prod-1", 5)
	f.addCounted(t, "b", "prod-1", 3)

	actual, err := f.job.recomputer.Compute(ctx, "prod-1")
	require.NoError(t, err)
	require.NoError(t, f.stats.Save(ctx, actual))

	report, err := f.job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Drifted)
	assert.Empty(t, report.Drifts)
}

func TestRun_ReportsDriftWithoutFixing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCounted(t, "a", "prod-1", 5)
	f.addCounted(t, "b", "prod-1", 4)

	wrong := domain.EmptyStats("prod-1")
	wrong.AvgRating = 2.0
	wrong.TotalReviews = 1
	wrong.RatingDistribution[2] = 1
	require.NoError(t, f.stats.Save(ctx, wrong))

	before := counterValue(t, driftTotal)
	report, err := f.job.Run(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, report.Drifts, 1)
	d := report.Drifts[0]
	assert.Equal(t, "prod-1", d.ProductID)
	assert.ElementsMatch(t, []string{
		domain.FieldAvgRating, domain.FieldTotalReviews, domain.FieldRatingDistribution,
	}, d.Fields)
	assert.Equal(t, 4.5, d.Actual.AvgRating)
	assert.Equal(t, 2.0, d.Stored.AvgRating)
	assert.False(t, d.Fixed)
	assert.Equal(t, 1, report.Drifted)
	assert.Zero(t, report.Fixed)
	assert.Equal(t, before+1, counterValue(t, driftTotal))

	stored, err := f.stats.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 2.0, stored.AvgRating, "report-only run must not write")
}

func TestRun_FixRewritesSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCounted(t, "a", "prod-1", 5)
	f.addCounted(t, "b", "prod-1", 4)
	f.addCounted(t, "c", "prod-1", 3)

	report, err := f.job.Run(ctx, Options{Fix: true})
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Missing)
	assert.True(t, report.Drifts[0].Fixed)
	assert.Equal(t, 1, report.Fixed)

	stored, err := f.stats.Get(ctx, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 4.0, stored.AvgRating)
	assert.Equal(t, 3, stored.TotalReviews)

	again, err := f.job.Run(ctx, Options{Fix: true})
	require.NoError(t, err)
	assert.Zero(t, again.Drifted)
}

func TestRun_FixClearsStaleFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stale.MarkStale(ctx, "prod-9"))

	report, err := f.job.Run(ctx, Options{Fix: true})
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.True(t, report.Drifts[0].Stale)
	assert.Zero(t, report.Drifted, "stale product whose snapshot matches is not drift")
	assert.Equal(t, 1, report.Fixed)

	stale, err := f.stale.StaleProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestRun_ProductSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCounted(t, "a", "prod-1", 5)
	f.addCounted(t, "b", "prod-2", 5)
	require.NoError(t, f.stats.Save(ctx, domain.EmptyStats("prod-3")))
	require.NoError(t, f.stale.MarkStale(ctx, "prod-4"))

	all, err := f.job.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Checked)

	only, err := f.job.Run(ctx, Options{ProductIDs: []string{"prod-2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, only.Checked)
	require.Len(t, only.Drifts, 1)
	assert.Equal(t, "prod-2", only.Drifts[0].ProductID)
}

type failingStats struct {
	*memory.StatsStore
}

func (failingStats) Get(context.Context, string) (*domain.ProductStats, error) {
	return nil, errors.New("connection refused")
}

func TestRun_CheckFailureIsCountedAndRunContinues(t *testing.T) {
	f := newFixture(t)
	f.addCounted(t, "a", "prod-1", 5)
	f.addCounted(t, "b", "prod-2", 4)
	rec := service.NewAggregateRecomputer(f.reviews, f.stats, memory.NewKeyedLocker(), f.stale, discardLogger())
	job := NewJob(rec, f.reviews, failingStats{f.stats}, f.stale, 0, discardLogger())

	report, err := job.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Failed)
}

func TestRun_ThrottledRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	rec := service.NewAggregateRecomputer(f.reviews, f.stats, memory.NewKeyedLocker(), f.stale, discardLogger())
	job := NewJob(rec, f.reviews, f.stats, f.stale, 0.001, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := job.Run(ctx, Options{ProductIDs: []string{"prod-1", "prod-2"}})
	require.Error(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestRun_CountsCheckedProducts(t *testing.T) {
	f := newFixture(t)
	before := counterValue(t, productsChecked)

	_, err := f.job.Run(context.Background(), Options{ProductIDs: []string{"p1", "p2", "p3"}})
	require.NoError(t, err)
	assert.Equal(t, before+3, counterValue(t, productsChecked))
}

func TestStart_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.job.Start(ctx, time.Millisecond, Options{})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
