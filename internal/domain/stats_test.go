package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestEmptyStats(t *testing.T) {
	s := EmptyStats("prod-1")
	assert.Equal(t, RatingDistribution{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}, s.RatingDistribution)
	assert.Zero(t, s.AvgRating)
	assert.Zero(t, s.TotalReviews)
	assert.Empty(t, s.AvgSubRatings)
}

func TestRoundRating(t *testing.T) {
	assert.Equal(t, 4.0, RoundRating(4.0))
	assert.Equal(t, 4.3, RoundRating(4.333333))
	assert.Equal(t, 3.7, RoundRating(3.666666))
}

func TestProductStats_Diff(t *testing.T) {
	base := ProductStats{
		AvgRating:          4.0,
		TotalReviews:       3,
		RatingDistribution: RatingDistribution{1: 0, 2: 0, 3: 1, 4: 1, 5: 1},
		AvgSubRatings:      map[string]*float64{"ease_of_use": ptr(4.0), "support": nil},
		Mentions:           []MentionStat{{Mention: "pricing", Count: 2, AvgRating: 4.5}},
	}

	same := base
	same.Mentions = []MentionStat{{Mention: "pricing", Count: 2, AvgRating: 4.5}}
	assert.Empty(t, base.Diff(same))

	drifted := base
	drifted.AvgRating = 4.5
	drifted.TotalReviews = 2
	drifted.RatingDistribution = RatingDistribution{1: 0, 2: 0, 3: 0, 4: 1, 5: 1}
	drifted.AvgSubRatings = map[string]*float64{"ease_of_use": ptr(4.0), "support": ptr(2)}
	drifted.Mentions = nil

	assert.Equal(t, []string{
		FieldAvgRating, FieldTotalReviews, FieldRatingDistribution, FieldAvgSubRatings, FieldMentions,
	}, base.Diff(drifted))
}

func TestProductStats_Diff_MissingBucketsEqualZero(t *testing.T) {
	a := ProductStats{RatingDistribution: RatingDistribution{5: 1}}
	b := ProductStats{RatingDistribution: RatingDistribution{1: 0, 2: 0, 3: 0, 4: 0, 5: 1}}
	assert.Empty(t, a.Diff(b))
}

func TestProductStats_PopularMentions(t *testing.T) {
	s := ProductStats{Mentions: []MentionStat{
		{Mention: "support", Count: 2, AvgRating: 3.0},
		{Mention: "dashboard", Count: 1, AvgRating: 5.0},
		{Mention: "pricing", Count: 3, AvgRating: 4.0},
		{Mention: "integration", Count: 2, AvgRating: 4.5},
		{Mention: "api", Count: 2, AvgRating: 4.5},
	}}

	got := s.PopularMentions(2, 10)
	names := make([]string, 0, len(got))
	for _, m := range got {
		names = append(names, m.Mention)
	}
	assert.Equal(t, []string{"pricing", "api", "integration", "support"}, names)

	assert.Len(t, s.PopularMentions(2, 2), 2)
}
