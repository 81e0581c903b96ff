package domain

import (
	"math"
	"sort"
	"time"
)

// RatingDistribution counts counted reviews per overall rating 1..5.
type RatingDistribution map[int]int

// NewRatingDistribution returns a distribution with every bucket at zero.
func NewRatingDistribution() RatingDistribution {
	d := make(RatingDistribution, MaxOverallRating)
	for r := MinOverallRating; r <= MaxOverallRating; r++ {
		d[r] = 0
	}
	return d
}

// MentionStat is the rollup of one mention across a product's counted reviews.
type MentionStat struct {
	Mention   string  `json:"mention"`
	Count     int     `json:"count"`
	AvgRating float64 `json:"avg_rating"`
}

// ProductStats is the aggregate rating snapshot of a product. It is only ever
// replaced as a whole.
type ProductStats struct {
	ProductID          string              `json:"product_id"`
	AvgRating          float64             `json:"avg_rating"`
	TotalReviews       int                 `json:"total_reviews"`
	RatingDistribution RatingDistribution  `json:"rating_distribution"`
	AvgSubRatings      map[string]*float64 `json:"avg_sub_ratings"`
	Mentions           []MentionStat       `json:"mentions,omitempty"`
	ComputedAt         time.Time           `json:"computed_at"`
}

// EmptyStats is the snapshot of a product without counted reviews.
func EmptyStats(productID string) ProductStats {
	return ProductStats{
		ProductID:          productID,
		RatingDistribution: NewRatingDistribution(),
		AvgSubRatings:      map[string]*float64{},
	}
}

// RoundRating rounds v to one decimal place.
func RoundRating(v float64) float64 {
	return math.Round(v*10) / 10
}

// Stats field names reported by Diff.
const (
	FieldAvgRating          = "avg_rating"
	FieldTotalReviews       = "total_reviews"
	FieldRatingDistribution = "rating_distribution"
	FieldAvgSubRatings      = "avg_sub_ratings"
	FieldMentions           = "mentions"
)

// Diff returns the names of the derived fields that differ between s and
// other. ProductID and ComputedAt are ignored.
func (s ProductStats) Diff(other ProductStats) []string {
	var fields []string
	if !floatEqual(s.AvgRating, other.AvgRating) {
		fields = append(fields, FieldAvgRating)
	}
	if s.TotalReviews != other.TotalReviews {
		fields = append(fields, FieldTotalReviews)
	}
	if !distributionEqual(s.RatingDistribution, other.RatingDistribution) {
		fields = append(fields, FieldRatingDistribution)
	}
	if !subRatingsEqual(s.AvgSubRatings, other.AvgSubRatings) {
		fields = append(fields, FieldAvgSubRatings)
	}
	if !mentionsEqual(s.Mentions, other.Mentions) {
		fields = append(fields, FieldMentions)
	}
	return fields
}

// PopularMentions returns mentions seen in at least minCount counted reviews,
// ordered by count, then average rating, both descending, then by name.
func (s ProductStats) PopularMentions(minCount, limit int) []MentionStat {
	out := make([]MentionStat, 0, len(s.Mentions))
	for _, m := range s.Mentions {
		if m.Count >= minCount {
			out = append(out, m)
		}
	}
	SortMentions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortMentions orders mentions by count desc, avg rating desc, name asc.
func SortMentions(m []MentionStat) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Count != m[j].Count {
			return m[i].Count > m[j].Count
		}
		if m[i].AvgRating != m[j].AvgRating {
			return m[i].AvgRating > m[j].AvgRating
		}
		return m[i].Mention < m[j].Mention
	})
}

func floatEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func distributionEqual(a, b RatingDistribution) bool {
	for r := MinOverallRating; r <= MaxOverallRating; r++ {
		if a[r] != b[r] {
			return false
		}
	}
	for r, n := range a {
		if (r < MinOverallRating || r > MaxOverallRating) && n != b[r] {
			return false
		}
	}
	for r, n := range b {
		if (r < MinOverallRating || r > MaxOverallRating) && n != a[r] {
			return false
		}
	}
	return true
}

func subRatingsEqual(a, b map[string]*float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		switch {
		case av == nil && bv == nil:
		case av == nil || bv == nil:
			return false
		case !floatEqual(*av, *bv):
			return false
		}
	}
	return true
}

func mentionsEqual(a, b []MentionStat) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]MentionStat, len(a))
	for _, m := range a {
		index[m.Mention] = m
	}
	for _, m := range b {
		am, ok := index[m.Mention]
		if !ok || am.Count != m.Count || !floatEqual(am.AvgRating, m.AvgRating) {
			return false
		}
	}
	return true
}
