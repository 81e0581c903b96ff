package domain

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

// Review field limits.
const (
	MaxTitleLength   = 200
	MaxContentLength = 5000
	MinOverallRating = 1
	MaxOverallRating = 5
	MaxSubRating     = 7
	MaxKeywords      = 15
	MaxMentions      = 10
)

// ReviewStatus is the moderation state of a review.
type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
	ReviewStatusFlagged  ReviewStatus = "flagged"
)

// Valid reports whether s is a known status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusApproved, ReviewStatusRejected, ReviewStatusFlagged:
		return true
	}
	return false
}

// ParseReviewStatus converts s to a ReviewStatus.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	status := ReviewStatus(s)
	if !status.Valid() {
		return "", apperrors.Validation(fmt.Sprintf("unknown review status %q", s))
	}
	return status, nil
}

// ActorKind distinguishes who performed an action on a review.
type ActorKind string

const (
	ActorReviewer  ActorKind = "reviewer"
	ActorModerator ActorKind = "moderator"
)

// Actor is the reviewer or moderator who performed an action.
type Actor struct {
	ID   string    `json:"id"`
	Kind ActorKind `json:"kind"`
}

// SubRatings maps a rating category to a score in 0..7. Zero means the
// category does not apply and is left out of averages.
type SubRatings map[string]int

// Categories returns the category names in sorted order.
func (s SubRatings) Categories() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether s and other hold the same scores.
func (s SubRatings) Equal(other SubRatings) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Attachment is a pre-uploaded file referenced by a review. Its fields are
// stored as given.
type Attachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

// HelpfulVote records one voter marking a review as helpful.
type HelpfulVote struct {
	VoterID string    `json:"voter_id"`
	VotedAt time.Time `json:"voted_at"`
}

// Review is a reviewer's assessment of a product.
type Review struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	ReviewerID string `json:"reviewer_id"`

	Title         string       `json:"title"`
	Content       string       `json:"content"`
	OverallRating int          `json:"overall_rating"`
	SubRatings    SubRatings   `json:"sub_ratings"`
	Verification  Verification `json:"verification"`
	Attachments   []Attachment `json:"attachments"`

	Status    ReviewStatus `json:"status"`
	IsDeleted bool         `json:"is_deleted"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
	DeletedBy *Actor       `json:"deleted_by,omitempty"`

	Keywords []string `json:"keywords"`
	Mentions []string `json:"mentions"`

	HelpfulCount int `json:"helpful_count"`
	TotalReplies int `json:"total_replies"`

	SubmittedAt time.Time  `json:"submitted_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Version increases with every write to the review row's lifecycle
	// fields. Update only succeeds against the version it read.
	Version int `json:"version"`
}

// IsCounted reports whether the review contributes to its product's
// aggregate: approved, published and not deleted.
func (r *Review) IsCounted() bool {
	return r.IsPublished() && !r.IsDeleted
}

// IsPublished reports whether the review is approved and published,
// regardless of deletion.
func (r *Review) IsPublished() bool {
	return r.Status == ReviewStatusApproved && r.PublishedAt != nil
}

// ApplyStatus moves the review to status. Entering approved publishes the
// review at now unless it is already published; leaving approved unpublishes
// it.
func (r *Review) ApplyStatus(status ReviewStatus, now time.Time) {
	r.Status = status
	if status == ReviewStatusApproved {
		if r.PublishedAt == nil {
			published := now
			r.PublishedAt = &published
		}
		return
	}
	r.PublishedAt = nil
}

// ValidateContent checks rating bounds and text lengths.
func ValidateContent(title, content string, overall int, sub SubRatings) error {
	if overall < MinOverallRating || overall > MaxOverallRating {
		return apperrors.Validation(fmt.Sprintf("overall_rating must be between %d and %d, got %d",
			MinOverallRating, MaxOverallRating, overall))
	}
	for _, category := range sub.Categories() {
		if category == "" {
			return apperrors.Validation("sub_ratings category must not be empty")
		}
		if v := sub[category]; v < 0 || v > MaxSubRating {
			return apperrors.Validation(fmt.Sprintf("sub_ratings.%s must be between 0 and %d, got %d",
				category, MaxSubRating, v))
		}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return apperrors.Validation(fmt.Sprintf("title must be at most %d characters", MaxTitleLength))
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return apperrors.Validation(fmt.Sprintf("content must be at most %d characters", MaxContentLength))
	}
	return nil
}

// ReviewPatch lists the fields of an update. Nil fields are left unchanged.
type ReviewPatch struct {
	Title         *string
	Content       *string
	OverallRating *int
	SubRatings    SubRatings
	Verification  *Verification
	Attachments   []Attachment
	Status        *ReviewStatus
}

// TextChanged reports whether the patch touches title or content.
func (p ReviewPatch) TextChanged() bool {
	return p.Title != nil || p.Content != nil
}
