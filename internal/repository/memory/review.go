// Package memory implements the repository interfaces in process. It backs
// local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marketplace/reviewcore/internal/domain"
	"github.com/marketplace/reviewcore/internal/repository"
	apperrors "github.com/marketplace/reviewcore/pkg/errors"
)

type slotKey struct {
	reviewerID string
	productID  string
}

// ReviewStore is an in-memory repository.ReviewStore. A single mutex guards
// all state, so the uniqueness check and the write in Create and Restore are
// atomic.
type ReviewStore struct {
	mu      sync.RWMutex
	reviews map[string]*domain.Review
	active  map[slotKey]string
	votes   map[string]map[string]domain.HelpfulVote
}

// NewReviewStore creates an empty store.
func NewReviewStore() *ReviewStore {
	return &ReviewStore{
		reviews: make(map[string]*domain.Review),
		active:  make(map[slotKey]string),
		votes:   make(map[string]map[string]domain.HelpfulVote),
	}
}

var _ repository.ReviewStore = (*ReviewStore)(nil)

func keyOf(r *domain.Review) slotKey {
	return slotKey{reviewerID: r.ReviewerID, productID: r.ProductID}
}

// Create implements repository.ReviewStore.
func (s *ReviewStore) Create(_ context.Context, review *domain.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reviews[review.ID]; exists {
		return apperrors.AlreadyExists("review", "id", review.ID)
	}
	key := keyOf(review)
	if !review.IsDeleted {
		if _, taken := s.active[key]; taken {
			return apperrors.DuplicateReview(review.ReviewerID, review.ProductID)
		}
		s.active[key] = review.ID
	}
	s.reviews[review.ID] = cloneReview(review)
	return nil
}

// Update implements repository.ReviewStore.
func (s *ReviewStore) Update(_ context.Context, review *domain.Review) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.reviews[review.ID]
	if !ok || cur.IsDeleted {
		return apperrors.NotFound("review", review.ID)
	}
	if cur.Version != review.Version {
		return apperrors.StaleWrite("review", review.ID)
	}

	next := cloneReview(review)
	// Identity, deletion state and engagement are owned by other methods.
	next.ProductID = cur.ProductID
	next.ReviewerID = cur.ReviewerID
	next.SubmittedAt = cur.SubmittedAt
	next.IsDeleted, next.DeletedAt, next.DeletedBy = cur.IsDeleted, cur.DeletedAt, cur.DeletedBy
	next.HelpfulCount = cur.HelpfulCount
	next.TotalReplies = cur.TotalReplies
	next.Version = cur.Version + 1
	s.reviews[review.ID] = next
	review.Version = next.Version
	return nil
}

// FindByIDActive implements repository.ReviewStore.
func (s *ReviewStore) FindByIDActive(_ context.Context, id string) (*domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok || r.IsDeleted {
		return nil, apperrors.NotFound("review", id)
	}
	return cloneReview(r), nil
}

// FindByID implements repository.ReviewStore.
func (s *ReviewStore) FindByID(_ context.Context, id string) (*domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, apperrors.NotFound("review", id)
	}
	return cloneReview(r), nil
}

func matches(r *domain.Review, f repository.ReviewFilter) bool {
	if r.IsDeleted {
		return false
	}
	if f.ProductID != "" && r.ProductID != f.ProductID {
		return false
	}
	if f.ReviewerID != "" && r.ReviewerID != f.ReviewerID {
		return false
	}
	if f.Status != nil && r.Status != *f.Status {
		return false
	}
	return true
}

// FindActive implements repository.ReviewStore.
func (s *ReviewStore) FindActive(_ context.Context, filter repository.ReviewFilter) ([]domain.Review, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.Review
	for _, r := range s.reviews {
		if matches(r, filter) {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].SubmittedAt.Equal(all[j].SubmittedAt) {
			return all[i].SubmittedAt.After(all[j].SubmittedAt)
		}
		return all[i].ID > all[j].ID
	})

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * perPage
	}

	out := []domain.Review{}
	for i := offset; i < len(all) && i < offset+perPage; i++ {
		out = append(out, *cloneReview(all[i]))
	}
	return out, len(all), nil
}

// CountActive implements repository.ReviewStore.
func (s *ReviewStore) CountActive(_ context.Context, filter repository.ReviewFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.reviews {
		if matches(r, filter) {
			n++
		}
	}
	return n, nil
}

// FindCounted implements repository.ReviewStore.
func (s *ReviewStore) FindCounted(_ context.Context, productID string) ([]domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Review{}
	for _, r := range s.reviews {
		if r.ProductID == productID && r.IsCounted() {
			out = append(out, *cloneReview(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindHistory implements repository.ReviewStore.
func (s *ReviewStore) FindHistory(_ context.Context, reviewerID, productID string) ([]domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Review{}
	for _, r := range s.reviews {
		if r.ReviewerID == reviewerID && r.ProductID == productID {
			out = append(out, *cloneReview(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SoftDelete implements repository.ReviewStore.
func (s *ReviewStore) SoftDelete(_ context.Context, id string, by domain.Actor, at time.Time) (*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[id]
	if !ok || r.IsDeleted {
		return nil, apperrors.NotFound("review", id)
	}
	deletedAt := at
	actor := by
	r.IsDeleted = true
	r.DeletedAt = &deletedAt
	r.DeletedBy = &actor
	r.UpdatedAt = at
	r.Version++
	delete(s.active, keyOf(r))
	return cloneReview(r), nil
}

// Restore implements repository.ReviewStore.
func (s *ReviewStore) Restore(_ context.Context, id string, at time.Time) (*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, apperrors.NotFound("review", id)
	}
	if !r.IsDeleted {
		return nil, apperrors.InvalidState("review " + id + " is not deleted")
	}
	key := keyOf(r)
	if _, taken := s.active[key]; taken {
		return nil, apperrors.RestoreConflict(id)
	}
	r.IsDeleted = false
	r.DeletedAt = nil
	r.DeletedBy = nil
	r.UpdatedAt = at
	r.Version++
	s.active[key] = id
	return cloneReview(r), nil
}

// HardDelete implements repository.ReviewStore.
func (s *ReviewStore) HardDelete(_ context.Context, id string) (*domain.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[id]
	if !ok {
		return nil, apperrors.NotFound("review", id)
	}
	if !r.IsDeleted {
		delete(s.active, keyOf(r))
	}
	delete(s.reviews, id)
	delete(s.votes, id)
	return r, nil
}

// ProductIDs implements repository.ReviewStore.
func (s *ReviewStore) ProductIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, r := range s.reviews {
		seen[r.ProductID] = struct{}{}
	}
	return sortedKeys(seen), nil
}

// AddHelpfulVote implements repository.ReviewStore.
func (s *ReviewStore) AddHelpfulVote(_ context.Context, reviewID string, vote domain.HelpfulVote) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[reviewID]
	if !ok || r.IsDeleted {
		return 0, apperrors.NotFound("review", reviewID)
	}
	voters := s.votes[reviewID]
	if voters == nil {
		voters = make(map[string]domain.HelpfulVote)
		s.votes[reviewID] = voters
	}
	if _, dup := voters[vote.VoterID]; dup {
		return 0, apperrors.AlreadyExists("helpful vote", "voter_id", vote.VoterID)
	}
	voters[vote.VoterID] = vote
	r.HelpfulCount = len(voters)
	return r.HelpfulCount, nil
}

// RemoveHelpfulVote implements repository.ReviewStore.
func (s *ReviewStore) RemoveHelpfulVote(_ context.Context, reviewID, voterID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[reviewID]
	if !ok || r.IsDeleted {
		return 0, apperrors.NotFound("review", reviewID)
	}
	if _, voted := s.votes[reviewID][voterID]; !voted {
		return 0, apperrors.NotFound("helpful vote", voterID)
	}
	delete(s.votes[reviewID], voterID)
	r.HelpfulCount = len(s.votes[reviewID])
	return r.HelpfulCount, nil
}

// AdjustReplies implements repository.ReviewStore.
func (s *ReviewStore) AdjustReplies(_ context.Context, reviewID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reviews[reviewID]
	if !ok {
		return 0, apperrors.NotFound("review", reviewID)
	}
	r.TotalReplies = max(r.TotalReplies+delta, 0)
	return r.TotalReplies, nil
}

func cloneReview(r *domain.Review) *domain.Review {
	c := *r
	if r.SubRatings != nil {
		c.SubRatings = make(domain.SubRatings, len(r.SubRatings))
		for k, v := range r.SubRatings {
			c.SubRatings[k] = v
		}
	}
	c.Attachments = append([]domain.Attachment(nil), r.Attachments...)
	c.Keywords = append([]string(nil), r.Keywords...)
	c.Mentions = append([]string(nil), r.Mentions...)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	if r.DeletedBy != nil {
		a := *r.DeletedBy
		c.DeletedBy = &a
	}
	if r.PublishedAt != nil {
		t := *r.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
