package domain

// ReviewEventType names a durable review state change announced to other
// services.
type ReviewEventType string

const (
	ReviewEventCreated  ReviewEventType = "created"
	ReviewEventApproved ReviewEventType = "approved"
	ReviewEventRejected ReviewEventType = "rejected"
	ReviewEventFlagged  ReviewEventType = "flagged"
	ReviewEventDeleted  ReviewEventType = "deleted"
	ReviewEventRestored ReviewEventType = "restored"
)

// StatusEvent returns the event announcing a move to status, and false for
// pending, which is not announced.
func StatusEvent(status ReviewStatus) (ReviewEventType, bool) {
	switch status {
	case ReviewStatusApproved:
		return ReviewEventApproved, true
	case ReviewStatusRejected:
		return ReviewEventRejected, true
	case ReviewStatusFlagged:
		return ReviewEventFlagged, true
	}
	return "", false
}

// ReviewEvent is the notification payload for a review state change.
type ReviewEvent struct {
	ReviewID   string          `json:"review_id"`
	ProductID  string          `json:"product_id"`
	ReviewerID string          `json:"reviewer_id"`
	Event      ReviewEventType `json:"event"`
	Status     ReviewStatus    `json:"status"`
}

// NewReviewEvent builds the event of type t for r.
func NewReviewEvent(r *Review, t ReviewEventType) ReviewEvent {
	return ReviewEvent{
		ReviewID:   r.ID,
		ProductID:  r.ProductID,
		ReviewerID: r.ReviewerID,
		Event:      t,
		Status:     r.Status,
	}
}
