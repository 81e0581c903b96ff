package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound        = errors.New("resource not found")
	ErrAlreadyExists   = errors.New("resource already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")
	ErrConflict        = errors.New("conflict")
	ErrServiceUnavail  = errors.New("service unavailable")
	ErrDuplicateReview = errors.New("duplicate active review")
	ErrRestoreConflict = errors.New("restore conflict")
	ErrRecompute       = errors.New("aggregate recompute failed")
	ErrStaleWrite      = errors.New("resource changed since it was read")
)

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 409 error.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// Validation creates a 400 error for malformed input such as out-of-range
// ratings or missing required fields.
func Validation(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidState creates a 409 error for an operation that is not allowed in
// the resource's current state.
func InvalidState(message string) *AppError {
	return &AppError{
		Code:    "INVALID_STATE",
		Message: message,
		Status:  http.StatusConflict,
		Err:     ErrConflict,
	}
}

// DuplicateReview creates a 409 error for a second active review by the same
// reviewer on the same product.
func DuplicateReview(reviewerID, productID string) *AppError {
	return &AppError{
		Code:    "DUPLICATE_REVIEW",
		Message: fmt.Sprintf("reviewer %s already has an active review for product %s", reviewerID, productID),
		Status:  http.StatusConflict,
		Err:     ErrDuplicateReview,
	}
}

// RestoreConflict creates a 409 error for a restore whose (reviewer, product)
// slot is already occupied by another active review.
func RestoreConflict(reviewID string) *AppError {
	return &AppError{
		Code:    "RESTORE_CONFLICT",
		Message: fmt.Sprintf("review %s cannot be restored: another active review exists for the same reviewer and product", reviewID),
		Status:  http.StatusConflict,
		Err:     ErrRestoreConflict,
	}
}

// StaleWrite creates a 409 error for a conditional write whose resource was
// changed by someone else after it was read.
func StaleWrite(resource, id string) *AppError {
	return &AppError{
		Code:    "CONCURRENT_MODIFICATION",
		Message: fmt.Sprintf("%s with id %s was modified concurrently", resource, id),
		Status:  http.StatusConflict,
		Err:     ErrStaleWrite,
	}
}

// Recompute creates a 500 error describing a failed aggregate write.
func Recompute(productID string, cause error) *AppError {
	return &AppError{
		Code:    "RECOMPUTE_FAILED",
		Message: fmt.Sprintf("recompute of product %s failed", productID),
		Status:  http.StatusInternalServerError,
		Err:     fmt.Errorf("%w: %w", ErrRecompute, cause),
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrDuplicateReview),
		errors.Is(err, ErrRestoreConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
