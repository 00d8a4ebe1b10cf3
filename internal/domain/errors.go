package domain

import (
	"fmt"
	"net/http"

	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
)

var (
	// ErrDuplicateReview is returned when the reviewer already reviewed the reviewable.
	ErrDuplicateReview = &apperrors.AppError{
		Code:    "DUPLICATE_REVIEW",
		Message: "the reviewer has already reviewed this entity",
		Status:  http.StatusConflict,
		Err:     apperrors.ErrAlreadyExists,
	}

	// ErrReviewNotFound is returned when no review matches the lookup.
	ErrReviewNotFound = &apperrors.AppError{
		Code:    "REVIEW_NOT_FOUND",
		Message: "review not found",
		Status:  http.StatusNotFound,
		Err:     apperrors.ErrNotFound,
	}

	// ErrInconsistentSummary signals a summary whose count cannot absorb the
	// requested change. It indicates corrupted aggregate state.
	ErrInconsistentSummary = fmt.Errorf("inconsistent review summary: %w", apperrors.ErrInternal)
)

// InconsistentSummary wraps ErrInconsistentSummary with the offending state.
func InconsistentSummary(op string, count int) error {
	return fmt.Errorf("%w: %s with review count %d", ErrInconsistentSummary, op, count)
}
