package repository

import (
	"context"

	"github.com/utafrali/ReviewGo/internal/domain"
	"github.com/utafrali/ReviewGo/pkg/pagination"
)

// SortOrder selects the ordering of review listings.
type SortOrder string

const (
	// SortLatest orders by creation time, newest first.
	SortLatest SortOrder = "latest"
	// SortTopRated orders by rating, highest first.
	SortTopRated SortOrder = "top_rated"
)

// Valid reports whether s is a known sort order. The empty value is valid and means latest.
func (s SortOrder) Valid() bool {
	switch s {
	case "", SortLatest, SortTopRated:
		return true
	default:
		return false
	}
}

// ListFilter narrows review listings. Unapproved reviews are only included
// when IncludeUnapproved is set.
type ListFilter struct {
	IncludeUnapproved bool
	// ReviewerType restricts received reviews to one reviewer type.
	ReviewerType string
	// ReviewableType restricts given reviews to one reviewable type.
	ReviewableType string
	Sort           SortOrder
	Page           pagination.Params
}

// ReviewRepository defines the persistence operations for reviews.
type ReviewRepository interface {
	// Create inserts a review. A second review for the same pair fails with
	// domain.ErrDuplicateReview.
	Create(ctx context.Context, review *domain.Review) error

	// GetByID retrieves a review in any approval state.
	GetByID(ctx context.Context, id string) (*domain.Review, error)

	// GetByIDForUpdate retrieves and row-locks a review.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Review, error)

	// GetByPair retrieves the review reviewer left on reviewable.
	GetByPair(ctx context.Context, reviewer, reviewable domain.EntityRef, includeUnapproved bool) (*domain.Review, error)

	// GetByPairForUpdate retrieves and row-locks the review for the pair in any state.
	GetByPairForUpdate(ctx context.Context, reviewer, reviewable domain.EntityRef) (*domain.Review, error)

	// ExistsByPair reports whether reviewer has reviewed reviewable.
	ExistsByPair(ctx context.Context, reviewer, reviewable domain.EntityRef, includeUnapproved bool) (bool, error)

	// Update writes rating, content, approval and updated_at of an existing review.
	Update(ctx context.Context, review *domain.Review) error

	// Delete removes a review by id.
	Delete(ctx context.Context, id string) error

	// ListReceived returns reviews received by reviewable with the total match count.
	ListReceived(ctx context.Context, reviewable domain.EntityRef, filter ListFilter) ([]domain.Review, int, error)

	// ListGiven returns reviews written by reviewer with the total match count.
	ListGiven(ctx context.Context, reviewer domain.EntityRef, filter ListFilter) ([]domain.Review, int, error)
}

// SummaryRepository defines the persistence operations for review summaries.
type SummaryRepository interface {
	// Get returns the stored summary or apperrors.ErrNotFound.
	Get(ctx context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, error)

	// GetForUpdate returns the summary row-locked, creating an empty one first
	// when the reviewable has none.
	GetForUpdate(ctx context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, error)

	// Save writes the aggregate fields of an existing summary.
	Save(ctx context.Context, summary *domain.ReviewSummary) error
}

// Tx exposes repositories bound to one transaction, or to the pool outside of one.
type Tx interface {
	Reviews() ReviewRepository
	Summaries() SummaryRepository
}

// UnitOfWork runs fn in a transaction that commits when fn returns nil and
// rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store combines pool-bound reads with transactional writes.
type Store interface {
	Tx
	UnitOfWork
}

// SummaryCache caches review summaries outside the database.
type SummaryCache interface {
	// Get returns the cached summary; ok is false on a miss.
	Get(ctx context.Context, reviewable domain.EntityRef) (summary *domain.ReviewSummary, ok bool, err error)
	Set(ctx context.Context, summary *domain.ReviewSummary) error
	Invalidate(ctx context.Context, reviewable domain.EntityRef) error
}
