package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/ReviewGo/internal/aggregate"
	"github.com/utafrali/ReviewGo/internal/domain"
	"github.com/utafrali/ReviewGo/internal/repository"
	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
	"github.com/utafrali/ReviewGo/pkg/logger"
	"github.com/utafrali/ReviewGo/pkg/pagination"
)

// DefaultMaxRating is the rating ceiling used when Config.MaxRating is unset.
const DefaultMaxRating = 5

// ReviewableResolver checks that a reviewable exists before it is reviewed.
type ReviewableResolver interface {
	Resolve(ctx context.Context, ref domain.EntityRef) error
}

// EventPublisher emits review domain events after a change commits.
// summary is nil when the change did not touch the aggregate.
type EventPublisher interface {
	PublishReviewCreated(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error
	PublishReviewUpdated(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error
	PublishReviewDeleted(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error
	PublishReviewApproved(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error
	PublishReviewUnapproved(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error
}

type publishFunc func(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error

// Config holds the business rules of the review service.
type Config struct {
	MaxRating   float64
	AutoApprove bool
}

// CreateReviewInput holds the parameters for creating a review.
// A nil Approved falls back to Config.AutoApprove.
type CreateReviewInput struct {
	Rating   float64
	Content  *string
	Approved *bool
}

// UpdateReviewInput holds the replacement rating and content. A nil Content clears it.
type UpdateReviewInput struct {
	Rating  float64
	Content *string
}

// ReviewService coordinates review writes with the summary of the reviewed entity.
// Every write runs in a single transaction; events and cache invalidation
// happen only after it commits.
type ReviewService struct {
	store    repository.Store
	resolver ReviewableResolver
	cache    repository.SummaryCache
	events   EventPublisher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewReviewService creates a new review service.
func NewReviewService(
	store repository.Store,
	resolver ReviewableResolver,
	cache repository.SummaryCache,
	events EventPublisher,
	cfg Config,
	logger *slog.Logger,
) *ReviewService {
	if cfg.MaxRating <= 0 {
		cfg.MaxRating = DefaultMaxRating
	}
	return &ReviewService{
		store:    store,
		resolver: resolver,
		cache:    cache,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateReview records reviewer's review of reviewable. An approved review is
// added to the summary in the same transaction.
func (s *ReviewService) CreateReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, input CreateReviewInput) (*domain.Review, error) {
	reviewerRef, reviewableRef := reviewer.ReviewerRef(), reviewable.ReviewableRef()
	if err := s.validatePair(reviewerRef, reviewableRef); err != nil {
		return nil, err
	}
	// Ratings are stored and aggregated with two decimals.
	input.Rating = aggregate.Round(input.Rating)
	if err := s.validateRating(input.Rating); err != nil {
		return nil, err
	}
	if err := s.resolver.Resolve(ctx, reviewableRef); err != nil {
		return nil, err
	}

	approved := s.cfg.AutoApprove
	if input.Approved != nil {
		approved = *input.Approved
	}

	now := s.now()
	review := &domain.Review{
		ID:         uuid.New().String(),
		Reviewer:   reviewerRef,
		Reviewable: reviewableRef,
		Rating:     input.Rating,
		Content:    input.Content,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if approved {
		review.ApprovedAt = &now
	}

	var summary *domain.ReviewSummary
	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		exists, err := tx.Reviews().ExistsByPair(ctx, reviewerRef, reviewableRef, true)
		if err != nil {
			return err
		}
		if exists {
			return domain.ErrDuplicateReview
		}
		if err := tx.Reviews().Create(ctx, review); err != nil {
			return err
		}
		if review.IsApproved() {
			summary, err = s.applyToSummary(ctx, tx, reviewableRef, aggregate.Add(review.Rating))
		}
		return err
	})
	observe("create", true, err)
	if err != nil {
		return nil, s.fail(ctx, "create review", err)
	}

	s.afterCommit(ctx, "review.created", review, summary, s.events.PublishReviewCreated)

	s.logger.InfoContext(ctx, "review created",
		slog.String("review_id", review.ID),
		slog.String("reviewer", reviewerRef.String()),
		slog.String("reviewable", reviewableRef.String()),
		slog.Float64("rating", review.Rating),
		slog.Bool("approved", review.IsApproved()),
	)
	return review, nil
}

// UpdateReview replaces the rating and content of reviewer's existing review.
// The approval state is left as is.
func (s *ReviewService) UpdateReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, input UpdateReviewInput) (*domain.Review, error) {
	reviewerRef, reviewableRef := reviewer.ReviewerRef(), reviewable.ReviewableRef()
	if err := s.validatePair(reviewerRef, reviewableRef); err != nil {
		return nil, err
	}
	input.Rating = aggregate.Round(input.Rating)
	if err := s.validateRating(input.Rating); err != nil {
		return nil, err
	}

	var (
		review  *domain.Review
		summary *domain.ReviewSummary
	)
	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		review, err = tx.Reviews().GetByPairForUpdate(ctx, reviewerRef, reviewableRef)
		if err != nil {
			return err
		}

		oldRating := review.Rating
		review.Rating = input.Rating
		review.Content = input.Content
		review.UpdatedAt = s.now()
		if err := tx.Reviews().Update(ctx, review); err != nil {
			return err
		}

		if review.IsApproved() {
			summary, err = s.applyToSummary(ctx, tx, reviewableRef, aggregate.Edit(oldRating, review.Rating))
		}
		return err
	})
	observe("update", true, err)
	if err != nil {
		return nil, s.fail(ctx, "update review", err)
	}

	s.afterCommit(ctx, "review.updated", review, summary, s.events.PublishReviewUpdated)

	s.logger.InfoContext(ctx, "review updated",
		slog.String("review_id", review.ID),
		slog.Float64("rating", review.Rating),
	)
	return review, nil
}

// Unreview deletes reviewer's review of reviewable, removing its rating from
// the summary when it was approved.
func (s *ReviewService) Unreview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable) (bool, error) {
	reviewerRef, reviewableRef := reviewer.ReviewerRef(), reviewable.ReviewableRef()
	if err := s.validatePair(reviewerRef, reviewableRef); err != nil {
		return false, err
	}

	var (
		review  *domain.Review
		summary *domain.ReviewSummary
	)
	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		review, err = tx.Reviews().GetByPairForUpdate(ctx, reviewerRef, reviewableRef)
		if err != nil {
			return err
		}
		if review.IsApproved() {
			if summary, err = s.applyToSummary(ctx, tx, reviewableRef, aggregate.Remove(review.Rating)); err != nil {
				return err
			}
		}
		return tx.Reviews().Delete(ctx, review.ID)
	})
	observe("delete", true, err)
	if err != nil {
		return false, s.fail(ctx, "delete review", err)
	}

	s.afterCommit(ctx, "review.deleted", review, summary, s.events.PublishReviewDeleted)

	s.logger.InfoContext(ctx, "review deleted",
		slog.String("review_id", review.ID),
		slog.String("reviewable", reviewableRef.String()),
	)
	return true, nil
}

// ApproveReview approves a review and adds its rating to the summary.
// It returns false without writing anything when the review was already approved.
func (s *ReviewService) ApproveReview(ctx context.Context, reviewID string) (bool, error) {
	return s.transition(ctx, "approve", reviewID,
		func(r *domain.Review) bool { return r.Approve(s.now()) },
		aggregate.Add,
		s.events.PublishReviewApproved,
	)
}

// UnapproveReview withdraws approval and removes the rating from the summary.
// It returns false without writing anything when the review was not approved.
func (s *ReviewService) UnapproveReview(ctx context.Context, reviewID string) (bool, error) {
	return s.transition(ctx, "unapprove", reviewID,
		func(r *domain.Review) bool { return r.Unapprove(s.now()) },
		aggregate.Remove,
		s.events.PublishReviewUnapproved,
	)
}

func (s *ReviewService) transition(
	ctx context.Context,
	operation, reviewID string,
	change func(*domain.Review) bool,
	op func(rating float64) aggregate.Operation,
	publish publishFunc,
) (bool, error) {
	if err := validateReviewID(reviewID); err != nil {
		return false, err
	}

	var (
		review  *domain.Review
		summary *domain.ReviewSummary
		changed bool
	)
	err := s.store.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		review, err = tx.Reviews().GetByIDForUpdate(ctx, reviewID)
		if err != nil {
			return err
		}
		if changed = change(review); !changed {
			return nil
		}
		if err := tx.Reviews().Update(ctx, review); err != nil {
			return err
		}
		summary, err = s.applyToSummary(ctx, tx, review.Reviewable, op(review.Rating))
		return err
	})
	observe(operation, changed, err)
	if err != nil {
		return false, s.fail(ctx, operation+" review", err)
	}
	if !changed {
		return false, nil
	}

	s.afterCommit(ctx, "review."+operation+"d", review, summary, publish)

	s.logger.InfoContext(ctx, "review "+operation+"d",
		slog.String("review_id", review.ID),
		slog.String("reviewable", review.Reviewable.String()),
		slog.Int("review_count", summary.ReviewCount),
		slog.Float64("average_rating", summary.AverageRating),
	)
	return true, nil
}

// applyToSummary locks the reviewable's summary, applies op and saves it.
// Callers must already hold the lock on the review row.
func (s *ReviewService) applyToSummary(ctx context.Context, tx repository.Tx, reviewable domain.EntityRef, op aggregate.Operation) (*domain.ReviewSummary, error) {
	current, err := tx.Summaries().GetForUpdate(ctx, reviewable)
	if err != nil {
		return nil, err
	}

	next, err := aggregate.Apply(*current, op)
	if err != nil {
		return nil, err
	}
	if err := tx.Summaries().Save(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *ReviewService) afterCommit(ctx context.Context, eventType string, review *domain.Review, summary *domain.ReviewSummary, publish publishFunc) {
	log := logger.WithContext(ctx, s.logger)

	// The committed summary is written through rather than deleted so a
	// reader holding an older row cannot repopulate the cache behind us.
	if summary != nil {
		if err := s.cache.Set(ctx, summary); err != nil {
			log.ErrorContext(ctx, "failed to write review summary cache",
				slog.String("reviewable", review.Reviewable.String()),
				slog.String("error", err.Error()),
			)
			if err := s.cache.Invalidate(ctx, review.Reviewable); err != nil {
				log.ErrorContext(ctx, "failed to invalidate review summary cache",
					slog.String("reviewable", review.Reviewable.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if err := publish(ctx, review, summary); err != nil {
		log.ErrorContext(ctx, "failed to publish "+eventType+" event",
			slog.String("review_id", review.ID),
			slog.String("error", err.Error()),
		)
	}
}

// fail wraps a failed write. Inconsistent summaries are logged since they
// point at corrupted aggregate state rather than bad input.
func (s *ReviewService) fail(ctx context.Context, action string, err error) error {
	if errors.Is(err, domain.ErrInconsistentSummary) {
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "review summary is inconsistent",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func (s *ReviewService) validatePair(reviewer, reviewable domain.EntityRef) error {
	if err := reviewer.Validate("reviewer"); err != nil {
		return err
	}
	return reviewable.Validate("reviewable")
}

func (s *ReviewService) validateRating(rating float64) error {
	if !(rating > 0) {
		return apperrors.InvalidInput("rating must be positive")
	}
	if rating > s.cfg.MaxRating {
		return apperrors.InvalidInput(fmt.Sprintf("rating must not exceed %g", s.cfg.MaxRating))
	}
	return nil
}

func validateReviewID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.InvalidInput("review id must be a valid UUID")
	}
	return nil
}

// GetReview returns a review by id in any approval state.
func (s *ReviewService) GetReview(ctx context.Context, id string) (*domain.Review, error) {
	if err := validateReviewID(id); err != nil {
		return nil, err
	}
	review, err := s.store.Reviews().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get review: %w", err)
	}
	return review, nil
}

// GetSummary returns the summary of reviewable, or an empty summary when no
// review has contributed yet.
func (s *ReviewService) GetSummary(ctx context.Context, reviewable domain.Reviewable) (*domain.ReviewSummary, error) {
	ref := reviewable.ReviewableRef()
	if err := ref.Validate("reviewable"); err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.logger)
	cached, ok, err := s.cache.Get(ctx, ref)
	if err != nil {
		log.WarnContext(ctx, "review summary cache lookup failed",
			slog.String("reviewable", ref.String()),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return cached, nil
	}

	summary, err := s.store.Summaries().Get(ctx, ref)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		summary = domain.EmptySummary(ref)
	case err != nil:
		return nil, fmt.Errorf("get review summary: %w", err)
	}

	if err := s.cache.Set(ctx, summary); err != nil {
		log.WarnContext(ctx, "failed to cache review summary",
			slog.String("reviewable", ref.String()),
			slog.String("error", err.Error()),
		)
	}
	return summary, nil
}

// ListReceivedReviews returns a page of the reviews reviewable has received.
func (s *ReviewService) ListReceivedReviews(ctx context.Context, reviewable domain.Reviewable, filter repository.ListFilter) (pagination.Result[domain.Review], error) {
	ref := reviewable.ReviewableRef()
	if err := ref.Validate("reviewable"); err != nil {
		return pagination.Result[domain.Review]{}, err
	}
	if !filter.Sort.Valid() {
		return pagination.Result[domain.Review]{}, apperrors.InvalidInput(fmt.Sprintf("unknown sort %q", filter.Sort))
	}

	filter.Page = filter.Page.Normalize()
	reviews, total, err := s.store.Reviews().ListReceived(ctx, ref, filter)
	if err != nil {
		return pagination.Result[domain.Review]{}, fmt.Errorf("list received reviews: %w", err)
	}
	return pagination.NewResult(reviews, total, filter.Page), nil
}

// ListGivenReviews returns a page of the reviews reviewer has written.
func (s *ReviewService) ListGivenReviews(ctx context.Context, reviewer domain.Reviewer, filter repository.ListFilter) (pagination.Result[domain.Review], error) {
	ref := reviewer.ReviewerRef()
	if err := ref.Validate("reviewer"); err != nil {
		return pagination.Result[domain.Review]{}, err
	}
	if !filter.Sort.Valid() {
		return pagination.Result[domain.Review]{}, apperrors.InvalidInput(fmt.Sprintf("unknown sort %q", filter.Sort))
	}

	filter.Page = filter.Page.Normalize()
	reviews, total, err := s.store.Reviews().ListGiven(ctx, ref, filter)
	if err != nil {
		return pagination.Result[domain.Review]{}, fmt.Errorf("list given reviews: %w", err)
	}
	return pagination.NewResult(reviews, total, filter.Page), nil
}

// GetGivenReview returns reviewer's review of reviewable.
func (s *ReviewService) GetGivenReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, includeUnapproved bool) (*domain.Review, error) {
	reviewerRef, reviewableRef := reviewer.ReviewerRef(), reviewable.ReviewableRef()
	if err := s.validatePair(reviewerRef, reviewableRef); err != nil {
		return nil, err
	}

	review, err := s.store.Reviews().GetByPair(ctx, reviewerRef, reviewableRef, includeUnapproved)
	if err != nil {
		return nil, fmt.Errorf("get given review: %w", err)
	}
	return review, nil
}

// HasGivenReview reports whether reviewer has reviewed reviewable.
func (s *ReviewService) HasGivenReview(ctx context.Context, reviewer domain.Reviewer, reviewable domain.Reviewable, includeUnapproved bool) (bool, error) {
	reviewerRef, reviewableRef := reviewer.ReviewerRef(), reviewable.ReviewableRef()
	if err := s.validatePair(reviewerRef, reviewableRef); err != nil {
		return false, err
	}

	exists, err := s.store.Reviews().ExistsByPair(ctx, reviewerRef, reviewableRef, includeUnapproved)
	if err != nil {
		return false, fmt.Errorf("check given review: %w", err)
	}
	return exists, nil
}

// HasReceivedReview reports whether reviewable has a review from reviewer.
func (s *ReviewService) HasReceivedReview(ctx context.Context, reviewable domain.Reviewable, reviewer domain.Reviewer, includeUnapproved bool) (bool, error) {
	return s.HasGivenReview(ctx, reviewer, reviewable, includeUnapproved)
}
