package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/ReviewGo/internal/domain"
	"github.com/utafrali/ReviewGo/internal/repository"
	"github.com/utafrali/ReviewGo/pkg/database"
)

const reviewColumns = `id, reviewer_type, reviewer_id, reviewable_type, reviewable_id,
		       rating, content, approved_at, created_at, updated_at`

const pairCondition = `reviewer_type = $1 AND reviewer_id = $2 AND reviewable_type = $3 AND reviewable_id = $4`

// ReviewRepository implements repository.ReviewRepository using PostgreSQL.
type ReviewRepository struct {
	db database.DBTX
}

// NewReviewRepository creates a review repository over a pool or a transaction.
func NewReviewRepository(db database.DBTX) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create inserts a new review.
func (r *ReviewRepository) Create(ctx context.Context, review *domain.Review) (err error) {
	query := `
		INSERT INTO reviews (id, reviewer_type, reviewer_id, reviewable_type, reviewable_id,
		                     rating, content, approved_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	ctx, end := database.TraceQuery(ctx, "InsertReview", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		review.ID,
		review.Reviewer.Type,
		review.Reviewer.ID,
		review.Reviewable.Type,
		review.Reviewable.ID,
		review.Rating,
		review.Content,
		review.ApprovedAt,
		review.CreatedAt,
		review.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicateReview
		}
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

// GetByID retrieves a review by its id.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*domain.Review, error) {
	return r.getOne(ctx, "GetReview", `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a review by id and locks its row.
func (r *ReviewRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Review, error) {
	return r.getOne(ctx, "LockReview", `SELECT `+reviewColumns+` FROM reviews WHERE id = $1 FOR UPDATE`, id)
}

// GetByPair retrieves the review reviewer left on reviewable.
func (r *ReviewRepository) GetByPair(ctx context.Context, reviewer, reviewable domain.EntityRef, includeUnapproved bool) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE ` + pairCondition
	if !includeUnapproved {
		query += ` AND approved_at IS NOT NULL`
	}
	return r.getOne(ctx, "GetReviewByPair", query, pairArgs(reviewer, reviewable)...)
}

// GetByPairForUpdate retrieves the review for the pair in any state and locks its row.
func (r *ReviewRepository) GetByPairForUpdate(ctx context.Context, reviewer, reviewable domain.EntityRef) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE ` + pairCondition + ` FOR UPDATE`
	return r.getOne(ctx, "LockReviewByPair", query, pairArgs(reviewer, reviewable)...)
}

// ExistsByPair reports whether reviewer has reviewed reviewable.
func (r *ReviewRepository) ExistsByPair(ctx context.Context, reviewer, reviewable domain.EntityRef, includeUnapproved bool) (exists bool, err error) {
	query := `SELECT EXISTS (SELECT 1 FROM reviews WHERE ` + pairCondition
	if !includeUnapproved {
		query += ` AND approved_at IS NOT NULL`
	}
	query += `)`

	ctx, end := database.TraceQuery(ctx, "ReviewExists", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, pairArgs(reviewer, reviewable)...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check review exists: %w", err)
	}
	return exists, nil
}

// Update writes the mutable fields of a review.
func (r *ReviewRepository) Update(ctx context.Context, review *domain.Review) (err error) {
	query := `
		UPDATE reviews
		SET rating = $2, content = $3, approved_at = $4, updated_at = $5
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "UpdateReview", query)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, query,
		review.ID,
		review.Rating,
		review.Content,
		review.ApprovedAt,
		review.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReviewNotFound
	}
	return nil
}

// Delete removes a review by id.
func (r *ReviewRepository) Delete(ctx context.Context, id string) (err error) {
	query := `DELETE FROM reviews WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteReview", query)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReviewNotFound
	}
	return nil
}

// ListReceived returns reviews received by reviewable.
func (r *ReviewRepository) ListReceived(ctx context.Context, reviewable domain.EntityRef, filter repository.ListFilter) ([]domain.Review, int, error) {
	conditions := []string{"reviewable_type = $1", "reviewable_id = $2"}
	args := []any{reviewable.Type, reviewable.ID}

	if filter.ReviewerType != "" {
		args = append(args, filter.ReviewerType)
		conditions = append(conditions, fmt.Sprintf("reviewer_type = $%d", len(args)))
	}
	return r.list(ctx, "ListReceivedReviews", conditions, args, filter)
}

// ListGiven returns reviews written by reviewer.
func (r *ReviewRepository) ListGiven(ctx context.Context, reviewer domain.EntityRef, filter repository.ListFilter) ([]domain.Review, int, error) {
	conditions := []string{"reviewer_type = $1", "reviewer_id = $2"}
	args := []any{reviewer.Type, reviewer.ID}

	if filter.ReviewableType != "" {
		args = append(args, filter.ReviewableType)
		conditions = append(conditions, fmt.Sprintf("reviewable_type = $%d", len(args)))
	}
	return r.list(ctx, "ListGivenReviews", conditions, args, filter)
}

func (r *ReviewRepository) list(ctx context.Context, op string, conditions []string, args []any, filter repository.ListFilter) (reviews []domain.Review, total int, err error) {
	if !filter.IncludeUnapproved {
		conditions = append(conditions, "approved_at IS NOT NULL")
	}

	page := filter.Page.Normalize()
	args = append(args, page.PerPage, page.Offset())

	query := fmt.Sprintf(`
		SELECT %s,
		       count(*) OVER() AS total_count
		FROM reviews
		WHERE %s
		ORDER BY %s
		LIMIT $%d OFFSET $%d`,
		reviewColumns,
		strings.Join(conditions, " AND "),
		orderBy(filter.Sort),
		len(args)-1, len(args),
	)

	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rv domain.Review
		if err = rows.Scan(append(reviewScanTargets(&rv), &total)...); err != nil {
			return nil, 0, fmt.Errorf("scan review row: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate review rows: %w", err)
	}

	if reviews == nil {
		reviews = []domain.Review{}
	}
	return reviews, total, nil
}

func (r *ReviewRepository) getOne(ctx context.Context, op, query string, args ...any) (*domain.Review, error) {
	ctx, end := database.TraceQuery(ctx, op, query)

	var rv domain.Review
	err := r.db.QueryRow(ctx, query, args...).Scan(reviewScanTargets(&rv)...)
	if errors.Is(err, pgx.ErrNoRows) {
		end(nil)
		return nil, domain.ErrReviewNotFound
	}
	end(err)
	if err != nil {
		return nil, fmt.Errorf("scan review: %w", err)
	}
	return &rv, nil
}

func orderBy(sort repository.SortOrder) string {
	if sort == repository.SortTopRated {
		return "rating DESC, created_at DESC, id"
	}
	return "created_at DESC, id"
}

func pairArgs(reviewer, reviewable domain.EntityRef) []any {
	return []any{reviewer.Type, reviewer.ID, reviewable.Type, reviewable.ID}
}

func reviewScanTargets(rv *domain.Review) []any {
	return []any{
		&rv.ID,
		&rv.Reviewer.Type,
		&rv.Reviewer.ID,
		&rv.Reviewable.Type,
		&rv.Reviewable.ID,
		&rv.Rating,
		&rv.Content,
		&rv.ApprovedAt,
		&rv.CreatedAt,
		&rv.UpdatedAt,
	}
}
