package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/utafrali/ReviewGo/internal/domain"
	"github.com/utafrali/ReviewGo/pkg/database"
	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
)

const summaryColumns = `id, reviewable_type, reviewable_id, average_rating, review_count, created_at, updated_at`

// SummaryRepository implements repository.SummaryRepository using PostgreSQL.
type SummaryRepository struct {
	db  database.DBTX
	now func() time.Time
}

// NewSummaryRepository creates a summary repository over a pool or a transaction.
func NewSummaryRepository(db database.DBTX) *SummaryRepository {
	return &SummaryRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the stored summary for reviewable.
func (r *SummaryRepository) Get(ctx context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM review_summaries WHERE reviewable_type = $1 AND reviewable_id = $2`
	return r.scanOne(ctx, "GetSummary", query, reviewable)
}

// GetForUpdate returns the row-locked summary, creating an empty one when
// absent. Concurrent creators converge on the same row through the unique key.
func (r *SummaryRepository) GetForUpdate(ctx context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, error) {
	insert := `
		INSERT INTO review_summaries (id, reviewable_type, reviewable_id, average_rating, review_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4, $4)
		ON CONFLICT (reviewable_type, reviewable_id) DO NOTHING`

	insCtx, end := database.TraceQuery(ctx, "EnsureSummary", insert)
	_, err := r.db.Exec(insCtx, insert, uuid.New().String(), reviewable.Type, reviewable.ID, r.now())
	end(err)
	if err != nil {
		return nil, fmt.Errorf("ensure review summary: %w", err)
	}

	query := `SELECT ` + summaryColumns + ` FROM review_summaries WHERE reviewable_type = $1 AND reviewable_id = $2 FOR UPDATE`
	s, err := r.scanOne(ctx, "LockSummary", query, reviewable)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("lock review summary %s: row vanished after insert", reviewable)
	}
	return s, err
}

// Save writes the aggregate fields of summary and stamps its updated_at.
// The stamp strictly increases per row even when the clock of this node is
// behind the one that wrote the previous version, so it can order cache
// writes.
func (r *SummaryRepository) Save(ctx context.Context, summary *domain.ReviewSummary) (err error) {
	query := `
		UPDATE review_summaries
		SET average_rating = $2, review_count = $3, updated_at = $4
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "SaveSummary", query)
	defer func() { end(err) }()

	updatedAt := r.now().Truncate(time.Microsecond)
	if !updatedAt.After(summary.UpdatedAt) {
		updatedAt = summary.UpdatedAt.Truncate(time.Microsecond).Add(time.Microsecond)
	}
	tag, err := r.db.Exec(ctx, query, summary.ID, summary.AverageRating, summary.ReviewCount, updatedAt)
	if err != nil {
		return fmt.Errorf("save review summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("review summary", summary.ID)
	}
	summary.UpdatedAt = updatedAt
	return nil
}

func (r *SummaryRepository) scanOne(ctx context.Context, op, query string, reviewable domain.EntityRef) (*domain.ReviewSummary, error) {
	ctx, end := database.TraceQuery(ctx, op, query)

	var s domain.ReviewSummary
	err := r.db.QueryRow(ctx, query, reviewable.Type, reviewable.ID).Scan(
		&s.ID,
		&s.Reviewable.Type,
		&s.Reviewable.ID,
		&s.AverageRating,
		&s.ReviewCount,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		end(nil)
		return nil, apperrors.NotFound("review summary", reviewable.String())
	}
	end(err)
	if err != nil {
		return nil, fmt.Errorf("scan review summary: %w", err)
	}
	return &s, nil
}
