package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/ReviewGo/internal/domain"
	pkgkafka "github.com/utafrali/ReviewGo/pkg/kafka"
	"github.com/utafrali/ReviewGo/pkg/logger"
)

// Kafka topic constants for review domain events.
var (
	TopicReviewCreated    = pkgkafka.Topic("review", "created")
	TopicReviewUpdated    = pkgkafka.Topic("review", "updated")
	TopicReviewDeleted    = pkgkafka.Topic("review", "deleted")
	TopicReviewApproved   = pkgkafka.Topic("review", "approved")
	TopicReviewUnapproved = pkgkafka.Topic("review", "unapproved")
	TopicReviewModerated  = pkgkafka.Topic("review", "moderated")
)

// Aggregate type constant.
const AggregateTypeReview = "review"

// Source identifier for events originating from the review service.
const SourceReviewService = "review-service"

// SummaryData is the reviewable's summary after the change.
type SummaryData struct {
	AverageRating float64 `json:"average_rating"`
	ReviewCount   int     `json:"review_count"`
}

// ReviewEventData is the payload shared by all review events.
type ReviewEventData struct {
	ID             string       `json:"id"`
	ReviewerType   string       `json:"reviewer_type"`
	ReviewerID     string       `json:"reviewer_id"`
	ReviewableType string       `json:"reviewable_type"`
	ReviewableID   string       `json:"reviewable_id"`
	Rating         float64      `json:"rating"`
	Approved       bool         `json:"approved"`
	ApprovedAt     *time.Time   `json:"approved_at,omitempty"`
	Summary        *SummaryData `json:"summary,omitempty"`
}

// Publisher is the subset of pkgkafka.Producer used here.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes review domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the review service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishReviewCreated publishes a review.created event.
func (p *Producer) PublishReviewCreated(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return p.publish(ctx, TopicReviewCreated, "review.created", review, summary)
}

// PublishReviewUpdated publishes a review.updated event.
func (p *Producer) PublishReviewUpdated(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return p.publish(ctx, TopicReviewUpdated, "review.updated", review, summary)
}

// PublishReviewDeleted publishes a review.deleted event.
func (p *Producer) PublishReviewDeleted(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return p.publish(ctx, TopicReviewDeleted, "review.deleted", review, summary)
}

// PublishReviewApproved publishes a review.approved event.
func (p *Producer) PublishReviewApproved(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return p.publish(ctx, TopicReviewApproved, "review.approved", review, summary)
}

// PublishReviewUnapproved publishes a review.unapproved event.
func (p *Producer) PublishReviewUnapproved(ctx context.Context, review *domain.Review, summary *domain.ReviewSummary) error {
	return p.publish(ctx, TopicReviewUnapproved, "review.unapproved", review, summary)
}

func (p *Producer) publish(ctx context.Context, topic, eventType string, review *domain.Review, summary *domain.ReviewSummary) error {
	data := ReviewEventData{
		ID:             review.ID,
		ReviewerType:   review.Reviewer.Type,
		ReviewerID:     review.Reviewer.ID,
		ReviewableType: review.Reviewable.Type,
		ReviewableID:   review.Reviewable.ID,
		Rating:         review.Rating,
		Approved:       review.IsApproved(),
		ApprovedAt:     review.ApprovedAt,
	}
	if summary != nil {
		data.Summary = &SummaryData{
			AverageRating: summary.AverageRating,
			ReviewCount:   summary.ReviewCount,
		}
	}

	evt, err := pkgkafka.NewEvent(eventType, review.ID, AggregateTypeReview, SourceReviewService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		evt.WithCorrelationID(id)
	}
	evt.WithMetadata("reviewable", review.Reviewable.String())

	if err := p.kafka.Publish(ctx, topic, evt); err != nil {
		return fmt.Errorf("publish %s event: %w", eventType, err)
	}

	p.logger.DebugContext(ctx, "published review event",
		slog.String("event_type", eventType),
		slog.String("review_id", review.ID),
	)
	return nil
}
