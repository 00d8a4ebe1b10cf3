package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/ReviewGo/internal/domain"
	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
	pkgkafka "github.com/utafrali/ReviewGo/pkg/kafka"
)

// Moderation decisions carried by review.moderated events.
const (
	DecisionApprove   = "approve"
	DecisionUnapprove = "unapprove"
)

// ModerationData is the payload of a review.moderated event.
type ModerationData struct {
	ReviewID string `json:"review_id"`
	Decision string `json:"decision"`
}

// Moderator applies approval decisions.
type Moderator interface {
	ApproveReview(ctx context.Context, reviewID string) (bool, error)
	UnapproveReview(ctx context.Context, reviewID string) (bool, error)
}

// NewModerationHandler returns a handler that applies moderation decisions.
// Malformed payloads, unknown decisions and missing reviews are marked
// permanent so the consumer does not retry them.
func NewModerationHandler(m Moderator, logger *slog.Logger) pkgkafka.Handler {
	return func(ctx context.Context, evt *pkgkafka.Event) error {
		var data ModerationData
		if err := evt.UnmarshalData(&data); err != nil {
			return pkgkafka.Permanent(fmt.Errorf("decode moderation payload: %w", err))
		}
		if data.ReviewID == "" {
			data.ReviewID = evt.AggregateID
		}

		var apply func(context.Context, string) (bool, error)
		switch data.Decision {
		case DecisionApprove:
			apply = m.ApproveReview
		case DecisionUnapprove:
			apply = m.UnapproveReview
		default:
			return pkgkafka.Permanent(fmt.Errorf("unknown moderation decision %q", data.Decision))
		}

		changed, err := apply(ctx, data.ReviewID)
		if err != nil {
			if errors.Is(err, domain.ErrReviewNotFound) || errors.Is(err, apperrors.ErrInvalidInput) {
				return pkgkafka.Permanent(err)
			}
			return err
		}

		logger.InfoContext(ctx, "moderation decision applied",
			slog.String("event_id", evt.EventID),
			slog.String("review_id", data.ReviewID),
			slog.String("decision", data.Decision),
			slog.Bool("changed", changed),
		)
		return nil
	}
}
