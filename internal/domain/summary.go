package domain

import (
	"time"
)

// ReviewSummary holds the running aggregate of approved reviews for one reviewable.
type ReviewSummary struct {
	ID            string    `json:"id"`
	Reviewable    EntityRef `json:"reviewable"`
	AverageRating float64   `json:"average_rating"`
	ReviewCount   int       `json:"review_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EmptySummary returns the summary of a reviewable with no approved reviews.
func EmptySummary(reviewable EntityRef) *ReviewSummary {
	return &ReviewSummary{Reviewable: reviewable}
}
