package domain

import (
	"time"
)

// Review is a single rating left by a reviewer on a reviewable.
// Only approved reviews contribute to the reviewable's summary.
type Review struct {
	ID         string     `json:"id"`
	Reviewer   EntityRef  `json:"reviewer"`
	Reviewable EntityRef  `json:"reviewable"`
	Rating     float64    `json:"rating"`
	Content    *string    `json:"content,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// IsApproved reports whether the review currently counts toward the summary.
func (r *Review) IsApproved() bool {
	return r.ApprovedAt != nil
}

// Approve moves an unapproved review to approved at now.
// It returns false and leaves the review untouched when already approved.
func (r *Review) Approve(now time.Time) bool {
	if r.IsApproved() {
		return false
	}
	t := now.UTC()
	r.ApprovedAt = &t
	r.UpdatedAt = t
	return true
}

// Unapprove clears the approval; false when the review was not approved.
func (r *Review) Unapprove(now time.Time) bool {
	if !r.IsApproved() {
		return false
	}
	r.ApprovedAt = nil
	r.UpdatedAt = now.UTC()
	return true
}
