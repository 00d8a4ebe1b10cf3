package domain

import (
	"strings"

	apperrors "github.com/utafrali/ReviewGo/pkg/errors"
)

// EntityRef identifies any entity by a type tag and an id.
type EntityRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Reviewer is anything that can write reviews.
type Reviewer interface {
	ReviewerRef() EntityRef
}

// Reviewable is anything that can receive reviews.
type Reviewable interface {
	ReviewableRef() EntityRef
}

// ReviewerRef implements Reviewer.
func (r EntityRef) ReviewerRef() EntityRef { return r }

// ReviewableRef implements Reviewable.
func (r EntityRef) ReviewableRef() EntityRef { return r }

// String renders the ref as "type:id".
func (r EntityRef) String() string {
	return r.Type + ":" + r.ID
}

// IsZero reports whether both parts are empty.
func (r EntityRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}

// Validate returns an InvalidInput error naming role when either part is blank.
func (r EntityRef) Validate(role string) error {
	if strings.TrimSpace(r.Type) == "" {
		return apperrors.InvalidInput(role + " type is required")
	}
	if strings.TrimSpace(r.ID) == "" {
		return apperrors.InvalidInput(role + " id is required")
	}
	return nil
}
