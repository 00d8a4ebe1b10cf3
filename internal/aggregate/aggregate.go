// Package aggregate maintains a review summary incrementally, one review
// change at a time, without rereading the underlying reviews.
package aggregate

import (
	"fmt"
	"math"

	"github.com/utafrali/ReviewGo/internal/domain"
)

// Kind enumerates the summary changes Apply understands.
type Kind int

const (
	KindNoop Kind = iota
	KindAdd
	KindRemove
	KindEdit
)

func (k Kind) String() string {
	switch k {
	case KindNoop:
		return "noop"
	case KindAdd:
		return "add"
	case KindRemove:
		return "remove"
	case KindEdit:
		return "edit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Operation is one change to the set of approved ratings.
type Operation struct {
	Kind      Kind
	Rating    float64
	OldRating float64
}

// Add records a newly contributing rating.
func Add(rating float64) Operation {
	return Operation{Kind: KindAdd, Rating: rating}
}

// Remove withdraws a previously contributing rating.
func Remove(rating float64) Operation {
	return Operation{Kind: KindRemove, Rating: rating}
}

// Edit replaces a contributing rating in place.
func Edit(oldRating, newRating float64) Operation {
	return Operation{Kind: KindEdit, OldRating: oldRating, Rating: newRating}
}

// Noop leaves the summary unchanged.
func Noop() Operation {
	return Operation{Kind: KindNoop}
}

// Apply returns the summary that results from applying op to old.
// The identity and timestamps of old are carried over; Apply never reads a clock.
func Apply(old domain.ReviewSummary, op Operation) (domain.ReviewSummary, error) {
	next := old
	count := float64(old.ReviewCount)

	switch op.Kind {
	case KindNoop:
		return next, nil

	case KindAdd:
		next.ReviewCount = old.ReviewCount + 1
		next.AverageRating = Round((old.AverageRating*count + op.Rating) / float64(next.ReviewCount))
		return next, nil

	case KindRemove:
		if old.ReviewCount <= 1 {
			next.ReviewCount = 0
			next.AverageRating = 0
			return next, nil
		}
		next.ReviewCount = old.ReviewCount - 1
		next.AverageRating = Round((old.AverageRating*count - op.Rating) / float64(next.ReviewCount))
		return next, nil

	case KindEdit:
		if old.ReviewCount <= 0 {
			return old, domain.InconsistentSummary("edit", old.ReviewCount)
		}
		next.AverageRating = Round((old.AverageRating*count - op.OldRating + op.Rating) / count)
		return next, nil

	default:
		return old, fmt.Errorf("apply summary operation: unknown kind %s", op.Kind)
	}
}

// Round rounds v half-up to two decimal places. The small bias absorbs
// binary representation error, so 1.005 rounds to 1.01.
func Round(v float64) float64 {
	shifted := v * 100
	return math.Round(shifted+math.Copysign(1e-9, shifted)) / 100
}
