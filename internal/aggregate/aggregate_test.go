package aggregate

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/ReviewGo/internal/domain"
)

func summary(count int, avg float64) domain.ReviewSummary {
	return domain.ReviewSummary{
		ID:            "sum-1",
		Reviewable:    domain.EntityRef{Type: "product", ID: "p-1"},
		ReviewCount:   count,
		AverageRating: avg,
	}
}

func TestApply_Scenarios(t *testing.T) {
	start := summary(2, 4.75)

	tests := []struct {
		name      string
		op        Operation
		wantCount int
		wantAvg   float64
	}{
		{"add to existing", Add(4), 3, 4.5},
		{"remove one of two", Remove(4.5), 1, 5.0},
		{"edit in place", Edit(4.5, 4.0), 2, 4.5},
		{"noop", Noop(), 2, 4.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(start, tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCount, got.ReviewCount)
			assert.InDelta(t, tt.wantAvg, got.AverageRating, 1e-9)
			assert.Equal(t, start.ID, got.ID)
			assert.Equal(t, start.Reviewable, got.Reviewable)
		})
	}
}

func TestApply_ApproveThenUnapproveRestores(t *testing.T) {
	start := summary(2, 4.75)

	added, err := Apply(start, Add(4))
	require.NoError(t, err)
	assert.Equal(t, 3, added.ReviewCount)
	assert.InDelta(t, 4.5, added.AverageRating, 1e-9)

	removed, err := Apply(added, Remove(4))
	require.NoError(t, err)
	assert.Equal(t, 2, removed.ReviewCount)
	assert.InDelta(t, 4.75, removed.AverageRating, 1e-9)
}

func TestApply_AddRemoveRoundTripOnEmpty(t *testing.T) {
	empty := summary(0, 0)

	added, err := Apply(empty, Add(3.5))
	require.NoError(t, err)
	assert.Equal(t, 1, added.ReviewCount)
	assert.Equal(t, 3.5, added.AverageRating)

	removed, err := Apply(added, Remove(3.5))
	require.NoError(t, err)
	assert.Equal(t, 0, removed.ReviewCount)
	assert.Equal(t, 0.0, removed.AverageRating)
}

func TestApply_RemoveFromEmptyResets(t *testing.T) {
	got, err := Apply(summary(0, 0), Remove(4))
	require.NoError(t, err)
	assert.Equal(t, 0, got.ReviewCount)
	assert.Equal(t, 0.0, got.AverageRating)
}

func TestApply_EditOnEmptyIsInconsistent(t *testing.T) {
	start := summary(0, 0)
	got, err := Apply(start, Edit(3, 4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInconsistentSummary))
	assert.Equal(t, start, got)
}

func TestApply_UnknownKind(t *testing.T) {
	_, err := Apply(summary(1, 4), Operation{Kind: Kind(42)})
	assert.Error(t, err)
}

func TestApply_KeepsTimestamps(t *testing.T) {
	start := summary(1, 4)
	start.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	start.UpdatedAt = start.CreatedAt

	got, err := Apply(start, Add(5))
	require.NoError(t, err)
	assert.Equal(t, start.CreatedAt, got.CreatedAt)
	assert.Equal(t, start.UpdatedAt, got.UpdatedAt)
}

func TestApply_DoesNotMaskNegativeAverage(t *testing.T) {
	got, err := Apply(summary(2, 1), Remove(5))
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReviewCount)
	assert.Equal(t, -3.0, got.AverageRating)
}

func TestApply_CountTracksApprovedRatings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := summary(0, 0)
	ratings := make([]float64, 0, 100)

	for i := 0; i < 100; i++ {
		r := float64(1 + rng.Intn(5))
		var err error
		s, err = Apply(s, Add(r))
		require.NoError(t, err)
		ratings = append(ratings, r)

		var sum float64
		for _, v := range ratings {
			sum += v
		}
		require.Equal(t, len(ratings), s.ReviewCount)
		// Rounding happens once per step, so the drift stays small.
		assert.InDelta(t, sum/float64(len(ratings)), s.AverageRating, 0.15)
	}

	for _, r := range ratings {
		var err error
		s, err = Apply(s, Remove(r))
		require.NoError(t, err)
	}
	assert.Equal(t, 0, s.ReviewCount)
	assert.Equal(t, 0.0, s.AverageRating)
}

func TestRound(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{4.5, 4.5},
		{4.666666, 4.67},
		{4.444, 4.44},
		{1.005, 1.01},
		{2.675, 2.68},
		{0.125, 0.13},
		{0, 0},
		{-1.005, -1.01},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Round(tt.in), "Round(%v)", tt.in)
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "add", KindAdd.String())
	assert.Equal(t, "remove", KindRemove.String())
	assert.Equal(t, "edit", KindEdit.String())
	assert.Equal(t, "noop", KindNoop.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
