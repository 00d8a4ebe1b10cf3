package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdempotencyStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	seen, err := s.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Add(ctx, "evt-1"))
	seen, _ = s.Contains(ctx, "evt-1")
	assert.True(t, seen)

	now = now.Add(2 * time.Minute)
	seen, _ = s.Contains(ctx, "evt-1")
	assert.False(t, seen)
	assert.Equal(t, 0, s.Len())
}

func TestRedisIdempotencyStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	s := NewRedisIdempotencyStore(client, "review_events:", time.Hour)

	seen, err := s.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Add(ctx, "evt-1"))
	assert.True(t, mr.Exists("review_events:evt-1"))
	assert.Equal(t, time.Hour, mr.TTL("review_events:evt-1"))

	seen, err = s.Contains(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mr.FastForward(2 * time.Hour)
	seen, _ = s.Contains(ctx, "evt-1")
	assert.False(t, seen)
}

func TestRedisIdempotencyStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	_, err := NewRedisIdempotencyStore(client, "p:", time.Hour).Contains(context.Background(), "evt")
	assert.Error(t, err)
}

type failingStore struct{}

func (failingStore) Contains(context.Context, string) (bool, error) { return false, errors.New("redis down") }
func (failingStore) Add(context.Context, string) error              { return errors.New("redis down") }

func TestIdempotentHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate skipped", func(t *testing.T) {
		calls := 0
		h := IdempotentHandler(NewMemoryIdempotencyStore(time.Hour), func(context.Context, *Event) error {
			calls++
			return nil
		}, discardLogger())

		e := &Event{EventID: "evt-1", EventType: "review.moderated"}
		require.NoError(t, h(ctx, e))
		require.NoError(t, h(ctx, e))
		assert.Equal(t, 1, calls)
	})

	t.Run("failed event not recorded", func(t *testing.T) {
		store := NewMemoryIdempotencyStore(time.Hour)
		h := IdempotentHandler(store, func(context.Context, *Event) error {
			return errors.New("boom")
		}, discardLogger())

		assert.Error(t, h(ctx, &Event{EventID: "evt-2"}))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("missing id passes through", func(t *testing.T) {
		calls := 0
		h := IdempotentHandler(NewMemoryIdempotencyStore(time.Hour), func(context.Context, *Event) error {
			calls++
			return nil
		}, discardLogger())

		require.NoError(t, h(ctx, &Event{}))
		require.NoError(t, h(ctx, &Event{}))
		assert.Equal(t, 2, calls)
	})

	t.Run("store failure processes anyway", func(t *testing.T) {
		calls := 0
		h := IdempotentHandler(failingStore{}, func(context.Context, *Event) error {
			calls++
			return nil
		}, discardLogger())

		require.NoError(t, h(ctx, &Event{EventID: "evt-3"}))
		assert.Equal(t, 1, calls)
	})
}
