package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/ReviewGo/internal/domain"
)

const keyPrefix = "review_summary:"

// SummaryCache implements repository.SummaryCache using Redis.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache creates a Redis-backed summary cache.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{
		client: client,
		ttl:    ttl,
	}
}

func key(reviewable domain.EntityRef) string {
	return keyPrefix + reviewable.Type + ":" + reviewable.ID
}

// Get returns the cached summary for reviewable.
func (c *SummaryCache) Get(ctx context.Context, reviewable domain.EntityRef) (*domain.ReviewSummary, bool, error) {
	data, err := c.client.HGet(ctx, key(reviewable), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get review summary: %w", err)
	}

	var summary domain.ReviewSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false, fmt.Errorf("unmarshal review summary: %w", err)
	}
	return &summary, true, nil
}

// setIfNewer writes the summary unless the cached copy carries a later
// version. KEYS[1] is the summary key; ARGV is version, payload, ttl in ms.
var setIfNewer = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'version')
if current and tonumber(current) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[2], 'version', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// version orders cached copies by the summary's updated_at stamp. A summary
// that was never saved sorts before every stored one.
func version(summary *domain.ReviewSummary) int64 {
	if summary.UpdatedAt.IsZero() {
		return 0
	}
	return summary.UpdatedAt.UnixMicro()
}

// Set stores summary with the configured TTL. A copy older than the one
// already cached is dropped, which keeps a slow reader from overwriting the
// summary a writer just committed.
func (c *SummaryCache) Set(ctx context.Context, summary *domain.ReviewSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal review summary: %w", err)
	}

	keys := []string{key(summary.Reviewable)}
	err = setIfNewer.Run(ctx, c.client, keys, version(summary), data, c.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set review summary: %w", err)
	}
	return nil
}

// Invalidate drops the cached summary for reviewable.
func (c *SummaryCache) Invalidate(ctx context.Context, reviewable domain.EntityRef) error {
	if err := c.client.Del(ctx, key(reviewable)).Err(); err != nil {
		return fmt.Errorf("redis delete review summary: %w", err)
	}
	return nil
}

// NopSummaryCache is used when Redis is disabled. Every lookup misses.
type NopSummaryCache struct{}

// Get implements repository.SummaryCache.
func (NopSummaryCache) Get(context.Context, domain.EntityRef) (*domain.ReviewSummary, bool, error) {
	return nil, false, nil
}

// Set implements repository.SummaryCache.
func (NopSummaryCache) Set(context.Context, *domain.ReviewSummary) error { return nil }

// Invalidate implements repository.SummaryCache.
func (NopSummaryCache) Invalidate(context.Context, domain.EntityRef) error { return nil }
