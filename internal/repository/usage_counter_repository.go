package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeQuota increments the day counter only while it is below the limit.
// It returns the new count, or -1 when the limit was already reached.
var takeQuota = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return -1
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return current
`)

// usageKeyTTL keeps the counter past the day boundary in any timezone.
const usageKeyTTL = 48 * time.Hour

// UsageCounterRepository keeps per-day routing call counters in Redis.
type UsageCounterRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewUsageCounterRepository constructs the repository.
func NewUsageCounterRepository(client redis.UniversalClient, prefix string) *UsageCounterRepository {
	if prefix == "" {
		prefix = "dispatch:routing-usage:"
	}
	return &UsageCounterRepository{client: client, prefix: prefix}
}

// TryIncrement atomically takes one unit of quota for the day. ok is false when
// the limit was already reached; the counter is then left untouched.
func (r *UsageCounterRepository) TryIncrement(ctx context.Context, day string, limit int64) (int64, bool, error) {
	res, err := takeQuota.Run(ctx, r.client, []string{r.prefix + day}, limit, int64(usageKeyTTL.Seconds())).Int64()
	if err != nil {
		return 0, false, fmt.Errorf("take routing quota: %w", err)
	}
	if res < 0 {
		return limit, false, nil
	}
	return res, true, nil
}

// Count returns the calls recorded for the day.
func (r *UsageCounterRepository) Count(ctx context.Context, day string) (int64, error) {
	n, err := r.client.Get(ctx, r.prefix+day).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("read routing usage: %w", err)
	}
	return n, nil
}
