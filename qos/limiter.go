package qos

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps limiter dependency failures so callers can fail
// closed.
var ErrRedisUnavailable = errors.New("qos redis unavailable")

const limiterKeyPrefix = "apc:rate"

// Limiter is a fixed-window per-second counter in redis. Each subscription
// gets its own window keys, so unrelated subscriptions never contend.
type Limiter struct {
	redis redis.UniversalClient
	now   func() time.Time
}

// NewLimiter creates a Limiter backed by the given redis client.
func NewLimiter(redisClient redis.UniversalClient) *Limiter {
	return &Limiter{redis: redisClient, now: time.Now}
}

func limiterKey(subscriptionID string, second int64) string {
	return limiterKeyPrefix + ":" + subscriptionID + ":" + strconv.FormatInt(second, 10)
}

// Take consumes one slot in the subscription's current-second window.
// Returns ErrRateLimited when the window is full. A non-positive limit
// admits nothing.
func (l *Limiter) Take(ctx context.Context, subscriptionID string, perSecond int64) error {
	if perSecond <= 0 {
		return ErrRateLimited
	}

	key := limiterKey(subscriptionID, l.now().Unix())
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	// Two seconds covers clock skew between the two calls.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, 2*time.Second).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > perSecond {
		return ErrRateLimited
	}
	return nil
}
