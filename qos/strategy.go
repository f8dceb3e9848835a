package qos

import (
	"context"
	"errors"

	"github.com/StreamCharge/ApiCharge/subscription"
	"github.com/StreamCharge/ApiCharge/wire"
)

// Errors surfaced by strategy decisions.
var (
	// ErrQuotaExceeded means the subscription's unit budget is spent.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrRateLimited means the current request rate exceeds the contract.
	ErrRateLimited = errors.New("rate limited")
	// ErrUnknownKind means the stored subscription carries a QoS kind no
	// strategy handles. Fails closed.
	ErrUnknownKind = errors.New("unknown qos kind")
)

// Strategy decides whether one request may proceed under a subscription's
// contract, consuming budget as a side effect of an allow.
type Strategy interface {
	// CheckAndConsume admits at most one request per remaining unit of
	// budget. A nil error is an admit; the returned count is the remaining
	// budget after this admission, or -1 when the strategy has no finite
	// budget.
	CheckAndConsume(ctx context.Context, rec *subscription.Record) (int64, error)
}

// Selector routes a subscription to the strategy for its stored QoS kind.
type Selector struct {
	counter *CounterStrategy
	bucket  *TokenBucketStrategy
}

// NewSelector creates a Selector over the standard strategies.
func NewSelector(store *subscription.Store, limiter *Limiter) *Selector {
	return &Selector{
		counter: &CounterStrategy{store: store},
		bucket:  &TokenBucketStrategy{limiter: limiter},
	}
}

// CheckAndConsume dispatches on the record's QoS kind.
func (s *Selector) CheckAndConsume(ctx context.Context, rec *subscription.Record) (int64, error) {
	switch rec.QoSKind {
	case wire.QoSKindCounter:
		return s.counter.CheckAndConsume(ctx, rec)
	case wire.QoSKindTokenBucket:
		return s.bucket.CheckAndConsume(ctx, rec)
	default:
		return 0, ErrUnknownKind
	}
}

// CounterStrategy enforces a finite call budget through the subscription
// store's atomic decrement.
type CounterStrategy struct {
	store *subscription.Store
}

// CheckAndConsume takes one unit from the budget.
func (c *CounterStrategy) CheckAndConsume(ctx context.Context, rec *subscription.Record) (int64, error) {
	remaining, err := c.store.ConsumeUnit(ctx, rec.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrExhausted) {
			return 0, ErrQuotaExceeded
		}
		return 0, err
	}
	return remaining, nil
}

// TokenBucketStrategy enforces a per-second request rate with no finite
// call budget.
type TokenBucketStrategy struct {
	limiter *Limiter
}

// CheckAndConsume admits the request when the subscription's current-second
// window has capacity left.
func (t *TokenBucketStrategy) CheckAndConsume(ctx context.Context, rec *subscription.Record) (int64, error) {
	if err := t.limiter.Take(ctx, rec.SubscriptionID, rec.RateLimit); err != nil {
		return 0, err
	}
	return -1, nil
}
