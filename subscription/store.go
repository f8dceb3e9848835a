package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "apc"

// Errors returned by the store. Dependency failures always surface as
// ErrRedisUnavailable so callers can fail closed.
var (
	ErrNotFound         = errors.New("subscription not found")
	ErrExhausted        = errors.New("subscription units exhausted")
	ErrOutcomeNotFound  = errors.New("purchase outcome not found")
	ErrRedisUnavailable = errors.New("subscription redis unavailable")
)

const (
	consumeStatusNotFound  int64 = -2
	consumeStatusExhausted int64 = -1
)

// Decrement only when a positive budget exists. Returning the new balance
// keeps the check and the mutation in one server-side step, which is what
// rules out over-admission under concurrent validators.
const consumeUnitScript = `
local units = redis.call("GET", KEYS[1])
if not units then
  return -2
end
units = tonumber(units)
if units == nil or units <= 0 then
  return -1
end
return redis.call("DECR", KEYS[1])
`

var consumeUnitLua = redis.NewScript(consumeUnitScript)

// Store persists granted subscriptions, their unit budgets, and purchase
// outcomes in redis.
type Store struct {
	redis  *redis.Client
	prefix string
}

// NewStore creates a Store on the given client.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient, prefix: keyPrefix}
}

func (s *Store) recordKey(subscriptionID string) string {
	return s.prefix + ":sub:" + subscriptionID
}

func (s *Store) unitsKey(subscriptionID string) string {
	return s.prefix + ":units:" + subscriptionID
}

func (s *Store) mintKey(settlementTxRef string) string {
	return s.prefix + ":mint:" + settlementTxRef
}

func (s *Store) outcomeKey(settlementRef string) string {
	return s.prefix + ":outcome:" + settlementRef
}

// Mint persists a freshly granted subscription. The mint is idempotent on
// the settlement transaction reference: a second confirmation of the same
// settlement returns the already minted subscription id with created=false
// and writes nothing.
func (s *Store) Mint(ctx context.Context, rec *Record, initialUnits int64, ttl time.Duration) (string, bool, error) {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return "", false, err
	}

	claimed, err := s.redis.SetNX(ctx, s.mintKey(rec.SettlementTxRef), rec.SubscriptionID, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !claimed {
		existing, err := s.redis.Get(ctx, s.mintKey(rec.SettlementTxRef)).Result()
		if err != nil {
			return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return existing, false, nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(rec.SubscriptionID), encoded, ttl)
		pipe.Set(ctx, s.unitsKey(rec.SubscriptionID), initialUnits, ttl)
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return rec.SubscriptionID, true, nil
}

// Get loads a subscription record. Expired records are indistinguishable
// from never-existing ones once redis evicts the key.
func (s *Store) Get(ctx context.Context, subscriptionID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.recordKey(subscriptionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeRecord(data)
}

// RemainingUnits reads the current unit budget without consuming.
func (s *Store) RemainingUnits(ctx context.Context, subscriptionID string) (int64, error) {
	units, err := s.redis.Get(ctx, s.unitsKey(subscriptionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return units, nil
}

// ConsumeUnit atomically takes one unit from the budget and returns the new
// balance. Returns ErrExhausted at zero and ErrNotFound when the budget key
// is gone. The balance never goes negative.
func (s *Store) ConsumeUnit(ctx context.Context, subscriptionID string) (int64, error) {
	res, err := consumeUnitLua.Run(ctx, s.redis, []string{s.unitsKey(subscriptionID)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	switch res {
	case consumeStatusNotFound:
		return 0, ErrNotFound
	case consumeStatusExhausted:
		return 0, ErrExhausted
	default:
		return res, nil
	}
}

// SaveOutcome records the converged result of a purchase so abandoned
// clients can query it later.
func (s *Store) SaveOutcome(ctx context.Context, settlementRef string, outcome *Outcome, ttl time.Duration) error {
	encoded, err := encodeOutcome(outcome)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.outcomeKey(settlementRef), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetOutcome loads a recorded purchase outcome.
func (s *Store) GetOutcome(ctx context.Context, settlementRef string) (*Outcome, error) {
	data, err := s.redis.Get(ctx, s.outcomeKey(settlementRef)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOutcomeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return decodeOutcome(data)
}
