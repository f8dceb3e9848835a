package qos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/StreamCharge/ApiCharge/subscription"
	"github.com/StreamCharge/ApiCharge/wire"
)

func newQoSTest(t *testing.T) (*subscription.Store, *Limiter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return subscription.NewStore(rdb), NewLimiter(rdb), func() {
		rdb.Close()
		mr.Close()
	}
}

func counterRecord(units int64) *subscription.Record {
	now := time.Now()
	return &subscription.Record{
		SubscriptionID:  "sub-c",
		RouteID:         "rpc-basic",
		OwnerPublicKey:  []byte("owner"),
		QoSKind:         wire.QoSKindCounter,
		MaxCalls:        units,
		GrantedAt:       now.Unix(),
		ExpiresAt:       now.Add(time.Hour).Unix(),
		SettlementTxRef: "tx-c",
		Signature:       []byte("sig"),
	}
}

func TestCounterStrategyConsumesBudget(t *testing.T) {
	store, limiter, done := newQoSTest(t)
	defer done()
	ctx := context.Background()

	rec := counterRecord(3)
	if _, _, err := store.Mint(ctx, rec, 3, time.Hour); err != nil {
		t.Fatalf("mint: %v", err)
	}

	sel := NewSelector(store, limiter)
	for i := 0; i < 3; i++ {
		if _, err := sel.CheckAndConsume(ctx, rec); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if _, err := sel.CheckAndConsume(ctx, rec); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestCounterStrategyNoOverAdmission(t *testing.T) {
	store, limiter, done := newQoSTest(t)
	defer done()
	ctx := context.Background()

	const budget = 4
	const callers = 20

	rec := counterRecord(budget)
	if _, _, err := store.Mint(ctx, rec, budget, time.Hour); err != nil {
		t.Fatalf("mint: %v", err)
	}

	sel := NewSelector(store, limiter)
	var admitted atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if _, err := sel.CheckAndConsume(ctx, rec); err == nil {
				admitted.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if admitted.Load() != budget {
		t.Fatalf("admitted = %d, want %d", admitted.Load(), budget)
	}
}

func TestTokenBucketStrategyLimitsRate(t *testing.T) {
	store, limiter, done := newQoSTest(t)
	defer done()
	ctx := context.Background()

	fixed := time.Unix(1700000000, 0)
	limiter.now = func() time.Time { return fixed }

	rec := counterRecord(0)
	rec.SubscriptionID = "sub-b"
	rec.QoSKind = wire.QoSKindTokenBucket
	rec.RateLimit = 2

	sel := NewSelector(store, limiter)
	for i := 0; i < 2; i++ {
		if _, err := sel.CheckAndConsume(ctx, rec); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	if _, err := sel.CheckAndConsume(ctx, rec); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Next second opens a fresh window.
	limiter.now = func() time.Time { return fixed.Add(time.Second) }
	if _, err := sel.CheckAndConsume(ctx, rec); err != nil {
		t.Fatalf("fresh window: %v", err)
	}
}

func TestSelectorRejectsUnknownKind(t *testing.T) {
	store, limiter, done := newQoSTest(t)
	defer done()

	rec := counterRecord(1)
	rec.QoSKind = "priority-lane"

	sel := NewSelector(store, limiter)
	if _, err := sel.CheckAndConsume(context.Background(), rec); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestLimiterZeroRateAdmitsNothing(t *testing.T) {
	_, limiter, done := newQoSTest(t)
	defer done()

	if err := limiter.Take(context.Background(), "sub-z", 0); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}
