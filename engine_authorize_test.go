package apicharge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/StreamCharge/ApiCharge/wire"
)

func TestAuthorizeConsumesBudgetToExhaustion(t *testing.T) {
	engine, _, done := newTestEngine(t, func(cfg *Config) {
		cfg.Routes[0].QoS.MaxCalls = 3
	}, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)
	token := mintToken(t, sub, client, 10*time.Minute)

	for want := int64(2); want >= 0; want-- {
		decision, err := engine.Authorize(ctx, token, testRouteCounter)
		if err != nil {
			t.Fatalf("authorize at budget %d: %v", want+1, err)
		}
		if decision.RemainingUnits != want {
			t.Fatalf("remaining = %d, want %d", decision.RemainingUnits, want)
		}
	}

	_, err := engine.Authorize(ctx, token, testRouteCounter)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("exhausted authorize error = %v, want ErrQuotaExceeded", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricQuotaExceeded] != 1 {
		t.Fatalf("quota exceeded counter = %d, want 1", snap.Counters[MetricQuotaExceeded])
	}
	if snap.Counters[MetricAuthorizeAllow] != 3 {
		t.Fatalf("allow counter = %d, want 3", snap.Counters[MetricAuthorizeAllow])
	}
}

func TestAuthorizeNoOverAdmissionUnderConcurrency(t *testing.T) {
	const budget = 5
	const validators = 32

	engine, _, done := newTestEngine(t, func(cfg *Config) {
		cfg.Routes[0].QoS.MaxCalls = budget
	}, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)
	token := mintToken(t, sub, client, 10*time.Minute)

	var allowed, denied atomic.Int64
	var start sync.WaitGroup
	var finished sync.WaitGroup
	start.Add(1)

	for i := 0; i < validators; i++ {
		finished.Add(1)
		go func() {
			defer finished.Done()
			start.Wait()
			if _, err := engine.Authorize(ctx, token, testRouteCounter); err == nil {
				allowed.Add(1)
			} else if errors.Is(err, ErrQuotaExceeded) {
				denied.Add(1)
			}
		}()
	}

	start.Done()
	finished.Wait()

	if allowed.Load() != budget {
		t.Fatalf("allowed = %d, want exactly %d", allowed.Load(), budget)
	}
	if denied.Load() != validators-budget {
		t.Fatalf("denied = %d, want %d", denied.Load(), validators-budget)
	}
}

func TestAuthorizeRejectsForgedToken(t *testing.T) {
	engine, _, done := newTestEngine(t, nil, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	intruder := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)

	forged := mintToken(t, sub, intruder, 10*time.Minute)
	if _, err := engine.Authorize(ctx, forged, testRouteCounter); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token error = %v, want ErrInvalidToken", err)
	}

	// Tampering with the entity after signing must also fail.
	token := mintToken(t, sub, client, 10*time.Minute)
	token.SignableEntity.RequestedTTL++
	if _, err := engine.Authorize(ctx, token, testRouteCounter); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered token error = %v, want ErrInvalidToken", err)
	}
}

func TestAuthorizeTokenExpiryBoundaryIsExclusive(t *testing.T) {
	engine, _, done := newTestEngine(t, nil, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)

	issued := time.Now()
	token, err := wire.MintAccessToken(sub, client, 600*time.Second, issued)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	engine.now = func() time.Time { return issued.Add(599 * time.Second) }
	if _, err := engine.Authorize(ctx, token, testRouteCounter); err != nil {
		t.Fatalf("authorize one second before expiry: %v", err)
	}

	engine.now = func() time.Time { return issued.Add(600 * time.Second) }
	if _, err := engine.Authorize(ctx, token, testRouteCounter); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("authorize at expiry instant = %v, want ErrTokenExpired", err)
	}
}

func TestAuthorizeCapsRequestedTTL(t *testing.T) {
	engine, _, done := newTestEngine(t, func(cfg *Config) {
		cfg.Token.MaxTTL = time.Minute
	}, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)

	issued := time.Now()
	token, err := wire.MintAccessToken(sub, client, 24*time.Hour, issued)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	engine.now = func() time.Time { return issued.Add(time.Minute) }
	if _, err := engine.Authorize(ctx, token, testRouteCounter); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("authorize past cap = %v, want ErrTokenExpired", err)
	}
}

func TestAuthorizeSingleUseTokenReplay(t *testing.T) {
	engine, _, done := newTestEngine(t, func(cfg *Config) {
		cfg.Token.SingleUse = true
	}, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)
	token := mintToken(t, sub, client, 10*time.Minute)

	if _, err := engine.Authorize(ctx, token, testRouteCounter); err != nil {
		t.Fatalf("first use: %v", err)
	}
	if _, err := engine.Authorize(ctx, token, testRouteCounter); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second use = %v, want ErrInvalidToken", err)
	}

	// A fresh token over the same subscription is fine.
	fresh := mintToken(t, sub, client, 10*time.Minute)
	if _, err := engine.Authorize(ctx, fresh, testRouteCounter); err != nil {
		t.Fatalf("fresh token: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricTokenReplayDetected] != 1 {
		t.Fatalf("token replay counter = %d, want 1", snap.Counters[MetricTokenReplayDetected])
	}
}

func TestAuthorizeRouteMismatch(t *testing.T) {
	engine, _, done := newTestEngine(t, nil, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)
	token := mintToken(t, sub, client, 10*time.Minute)

	if _, err := engine.Authorize(ctx, token, testRouteBucket); !errors.Is(err, ErrRouteMismatch) {
		t.Fatalf("cross-route authorize = %v, want ErrRouteMismatch", err)
	}
}

func TestAuthorizeExpiredSubscription(t *testing.T) {
	engine, mr, done := newTestEngine(t, nil, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)
	token := mintToken(t, sub, client, 10*time.Minute)

	mr.FastForward(2 * time.Hour)

	if _, err := engine.Authorize(ctx, token, testRouteCounter); !errors.Is(err, ErrSubscriptionExpired) {
		t.Fatalf("expired subscription authorize = %v, want ErrSubscriptionExpired", err)
	}
}

func TestAuthorizeUnknownSubscription(t *testing.T) {
	engine, _, done := newTestEngine(t, nil, nil)
	defer done()

	client := newTestClient(t)
	token := &wire.AccessToken{
		SignableEntity: wire.AccessTokenEntity{
			SubscriptionID: "never-minted",
			IssuedAt:       time.Now().Unix(),
			RequestedTTL:   600,
		},
	}
	payload, err := token.SignableEntity.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	token.Signature = wire.EncodeSignature(client.Sign(payload))

	if _, err := engine.Authorize(context.Background(), token, testRouteCounter); !errors.Is(err, ErrSubscriptionExpired) {
		t.Fatalf("unknown subscription authorize = %v, want ErrSubscriptionExpired", err)
	}
}

func TestAuthorizeTokenBucketDecision(t *testing.T) {
	engine, _, done := newTestEngine(t, nil, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteBucket)
	token := mintToken(t, sub, client, 10*time.Minute)

	decision, err := engine.Authorize(ctx, token, testRouteBucket)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decision.RemainingUnits != -1 {
		t.Fatalf("remaining = %d, want -1 for unmetered budget", decision.RemainingUnits)
	}
	if decision.PriorityClass != "burst" {
		t.Fatalf("priority class = %q, want %q", decision.PriorityClass, "burst")
	}
}
