package apicharge

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/StreamCharge/ApiCharge/settlement"
	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/wire"
)

const (
	testRouteCounter = "rpc-basic"
	testRouteBucket  = "stream-burst"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := defaultConfig()
	cfg.Signer.PrivateKey = testPrivateKey(t)
	cfg.Settlement.Backoff = settlement.Backoff{
		Initial:     time.Millisecond,
		Max:         2 * time.Millisecond,
		Factor:      2,
		MaxAttempts: 3,
	}
	cfg.Metrics.Enabled = true
	cfg.Routes = []RouteConfig{
		{
			RouteID:        testRouteCounter,
			MicroUnitPrice: 1200,
			DurationWindow: time.Hour,
			QoS:            wire.QoSParameters{Kind: wire.QoSKindCounter, MaxCalls: 100},
		},
		{
			RouteID:        testRouteBucket,
			MicroUnitPrice: 5000,
			DurationWindow: time.Hour,
			QoS:            wire.QoSParameters{Kind: wire.QoSKindTokenBucket, RateLimitPerSecond: 50, PriorityClass: "burst"},
		},
	}
	return cfg
}

func testPrivateKey(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func newTestEngine(t *testing.T, mutate func(*Config), sc settlement.Client) (*Engine, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	if sc == nil {
		sc = settlement.NewStaticClient()
	}

	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithSettlementClient(sc).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("build engine: %v", err)
	}

	return engine, mr, func() {
		engine.Close()
		rdb.Close()
		mr.Close()
	}
}

func newTestClient(t *testing.T) *signer.Signer {
	t.Helper()
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	return s
}

// pickQuote finds the signed quote for a route in the current offer set.
func pickQuote(t *testing.T, e *Engine, routeID string) wire.SignedRouteQuote {
	t.Helper()

	quote, err := e.GetQuotes()
	if err != nil {
		t.Fatalf("get quotes: %v", err)
	}
	for i := range quote.Quotes {
		rq, err := quote.Quotes[i].Entity()
		if err != nil {
			t.Fatalf("decode quote entity: %v", err)
		}
		if rq.RouteID == routeID {
			return quote.Quotes[i]
		}
	}
	t.Fatalf("no quote for route %q", routeID)
	return wire.SignedRouteQuote{}
}

// signInstruction does what a real client does: decode the bytes the server
// asks to be signed and replace them in place with the signature.
func signInstruction(t *testing.T, inst *wire.PurchaseInstruction, client *signer.Signer) {
	t.Helper()

	authBytes, err := base64.StdEncoding.DecodeString(inst.AuthorisationToSign)
	if err != nil {
		t.Fatalf("decode authorisation bytes: %v", err)
	}
	inst.AuthorisationToSign = base64.StdEncoding.EncodeToString(client.Sign(authBytes))
}

func purchaseSubscription(t *testing.T, e *Engine, client *signer.Signer, routeID string) *wire.SignedSubscription {
	t.Helper()
	ctx := context.Background()

	inst, err := e.BuildInstruction(ctx, &wire.PurchaseRequest{
		ClientPublicKey: client.PublicKeyBase64(),
		RouteQuote:      pickQuote(t, e, routeID),
	})
	if err != nil {
		t.Fatalf("build instruction: %v", err)
	}

	signInstruction(t, inst, client)

	sub, err := e.Purchase(ctx, inst)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	return sub
}

func mintToken(t *testing.T, sub *wire.SignedSubscription, client *signer.Signer, ttl time.Duration) *wire.AccessToken {
	t.Helper()
	token, err := wire.MintAccessToken(sub, client, ttl, time.Now())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestPurchaseAndAuthorizeFlow(t *testing.T) {
	engine, _, done := newTestEngine(t, nil, nil)
	defer done()
	ctx := context.Background()

	client := newTestClient(t)
	sub := purchaseSubscription(t, engine, client, testRouteCounter)

	if sub.SignableEntity.RouteID != testRouteCounter {
		t.Fatalf("route = %q, want %q", sub.SignableEntity.RouteID, testRouteCounter)
	}
	if sub.SignableEntity.RemainingUnits != 100 {
		t.Fatalf("remaining units = %d, want 100", sub.SignableEntity.RemainingUnits)
	}
	if got, want := sub.SignableEntity.ExpiresAt-sub.SignableEntity.GrantedAt, int64(3600); got != want {
		t.Fatalf("duration = %ds, want %ds", got, want)
	}

	// The minted envelope must verify against the service key.
	subBytes, err := sub.SignableEntity.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	sig, err := wire.DecodeSignature(sub.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if err := signer.Verify(engine.PublicKey(), subBytes, sig); err != nil {
		t.Fatalf("subscription signature: %v", err)
	}

	token := mintToken(t, sub, client, 10*time.Minute)
	decision, err := engine.Authorize(ctx, token, testRouteCounter)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if decision.SubscriptionID != sub.SignableEntity.SubscriptionID {
		t.Fatalf("decision subscription = %q, want %q", decision.SubscriptionID, sub.SignableEntity.SubscriptionID)
	}
	if decision.RemainingUnits != 99 {
		t.Fatalf("remaining after one call = %d, want 99", decision.RemainingUnits)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricPurchaseSuccess] != 1 {
		t.Fatalf("purchase success counter = %d, want 1", snap.Counters[MetricPurchaseSuccess])
	}
	if snap.Counters[MetricAuthorizeAllow] != 1 {
		t.Fatalf("authorize allow counter = %d, want 1", snap.Counters[MetricAuthorizeAllow])
	}
}

func TestQuoteSetSignatureVerifies(t *testing.T) {
	engine, _, done := newTestEngine(t, nil, nil)
	defer done()

	quote, err := engine.GetQuotes()
	if err != nil {
		t.Fatalf("get quotes: %v", err)
	}
	if len(quote.Quotes) != 2 {
		t.Fatalf("quote count = %d, want 2", len(quote.Quotes))
	}

	setBytes, err := quote.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	sig, err := wire.DecodeSignature(quote.Signature)
	if err != nil {
		t.Fatalf("decode set signature: %v", err)
	}
	if err := signer.Verify(engine.PublicKey(), setBytes, sig); err != nil {
		t.Fatalf("quote set signature: %v", err)
	}

	for i := range quote.Quotes {
		canon, err := quote.Quotes[i].CanonicalEntity()
		if err != nil {
			t.Fatalf("canonical entity: %v", err)
		}
		qsig, err := wire.DecodeSignature(quote.Quotes[i].Signature)
		if err != nil {
			t.Fatalf("decode quote signature: %v", err)
		}
		if err := signer.Verify(engine.PublicKey(), canon, qsig); err != nil {
			t.Fatalf("quote %d signature: %v", i, err)
		}
	}
}
