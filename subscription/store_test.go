package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRecord() *Record {
	now := time.Now()
	return &Record{
		SubscriptionID:  "sub-1",
		RouteID:         "rpc-basic",
		OwnerPublicKey:  []byte("owner-public-key-32-bytes-long!!"),
		QoSKind:         "counter",
		MaxCalls:        100,
		GrantedAt:       now.Unix(),
		ExpiresAt:       now.Add(time.Hour).Unix(),
		SettlementTxRef: "tx-1",
		Signature:       []byte("server-signature"),
	}
}

func TestMintAndGetRoundTrip(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := testRecord()
	id, created, err := store.Mint(ctx, rec, 100, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !created || id != "sub-1" {
		t.Fatalf("mint: created=%v id=%q", created, id)
	}

	got, err := store.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RouteID != rec.RouteID || got.SettlementTxRef != rec.SettlementTxRef {
		t.Fatalf("record mismatch: %+v", got)
	}
	if string(got.OwnerPublicKey) != string(rec.OwnerPublicKey) {
		t.Fatal("owner key mismatch")
	}
	if string(got.Signature) != string(rec.Signature) {
		t.Fatal("signature mismatch")
	}

	units, err := store.RemainingUnits(ctx, "sub-1")
	if err != nil {
		t.Fatalf("remaining units: %v", err)
	}
	if units != 100 {
		t.Fatalf("units = %d, want 100", units)
	}
}

func TestMintIsIdempotentOnSettlementRef(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	first := testRecord()
	if _, created, err := store.Mint(ctx, first, 100, time.Hour); err != nil || !created {
		t.Fatalf("first mint: created=%v err=%v", created, err)
	}

	second := testRecord()
	second.SubscriptionID = "sub-2"
	id, created, err := store.Mint(ctx, second, 100, time.Hour)
	if err != nil {
		t.Fatalf("second mint: %v", err)
	}
	if created {
		t.Fatal("second confirmation of the same settlement must not mint")
	}
	if id != "sub-1" {
		t.Fatalf("expected existing id sub-1, got %q", id)
	}

	if _, err := store.Get(ctx, "sub-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("sub-2 must not exist, got err=%v", err)
	}
}

func TestGetMissing(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()

	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConsumeUnitSequential(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, _, err := store.Mint(ctx, testRecord(), 3, time.Hour); err != nil {
		t.Fatalf("mint: %v", err)
	}

	for want := int64(2); want >= 0; want-- {
		got, err := store.ConsumeUnit(ctx, "sub-1")
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if got != want {
			t.Fatalf("balance = %d, want %d", got, want)
		}
	}

	if _, err := store.ConsumeUnit(ctx, "sub-1"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestConsumeUnitMissing(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()

	if _, err := store.ConsumeUnit(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConsumeUnitNeverOverAdmits(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	const budget = 5
	const callers = 32

	if _, _, err := store.Mint(ctx, testRecord(), budget, time.Hour); err != nil {
		t.Fatalf("mint: %v", err)
	}

	var admitted, rejected atomic.Int64
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := store.ConsumeUnit(ctx, "sub-1")
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ErrExhausted):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if admitted.Load() != budget {
		t.Fatalf("admitted = %d, want %d", admitted.Load(), budget)
	}
	if rejected.Load() != callers-budget {
		t.Fatalf("rejected = %d, want %d", rejected.Load(), callers-budget)
	}

	units, err := store.RemainingUnits(ctx, "sub-1")
	if err != nil {
		t.Fatalf("remaining units: %v", err)
	}
	if units != 0 {
		t.Fatalf("balance = %d, must be exactly zero", units)
	}
}

func TestRecordExpiresWithTTL(t *testing.T) {
	store, mr, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, _, err := store.Mint(ctx, testRecord(), 10, time.Minute); err != nil {
		t.Fatalf("mint: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, "sub-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after TTL, got %v", err)
	}
	if _, err := store.ConsumeUnit(ctx, "sub-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for units after TTL, got %v", err)
	}
}

func TestOutcomeRoundTrip(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	if _, err := store.GetOutcome(ctx, "ref-1"); !errors.Is(err, ErrOutcomeNotFound) {
		t.Fatalf("expected ErrOutcomeNotFound, got %v", err)
	}

	out := &Outcome{Status: OutcomeMinted, SubscriptionID: "sub-1"}
	if err := store.SaveOutcome(ctx, "ref-1", out, time.Hour); err != nil {
		t.Fatalf("save outcome: %v", err)
	}

	got, err := store.GetOutcome(ctx, "ref-1")
	if err != nil {
		t.Fatalf("get outcome: %v", err)
	}
	if got.Status != OutcomeMinted || got.SubscriptionID != "sub-1" {
		t.Fatalf("outcome mismatch: %+v", got)
	}

	failed := &Outcome{Status: OutcomeFailed, Reason: "settlement rejected"}
	if err := store.SaveOutcome(ctx, "ref-2", failed, time.Hour); err != nil {
		t.Fatalf("save failed outcome: %v", err)
	}
	got, err = store.GetOutcome(ctx, "ref-2")
	if err != nil {
		t.Fatalf("get failed outcome: %v", err)
	}
	if got.Status != OutcomeFailed || got.Reason != "settlement rejected" {
		t.Fatalf("outcome mismatch: %+v", got)
	}
}

func TestDecodeRejectsCorruptRecord(t *testing.T) {
	if _, err := decodeRecord([]byte{}); err == nil {
		t.Fatal("expected error for empty record")
	}
	if _, err := decodeRecord([]byte{99, 0, 0}); err == nil {
		t.Fatal("expected error for unknown version")
	}

	valid, err := encodeRecord(testRecord())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decodeRecord(valid[:len(valid)-1]); err == nil {
		t.Fatal("expected error for truncated record")
	}
	if _, err := decodeRecord(append(valid, 0)); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}
