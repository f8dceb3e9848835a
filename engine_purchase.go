package apicharge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/StreamCharge/ApiCharge/settlement"
	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/subscription"
	"github.com/StreamCharge/ApiCharge/wire"
)

// Purchase verifies a signed purchase instruction, settles it on the payment
// rail, and mints the subscription. The nonce is consumed before settlement
// starts, so a replayed instruction fails regardless of how the first
// attempt resolved. Minting is idempotent on the settlement transaction
// reference; a duplicate confirmation returns the already granted
// subscription instead of a second one.
//
// Purchase may return an error when input validation, dependency calls, or security checks fail.
// Purchase does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Purchase(ctx context.Context, inst *wire.PurchaseInstruction) (*wire.SignedSubscription, error) {
	if e == nil || e.subscriptions == nil {
		return nil, ErrEngineNotReady
	}
	if inst == nil {
		return nil, ErrInvalidSignature
	}

	now := e.now()

	clientKey, err := signer.DecodePublicKey(inst.ClientPublicKey)
	if err != nil {
		return nil, e.purchaseReject(ctx, inst, ErrInvalidSignature)
	}

	sig, err := wire.DecodeSignature(inst.AuthorisationToSign)
	if err != nil {
		return nil, e.purchaseReject(ctx, inst, ErrInvalidSignature)
	}
	authBytes, err := inst.AuthorizationBytes()
	if err != nil {
		return nil, e.purchaseReject(ctx, inst, ErrInvalidSignature)
	}
	if err := signer.Verify(clientKey, authBytes, sig); err != nil {
		return nil, e.purchaseReject(ctx, inst, ErrInvalidSignature)
	}

	rq, err := e.validateRouteQuote(&inst.RouteQuote, now)
	if err != nil {
		return nil, e.purchaseReject(ctx, inst, err)
	}

	nonceRec, err := e.nonces.Consume(ctx, inst.Nonce, sha256.Sum256(clientKey))
	if err != nil {
		switch {
		case errors.Is(err, errNonceNotFound):
			return nil, e.purchaseReject(ctx, inst, ErrNonceExpired)
		case errors.Is(err, errNonceConsumed):
			e.metricInc(MetricNonceReplayDetected)
			e.emitAudit(ctx, auditEventNonceReplayDetected, false, "", rq.RouteID, inst.SettlementInstructionRef, ErrNonceReplayed, nil)
			return nil, e.purchaseReject(ctx, inst, ErrNonceReplayed)
		case errors.Is(err, errNonceBindingMismatch):
			return nil, e.purchaseReject(ctx, inst, ErrInvalidSignature)
		default:
			return nil, ErrStoreUnavailable
		}
	}

	// The instruction must be the one the nonce was issued for.
	if nonceRec.SettlementRef != inst.SettlementInstructionRef || nonceRec.RouteID != rq.RouteID {
		e.settleNonce(ctx, inst.Nonce, nonceRec)
		return nil, e.purchaseReject(ctx, inst, ErrInvalidSignature)
	}

	e.saveOutcome(ctx, inst.SettlementInstructionRef, &subscription.Outcome{
		Status: subscription.OutcomePending,
	})

	var receipt *settlement.Receipt
	err = settlement.Retry(ctx, e.config.Settlement.Backoff, func(ctx context.Context) error {
		r, submitErr := e.settlement.Submit(ctx, inst.AuthorisationToSign)
		if submitErr != nil {
			if errors.Is(submitErr, settlement.ErrUnavailable) {
				e.metricInc(MetricSettlementRetry)
				e.emitAudit(ctx, auditEventSettlementRetry, false, "", rq.RouteID, inst.SettlementInstructionRef, nil, nil)
			}
			return submitErr
		}
		receipt = r
		return nil
	})
	if err != nil {
		e.settleNonce(ctx, inst.Nonce, nonceRec)
		e.saveOutcome(ctx, inst.SettlementInstructionRef, &subscription.Outcome{
			Status: subscription.OutcomeFailed,
			Reason: ReasonCode(ErrSettlementFailed),
		})
		e.metricInc(MetricSettlementFailure)
		e.metricInc(MetricPurchaseFailure)
		e.emitAudit(ctx, auditEventPurchaseFailure, false, "", rq.RouteID, inst.SettlementInstructionRef, ErrSettlementFailed, nil)
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	grantedAt := e.now()
	sub := wire.Subscription{
		SubscriptionID:  uuid.NewString(),
		RouteID:         rq.RouteID,
		OwnerPublicKey:  inst.ClientPublicKey,
		QoSParameters:   rq.QoSParameters,
		GrantedAt:       grantedAt.Unix(),
		ExpiresAt:       grantedAt.Unix() + rq.DurationWindowSeconds,
		RemainingUnits:  rq.QoSParameters.MaxCalls,
		SettlementTxRef: receipt.TxRef,
	}

	subBytes, err := sub.SigningBytes()
	if err != nil {
		return nil, err
	}
	subSig := e.signer.Sign(subBytes)

	record := &subscription.Record{
		SubscriptionID:  sub.SubscriptionID,
		RouteID:         sub.RouteID,
		OwnerPublicKey:  clientKey,
		QoSKind:         sub.QoSParameters.Kind,
		RateLimit:       sub.QoSParameters.RateLimitPerSecond,
		MaxCalls:        sub.QoSParameters.MaxCalls,
		PriorityClass:   sub.QoSParameters.PriorityClass,
		GrantedAt:       sub.GrantedAt,
		ExpiresAt:       sub.ExpiresAt,
		SettlementTxRef: sub.SettlementTxRef,
		Signature:       subSig,
	}

	ttl := time.Duration(sub.ExpiresAt-grantedAt.Unix()) * time.Second
	mintedID, created, err := e.subscriptions.Mint(ctx, record, sub.RemainingUnits, ttl)
	if err != nil {
		return nil, ErrStoreUnavailable
	}

	if !created {
		signed, dupErr := e.loadSignedSubscription(ctx, mintedID)
		if dupErr != nil {
			return nil, dupErr
		}
		e.settleNonce(ctx, inst.Nonce, nonceRec)
		e.saveOutcome(ctx, inst.SettlementInstructionRef, &subscription.Outcome{
			Status:         subscription.OutcomeMinted,
			SubscriptionID: mintedID,
		})
		e.metricInc(MetricPurchaseDuplicate)
		e.emitAudit(ctx, auditEventPurchaseDuplicate, true, mintedID, rq.RouteID, inst.SettlementInstructionRef, nil, nil)
		return signed, nil
	}

	e.settleNonce(ctx, inst.Nonce, nonceRec)
	e.saveOutcome(ctx, inst.SettlementInstructionRef, &subscription.Outcome{
		Status:         subscription.OutcomeMinted,
		SubscriptionID: sub.SubscriptionID,
	})

	e.metricInc(MetricPurchaseSuccess)
	e.emitAudit(ctx, auditEventPurchaseSuccess, true, sub.SubscriptionID, sub.RouteID, inst.SettlementInstructionRef, nil, func() map[string]string {
		return map[string]string{
			"settlementTxRef": receipt.TxRef,
		}
	})

	return &wire.SignedSubscription{
		SignableEntity: sub,
		Signature:      wire.EncodeSignature(subSig),
	}, nil
}

// PurchaseStatus reports the converged outcome of a purchase by its
// settlement instruction reference.
//
// PurchaseStatus may return an error when input validation, dependency calls, or security checks fail.
// PurchaseStatus does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) PurchaseStatus(ctx context.Context, settlementRef string) (*PurchaseOutcome, error) {
	if e == nil || e.subscriptions == nil {
		return nil, ErrEngineNotReady
	}

	outcome, err := e.subscriptions.GetOutcome(ctx, settlementRef)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrOutcomeNotFound):
			return nil, ErrOutcomeUnknown
		case errors.Is(err, subscription.ErrRedisUnavailable):
			return nil, ErrStoreUnavailable
		default:
			return nil, err
		}
	}

	result := &PurchaseOutcome{SubscriptionID: outcome.SubscriptionID, Reason: outcome.Reason}
	switch outcome.Status {
	case subscription.OutcomeMinted:
		result.Status = OutcomeSuccess
	case subscription.OutcomeFailed:
		result.Status = OutcomeFailed
	default:
		result.Status = OutcomePending
	}
	return result, nil
}

func (e *Engine) purchaseReject(ctx context.Context, inst *wire.PurchaseInstruction, err error) error {
	routeID := ""
	settlementRef := ""
	if inst != nil {
		settlementRef = inst.SettlementInstructionRef
		if rq, entityErr := inst.RouteQuote.Entity(); entityErr == nil {
			routeID = rq.RouteID
		}
	}
	e.metricInc(MetricPurchaseFailure)
	e.emitAudit(ctx, auditEventPurchaseFailure, false, "", routeID, settlementRef, err, nil)
	return err
}

// settleNonce marks the nonce spent on a best-effort basis. A failure here
// only widens the replay error to an expiry error after the TTL lapses.
func (e *Engine) settleNonce(ctx context.Context, nonce string, rec *nonceRecord) {
	_ = e.nonces.Settle(ctx, nonce, rec)
}

func (e *Engine) saveOutcome(ctx context.Context, settlementRef string, outcome *subscription.Outcome) {
	_ = e.subscriptions.SaveOutcome(ctx, settlementRef, outcome, e.config.Settlement.OutcomeTTL)
}

// loadSignedSubscription rebuilds the signed envelope for an already minted
// subscription from its stored record.
func (e *Engine) loadSignedSubscription(ctx context.Context, subscriptionID string) (*wire.SignedSubscription, error) {
	rec, err := e.subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil, ErrSubscriptionExpired
		}
		return nil, ErrStoreUnavailable
	}
	remaining, err := e.subscriptions.RemainingUnits(ctx, subscriptionID)
	if err != nil && !errors.Is(err, subscription.ErrNotFound) {
		return nil, ErrStoreUnavailable
	}

	return &wire.SignedSubscription{
		SignableEntity: wire.Subscription{
			SubscriptionID:  rec.SubscriptionID,
			RouteID:         rec.RouteID,
			OwnerPublicKey:  base64.StdEncoding.EncodeToString(rec.OwnerPublicKey),
			QoSParameters:   rec.QoSParameters(),
			GrantedAt:       rec.GrantedAt,
			ExpiresAt:       rec.ExpiresAt,
			RemainingUnits:  remaining,
			SettlementTxRef: rec.SettlementTxRef,
		},
		Signature: wire.EncodeSignature(rec.Signature),
	}, nil
}
