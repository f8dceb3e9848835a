package apicharge

import (
	"context"
	"errors"
	"time"

	"github.com/StreamCharge/ApiCharge/qos"
	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/subscription"
	"github.com/StreamCharge/ApiCharge/wire"
)

// Authorize is the hot-path admission check. It validates the token
// signature against the subscription owner's key, applies the configured
// token-use variant, checks subscription liveness and route binding, and
// consumes capacity through the QoS strategy. Any backend failure denies;
// admission is never granted on a guess.
//
// Authorize may return an error when input validation, dependency calls, or security checks fail.
// Authorize does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Authorize(ctx context.Context, token *wire.AccessToken, routeID string) (*Decision, error) {
	if e == nil || e.subscriptions == nil {
		return nil, ErrEngineNotReady
	}

	start := time.Now()
	defer func() {
		e.metricObserve(MetricAuthorizeLatency, time.Since(start))
	}()

	if token == nil || token.SignableEntity.SubscriptionID == "" {
		return nil, e.deny(ctx, "", routeID, ErrInvalidToken)
	}

	subID := token.SignableEntity.SubscriptionID

	rec, err := e.subscriptions.Get(ctx, subID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return nil, e.deny(ctx, subID, routeID, ErrSubscriptionExpired)
		}
		e.metricInc(MetricStoreUnavailable)
		return nil, e.deny(ctx, subID, routeID, ErrStoreUnavailable)
	}

	sig, err := wire.DecodeSignature(token.Signature)
	if err != nil {
		return nil, e.deny(ctx, subID, routeID, ErrInvalidToken)
	}
	payload, err := token.SignableEntity.SigningBytes()
	if err != nil {
		return nil, e.deny(ctx, subID, routeID, ErrInvalidToken)
	}
	if err := signer.Verify(rec.OwnerPublicKey, payload, sig); err != nil {
		return nil, e.deny(ctx, subID, routeID, ErrInvalidToken)
	}

	now := e.now()
	tokenTTL := time.Duration(token.SignableEntity.RequestedTTL) * time.Second
	if tokenTTL <= 0 || tokenTTL > e.config.Token.MaxTTL {
		tokenTTL = e.config.Token.MaxTTL
	}

	if e.config.Token.SingleUse {
		if err := e.replay.Admit(ctx, admissionKeyForSignature(sig), tokenTTL); err != nil {
			if errors.Is(err, errReplayDetected) {
				e.metricInc(MetricTokenReplayDetected)
				e.emitAudit(ctx, auditEventTokenReplayDetected, false, subID, routeID, "", ErrInvalidToken, nil)
				return nil, e.deny(ctx, subID, routeID, ErrInvalidToken)
			}
			e.metricInc(MetricStoreUnavailable)
			return nil, e.deny(ctx, subID, routeID, ErrStoreUnavailable)
		}
	} else {
		// Expiry boundary is exclusive: a token is dead at the instant
		// issuedAt+ttl, not one second after.
		if now.Unix() >= token.SignableEntity.IssuedAt+int64(tokenTTL/time.Second) {
			return nil, e.deny(ctx, subID, routeID, ErrTokenExpired)
		}
	}

	if now.Unix() >= rec.ExpiresAt {
		return nil, e.deny(ctx, subID, routeID, ErrSubscriptionExpired)
	}

	if rec.RouteID != routeID {
		return nil, e.deny(ctx, subID, routeID, ErrRouteMismatch)
	}

	remaining, err := e.qos.CheckAndConsume(ctx, rec)
	if err != nil {
		switch {
		case errors.Is(err, qos.ErrQuotaExceeded):
			e.metricInc(MetricQuotaExceeded)
			return nil, e.deny(ctx, subID, routeID, ErrQuotaExceeded)
		case errors.Is(err, qos.ErrRateLimited):
			e.metricInc(MetricRateLimitHit)
			return nil, e.deny(ctx, subID, routeID, ErrRateLimited)
		case errors.Is(err, subscription.ErrNotFound):
			// The unit budget expires with the record; a missing budget with
			// a live record means the subscription lapsed between reads.
			return nil, e.deny(ctx, subID, routeID, ErrSubscriptionExpired)
		default:
			e.metricInc(MetricStoreUnavailable)
			return nil, e.deny(ctx, subID, routeID, ErrStoreUnavailable)
		}
	}

	e.metricInc(MetricAuthorizeAllow)
	e.emitAudit(ctx, auditEventAuthorizeAllow, true, subID, routeID, "", nil, nil)

	return &Decision{
		SubscriptionID: subID,
		RouteID:        routeID,
		RemainingUnits: remaining,
		PriorityClass:  rec.PriorityClass,
	}, nil
}

func (e *Engine) deny(ctx context.Context, subscriptionID, routeID string, err error) error {
	e.metricInc(MetricAuthorizeDeny)
	e.emitAudit(ctx, auditEventAuthorizeDeny, false, subscriptionID, routeID, "", err, nil)
	return err
}
