package apicharge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"

	"github.com/google/uuid"

	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/wire"
)

// BuildInstruction turns a submitted quote into a purchase instruction. The
// instruction binds a fresh single-use nonce and settlement reference to the
// client key, and carries in AuthorisationToSign the exact bytes the client
// must sign to complete the purchase.
//
// BuildInstruction may return an error when input validation, dependency calls, or security checks fail.
// BuildInstruction does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) BuildInstruction(ctx context.Context, req *wire.PurchaseRequest) (*wire.PurchaseInstruction, error) {
	if e == nil || e.nonces == nil {
		return nil, ErrEngineNotReady
	}
	if req == nil {
		return nil, ErrQuoteUnknown
	}

	now := e.now()

	rq, err := e.validateRouteQuote(&req.RouteQuote, now)
	if err != nil {
		e.metricInc(MetricInstructionRejected)
		e.emitAudit(ctx, auditEventInstructionRejected, false, "", "", "", err, nil)
		return nil, err
	}

	clientKey, err := signer.DecodePublicKey(req.ClientPublicKey)
	if err != nil {
		e.metricInc(MetricInstructionRejected)
		e.emitAudit(ctx, auditEventInstructionRejected, false, "", rq.RouteID, "", ErrInvalidSignature, nil)
		return nil, ErrInvalidSignature
	}

	inst := &wire.PurchaseInstruction{
		ClientPublicKey:          req.ClientPublicKey,
		RouteQuote:               req.RouteQuote,
		SettlementInstructionRef: uuid.NewString(),
		Nonce:                    uuid.NewString(),
	}

	authBytes, err := inst.AuthorizationBytes()
	if err != nil {
		return nil, err
	}
	inst.AuthorisationToSign = base64.StdEncoding.EncodeToString(authBytes)

	record := &nonceRecord{
		ClientKeyHash: sha256.Sum256(clientKey),
		SettlementRef: inst.SettlementInstructionRef,
		RouteID:       rq.RouteID,
		ExpiresAt:     now.Add(e.config.Nonce.TTL).Unix(),
		State:         nonceStatePending,
	}
	if err := e.nonces.Save(ctx, inst.Nonce, record, e.config.Nonce.TTL); err != nil {
		return nil, ErrStoreUnavailable
	}

	e.metricInc(MetricInstructionIssued)
	e.emitAudit(ctx, auditEventInstructionIssued, true, "", rq.RouteID, inst.SettlementInstructionRef, nil, nil)

	return inst, nil
}
