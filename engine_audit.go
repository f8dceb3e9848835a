package apicharge

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventQuoteIssued          = "quote_issued"
	auditEventInstructionIssued    = "instruction_issued"
	auditEventInstructionRejected  = "instruction_rejected"
	auditEventPurchaseSuccess      = "purchase_success"
	auditEventPurchaseFailure      = "purchase_failure"
	auditEventPurchaseDuplicate    = "purchase_duplicate"
	auditEventSettlementRetry      = "settlement_retry"
	auditEventNonceReplayDetected  = "nonce_replay_detected"
	auditEventAuthorizeAllow       = "authorize_allow"
	auditEventAuthorizeDeny        = "authorize_deny"
	auditEventTokenReplayDetected  = "token_replay_detected"
	auditEventDirectPaymentSuccess = "direct_payment_success"
	auditEventDirectPaymentFailure = "direct_payment_failure"
	auditEventReceiptReplayed      = "receipt_replay_detected"
)

// AuditErrorCode defines a public type used by apicharge APIs.
//
// AuditErrorCode instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditErrorCode string

const (
	auditErrQuoteExpired        AuditErrorCode = "quote_expired"
	auditErrQuoteUnknown        AuditErrorCode = "quote_unknown"
	auditErrNonceExpired        AuditErrorCode = "nonce_expired"
	auditErrNonceReplayed       AuditErrorCode = "nonce_replayed"
	auditErrInvalidSignature    AuditErrorCode = "invalid_signature"
	auditErrSettlementFailed    AuditErrorCode = "settlement_failed"
	auditErrInvalidToken        AuditErrorCode = "invalid_token"
	auditErrTokenExpired        AuditErrorCode = "token_expired"
	auditErrSubscriptionExpired AuditErrorCode = "subscription_expired"
	auditErrRouteMismatch       AuditErrorCode = "route_mismatch"
	auditErrQuotaExceeded       AuditErrorCode = "quota_exceeded"
	auditErrRateLimited         AuditErrorCode = "rate_limited"
	auditErrUnavailable         AuditErrorCode = "backend_unavailable"
	auditErrInternal            AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	subscriptionID string,
	routeID string,
	settlementRef string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      eventType,
		SubscriptionID: subscriptionID,
		RouteID:        routeID,
		SettlementRef:  settlementRef,
		IP:             clientIPFromContext(ctx),
		Success:        success,
		Metadata:       metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrQuoteExpired):
		return auditErrQuoteExpired
	case errors.Is(err, ErrQuoteUnknown):
		return auditErrQuoteUnknown
	case errors.Is(err, ErrNonceExpired):
		return auditErrNonceExpired
	case errors.Is(err, ErrNonceReplayed):
		return auditErrNonceReplayed
	case errors.Is(err, ErrInvalidSignature):
		return auditErrInvalidSignature
	case errors.Is(err, ErrSettlementFailed):
		return auditErrSettlementFailed
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrSubscriptionExpired):
		return auditErrSubscriptionExpired
	case errors.Is(err, ErrRouteMismatch):
		return auditErrRouteMismatch
	case errors.Is(err, ErrQuotaExceeded):
		return auditErrQuotaExceeded
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
