package apicharge

import "errors"

var (
	// ErrQuoteExpired is an exported constant or variable used by the subscription engine.
	ErrQuoteExpired = errors.New("quote expired")
	// ErrQuoteUnknown is an exported constant or variable used by the subscription engine.
	ErrQuoteUnknown = errors.New("quote unknown")
	// ErrNonceExpired is an exported constant or variable used by the subscription engine.
	ErrNonceExpired = errors.New("nonce expired")
	// ErrNonceReplayed is an exported constant or variable used by the subscription engine.
	ErrNonceReplayed = errors.New("nonce replayed")
	// ErrInvalidSignature is an exported constant or variable used by the subscription engine.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrSettlementFailed is an exported constant or variable used by the subscription engine.
	ErrSettlementFailed = errors.New("settlement failed")
	// ErrInvalidToken is an exported constant or variable used by the subscription engine.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrTokenExpired is an exported constant or variable used by the subscription engine.
	ErrTokenExpired = errors.New("access token expired")
	// ErrSubscriptionExpired is an exported constant or variable used by the subscription engine.
	ErrSubscriptionExpired = errors.New("subscription expired")
	// ErrRouteMismatch is an exported constant or variable used by the subscription engine.
	ErrRouteMismatch = errors.New("route mismatch")
	// ErrQuotaExceeded is an exported constant or variable used by the subscription engine.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrRateLimited is an exported constant or variable used by the subscription engine.
	ErrRateLimited = errors.New("rate limited")
	// ErrOutcomeUnknown is an exported constant or variable used by the subscription engine.
	ErrOutcomeUnknown = errors.New("purchase outcome unknown")
	// ErrDirectPaymentDisabled is an exported constant or variable used by the subscription engine.
	ErrDirectPaymentDisabled = errors.New("direct payment disabled")
	// ErrStoreUnavailable is an exported constant or variable used by the subscription engine.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineNotReady is an exported constant or variable used by the subscription engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ReasonCode maps an engine error to the stable machine-readable code the
// HTTP boundary returns. Unknown errors map to "internal_error" so dependency
// failures never leak detail to clients.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrQuoteExpired):
		return "quote_expired"
	case errors.Is(err, ErrQuoteUnknown):
		return "quote_unknown"
	case errors.Is(err, ErrNonceExpired):
		return "nonce_expired"
	case errors.Is(err, ErrNonceReplayed):
		return "nonce_replayed"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrSettlementFailed):
		return "settlement_failed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrSubscriptionExpired):
		return "subscription_expired"
	case errors.Is(err, ErrRouteMismatch):
		return "route_mismatch"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrOutcomeUnknown):
		return "outcome_unknown"
	case errors.Is(err, ErrDirectPaymentDisabled):
		return "direct_payment_disabled"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrEngineNotReady):
		return "engine_not_ready"
	default:
		return "internal_error"
	}
}
