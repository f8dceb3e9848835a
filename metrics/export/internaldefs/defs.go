package internaldefs

import (
	apicharge "github.com/StreamCharge/ApiCharge"
)

// CounterDef defines a public type used by apicharge APIs.
//
// CounterDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type CounterDef struct {
	ID   apicharge.MetricID
	Name string
	Help string
}

// HistogramDef defines a public type used by apicharge APIs.
//
// HistogramDef instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type HistogramDef struct {
	ID   apicharge.MetricID
	Name string
	Help string
}

// CounterDefs is an exported constant or variable used by the subscription engine.
var CounterDefs = []CounterDef{
	{ID: apicharge.MetricQuoteIssued, Name: "apicharge_quote_issued_total", Help: "Signed quote sets issued."},
	{ID: apicharge.MetricInstructionIssued, Name: "apicharge_instruction_issued_total", Help: "Purchase instructions issued."},
	{ID: apicharge.MetricInstructionRejected, Name: "apicharge_instruction_rejected_total", Help: "Purchase instruction requests rejected."},
	{ID: apicharge.MetricPurchaseSuccess, Name: "apicharge_purchase_success_total", Help: "Purchases settled and minted."},
	{ID: apicharge.MetricPurchaseFailure, Name: "apicharge_purchase_failure_total", Help: "Failed purchase attempts."},
	{ID: apicharge.MetricPurchaseDuplicate, Name: "apicharge_purchase_duplicate_total", Help: "Duplicate settlement confirmations answered with the existing grant."},
	{ID: apicharge.MetricSettlementRetry, Name: "apicharge_settlement_retry_total", Help: "Transient settlement submissions retried."},
	{ID: apicharge.MetricSettlementFailure, Name: "apicharge_settlement_failure_total", Help: "Purchases abandoned after settlement failure."},
	{ID: apicharge.MetricNonceReplayDetected, Name: "apicharge_nonce_replay_detected_total", Help: "Detected purchase nonce replays."},
	{ID: apicharge.MetricAuthorizeAllow, Name: "apicharge_authorize_allow_total", Help: "Admitted authorize calls."},
	{ID: apicharge.MetricAuthorizeDeny, Name: "apicharge_authorize_deny_total", Help: "Denied authorize calls."},
	{ID: apicharge.MetricTokenReplayDetected, Name: "apicharge_token_replay_detected_total", Help: "Detected single-use token replays."},
	{ID: apicharge.MetricQuotaExceeded, Name: "apicharge_quota_exceeded_total", Help: "Authorize denials from exhausted unit budgets."},
	{ID: apicharge.MetricRateLimitHit, Name: "apicharge_rate_limit_hit_total", Help: "Authorize denials from per-second rate limits."},
	{ID: apicharge.MetricDirectPaymentSuccess, Name: "apicharge_direct_payment_success_total", Help: "Direct payments settled and admitted."},
	{ID: apicharge.MetricDirectPaymentFailure, Name: "apicharge_direct_payment_failure_total", Help: "Rejected or failed direct payments."},
	{ID: apicharge.MetricReceiptReplayDetected, Name: "apicharge_payment_replay_detected_total", Help: "Detected direct payment replays."},
	{ID: apicharge.MetricStoreUnavailable, Name: "apicharge_store_unavailable_total", Help: "Operations denied because the store was unreachable."},
}

// HistogramDefs is an exported constant or variable used by the subscription engine.
var HistogramDefs = []HistogramDef{
	{ID: apicharge.MetricAuthorizeLatency, Name: "apicharge_authorize_latency_seconds", Help: "Authorize latency histogram."},
}

// HistogramBounds is an exported constant or variable used by the subscription engine.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is an exported constant or variable used by the subscription engine.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets describes the normalizebuckets operation and its observable behavior.
//
// NormalizeBuckets may return an error when input validation, dependency calls, or security checks fail.
// NormalizeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets describes the cumulativebuckets operation and its observable behavior.
//
// CumulativeBuckets may return an error when input validation, dependency calls, or security checks fail.
// CumulativeBuckets does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
