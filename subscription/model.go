package subscription

import (
	"github.com/StreamCharge/ApiCharge/wire"
)

// Record is the stored form of a granted subscription. The remaining-unit
// budget is not part of the record; it lives in its own counter key so the
// hot path never rewrites the blob.
type Record struct {
	SubscriptionID  string
	RouteID         string
	OwnerPublicKey  []byte
	QoSKind         string
	RateLimit       int64
	MaxCalls        int64
	PriorityClass   string
	GrantedAt       int64
	ExpiresAt       int64
	SettlementTxRef string
	Signature       []byte
}

// QoSParameters rebuilds the wire form of the record's enforcement contract.
func (r *Record) QoSParameters() wire.QoSParameters {
	return wire.QoSParameters{
		Kind:               r.QoSKind,
		RateLimitPerSecond: r.RateLimit,
		MaxCalls:           r.MaxCalls,
		PriorityClass:      r.PriorityClass,
	}
}

// Settlement outcome states recorded for purchase status queries.
const (
	OutcomePending byte = 0
	OutcomeMinted  byte = 1
	OutcomeFailed  byte = 2
)

// Outcome is the converged result of a purchase keyed by its settlement
// reference. Abandoned purchases still resolve to exactly one outcome.
type Outcome struct {
	Status         byte
	SubscriptionID string
	Reason         string
}
