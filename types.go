package apicharge

import (
	"time"

	"github.com/StreamCharge/ApiCharge/wire"
)

// RouteConfig is one entry of the immutable route catalogue the engine
// quotes from. Pricing is in micro-units (millionths of the settlement
// currency unit).
type RouteConfig struct {
	RouteID        string
	MicroUnitPrice int64
	DurationWindow time.Duration
	QoS            wire.QoSParameters
}

// Decision is returned by [Engine.Authorize] and [Engine.AuthorizeDirect].
// It contains the admitting subscription, the budget left after this
// admission (-1 when the QoS contract has no finite budget), and, for the
// direct-payment flow, the single-use receipt the client presents next time.
type Decision struct {
	SubscriptionID string
	RouteID        string
	RemainingUnits int64
	PriorityClass  string
	Receipt        string
}

// PurchaseOutcome is the converged result of a purchase, queryable by the
// settlement instruction reference after the client abandoned the request.
type PurchaseOutcome struct {
	Status         string
	SubscriptionID string
	Reason         string
}

// Purchase outcome states.
const (
	// OutcomePending is an exported constant or variable used by the subscription engine.
	OutcomePending = "pending"
	// OutcomeSuccess is an exported constant or variable used by the subscription engine.
	OutcomeSuccess = "success"
	// OutcomeFailed is an exported constant or variable used by the subscription engine.
	OutcomeFailed = "failed"
)
