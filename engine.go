package apicharge

import (
	"time"

	"github.com/StreamCharge/ApiCharge/qos"
	"github.com/StreamCharge/ApiCharge/settlement"
	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/subscription"
)

// Engine defines a public type used by apicharge APIs.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config        Config
	signer        *signer.Signer
	routes        map[string]RouteConfig
	subscriptions *subscription.Store
	nonces        *nonceStore
	replay        *replayGuard
	qos           *qos.Selector
	settlement    settlement.Client
	receipts      *receiptManager
	audit         *auditDispatcher
	metrics       *Metrics
	now           func() time.Time
}

// Close describes the close operation and its observable behavior.
//
// Close may return an error when input validation, dependency calls, or security checks fail.
// Close does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped describes the auditdropped operation and its observable behavior.
//
// AuditDropped may return an error when input validation, dependency calls, or security checks fail.
// AuditDropped does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot describes the metricssnapshot operation and its observable behavior.
//
// MetricsSnapshot may return an error when input validation, dependency calls, or security checks fail.
// MetricsSnapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// PublicKey returns the service verification key in raw bytes for clients
// that pin it out of band.
func (e *Engine) PublicKey() []byte {
	if e == nil || e.signer == nil {
		return nil
	}
	return e.signer.PublicKey()
}

// Route returns the catalogue entry for a route id, if it exists.
func (e *Engine) Route(routeID string) (RouteConfig, bool) {
	r, ok := e.routes[routeID]
	return r, ok
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) metricObserve(id MetricID, d time.Duration) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(id, d)
}
