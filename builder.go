package apicharge

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/StreamCharge/ApiCharge/qos"
	"github.com/StreamCharge/ApiCharge/settlement"
	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/subscription"
)

// Builder defines a public type used by apicharge APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  *redis.Client

	settlementClient settlement.Client
	auditSink        AuditSink

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis describes the withredis operation and its observable behavior.
//
// WithRedis may return an error when input validation, dependency calls, or security checks fail.
// WithRedis does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithSettlementClient describes the withsettlementclient operation and its observable behavior.
//
// WithSettlementClient may return an error when input validation, dependency calls, or security checks fail.
// WithSettlementClient does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithSettlementClient(client settlement.Client) *Builder {
	b.settlementClient = client
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.settlementClient == nil {
		return nil, errors.New("settlement client required")
	}

	sgn, err := signer.New(cfg.Signer.PrivateKey)
	if err != nil {
		return nil, err
	}

	routes := make(map[string]RouteConfig, len(cfg.Routes))
	for _, r := range cfg.Routes {
		routes[r.RouteID] = r
	}

	store := subscription.NewStore(b.redis)

	engine := &Engine{
		config:        cfg,
		signer:        sgn,
		routes:        routes,
		subscriptions: store,
		nonces:        newNonceStore(b.redis),
		replay:        newReplayGuard(b.redis),
		qos:           qos.NewSelector(store, qos.NewLimiter(b.redis)),
		settlement:    b.settlementClient,
		audit:         newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:       NewMetrics(cfg.Metrics),
		now:           time.Now,
	}

	if cfg.DirectPayment.Enabled {
		rm, err := newReceiptManager(cfg.Signer.PrivateKey, cfg.DirectPayment.ReceiptTTL)
		if err != nil {
			return nil, err
		}
		engine.receipts = rm
	}

	b.built = true

	return engine, nil
}
