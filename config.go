package apicharge

import (
	"errors"
	"time"

	"github.com/StreamCharge/ApiCharge/settlement"
	"github.com/StreamCharge/ApiCharge/wire"
)

// Config defines a public type used by apicharge APIs.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Signer        SignerConfig
	Quote         QuoteConfig
	Nonce         NonceConfig
	Settlement    SettlementConfig
	Token         TokenConfig
	DirectPayment DirectPaymentConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Routes        []RouteConfig
}

/*
====================================
SIGNER CONFIG
====================================
*/

// SignerConfig defines a public type used by apicharge APIs.
//
// SignerConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SignerConfig struct {
	// PrivateKey is the service Ed25519 key, raw 32/64 bytes or PEM.
	PrivateKey []byte
}

/*
====================================
QUOTE CONFIG
====================================
*/

// QuoteConfig defines a public type used by apicharge APIs.
//
// QuoteConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type QuoteConfig struct {
	// ValidityWindow is how long an issued quote stays purchasable.
	ValidityWindow time.Duration
}

/*
====================================
NONCE CONFIG
====================================
*/

// NonceConfig defines a public type used by apicharge APIs.
//
// NonceConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NonceConfig struct {
	// TTL bounds the life of a purchase authorization nonce. Short by
	// protocol design; a nonce outliving its quote is useless.
	TTL time.Duration
}

/*
====================================
SETTLEMENT CONFIG
====================================
*/

// SettlementConfig defines a public type used by apicharge APIs.
//
// SettlementConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type SettlementConfig struct {
	Backoff settlement.Backoff
	// OutcomeTTL is how long converged purchase outcomes stay queryable.
	OutcomeTTL time.Duration
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig defines a public type used by apicharge APIs.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	// SingleUse switches the protocol variant: true admits each token
	// signature exactly once through the replay guard; false treats tokens
	// as duration-bound and enforces issuedAt+requestedTtl with an
	// exclusive boundary.
	SingleUse bool
	// MaxTTL caps the client-chosen requestedTtl.
	MaxTTL time.Duration
}

/*
====================================
DIRECT PAYMENT CONFIG
====================================
*/

// DirectPaymentConfig defines a public type used by apicharge APIs.
//
// DirectPaymentConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type DirectPaymentConfig struct {
	Enabled bool
	// ReceiptTTL bounds the life of a single-use payment receipt.
	ReceiptTTL time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig defines a public type used by apicharge APIs.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig defines a public type used by apicharge APIs.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig describes the defaultconfig operation and its observable behavior.
//
// DefaultConfig may return an error when input validation, dependency calls, or security checks fail.
// DefaultConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Quote: QuoteConfig{
			ValidityWindow: 60 * time.Second,
		},
		Nonce: NonceConfig{
			TTL: 2 * time.Minute,
		},
		Settlement: SettlementConfig{
			Backoff:    settlement.DefaultBackoff,
			OutcomeTTL: 24 * time.Hour,
		},
		Token: TokenConfig{
			SingleUse: false,
			MaxTTL:    1 * time.Hour,
		},
		DirectPayment: DirectPaymentConfig{
			Enabled:    false,
			ReceiptTTL: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Signer.PrivateKey = cloneBytes(cfg.Signer.PrivateKey)
	if len(cfg.Routes) > 0 {
		out.Routes = make([]RouteConfig, len(cfg.Routes))
		copy(out.Routes, cfg.Routes)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate describes the validate operation and its observable behavior.
//
// Validate may return an error when input validation, dependency calls, or security checks fail.
// Validate does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (c *Config) Validate() error {
	if len(c.Signer.PrivateKey) == 0 {
		return errors.New("Signer PrivateKey required")
	}

	if c.Quote.ValidityWindow <= 0 {
		return errors.New("Quote ValidityWindow must be > 0")
	}

	if c.Nonce.TTL <= 0 {
		return errors.New("Nonce TTL must be > 0")
	}
	if c.Nonce.TTL < c.Quote.ValidityWindow {
		return errors.New("Nonce TTL must cover the Quote ValidityWindow")
	}

	if c.Settlement.Backoff.MaxAttempts <= 0 {
		return errors.New("Settlement Backoff MaxAttempts must be > 0")
	}
	if c.Settlement.Backoff.Initial <= 0 {
		return errors.New("Settlement Backoff Initial must be > 0")
	}
	if c.Settlement.Backoff.Max < c.Settlement.Backoff.Initial {
		return errors.New("Settlement Backoff Max must be >= Initial")
	}
	if c.Settlement.OutcomeTTL <= 0 {
		return errors.New("Settlement OutcomeTTL must be > 0")
	}

	if c.Token.MaxTTL <= 0 {
		return errors.New("Token MaxTTL must be > 0")
	}

	if c.DirectPayment.Enabled && c.DirectPayment.ReceiptTTL <= 0 {
		return errors.New("DirectPayment ReceiptTTL must be > 0 when enabled")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	if len(c.Routes) == 0 {
		return errors.New("at least one route required")
	}
	seen := make(map[string]struct{}, len(c.Routes))
	for _, r := range c.Routes {
		if r.RouteID == "" {
			return errors.New("route id must not be empty")
		}
		if _, dup := seen[r.RouteID]; dup {
			return errors.New("duplicate route id: " + r.RouteID)
		}
		seen[r.RouteID] = struct{}{}

		if r.MicroUnitPrice < 0 {
			return errors.New("route " + r.RouteID + ": MicroUnitPrice must be >= 0")
		}
		if r.DurationWindow <= 0 {
			return errors.New("route " + r.RouteID + ": DurationWindow must be > 0")
		}

		switch r.QoS.Kind {
		case wire.QoSKindCounter:
			if r.QoS.MaxCalls <= 0 {
				return errors.New("route " + r.RouteID + ": counter QoS requires MaxCalls > 0")
			}
		case wire.QoSKindTokenBucket:
			if r.QoS.RateLimitPerSecond <= 0 {
				return errors.New("route " + r.RouteID + ": token-bucket QoS requires RateLimitPerSecond > 0")
			}
		default:
			return errors.New("route " + r.RouteID + ": unsupported QoS kind")
		}
	}

	return nil
}
