package apicharge

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/StreamCharge/ApiCharge/settlement"
	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/wire"
)

// DirectPayment is the pay-per-call document a client presents instead of a
// subscription token: a live route quote it accepts plus a pre-signed
// settlement transaction covering exactly one call.
type DirectPayment struct {
	SignableEntity DirectPaymentEntity `json:"signableEntity"`
	Signature      string              `json:"signature"`
}

// DirectPaymentEntity is the signed body of a direct payment.
type DirectPaymentEntity struct {
	ClientPublicKey  string                `json:"clientPublicKey"`
	RouteQuote       wire.SignedRouteQuote `json:"routeQuote"`
	SignedSettlement string                `json:"signedSettlement"`
}

// SigningBytes returns the canonical bytes the payment signature covers.
func (e *DirectPaymentEntity) SigningBytes() ([]byte, error) {
	return wire.Canonical(e)
}

// AuthorizeDirect admits a single call paid for inline. The payment document
// is verified, marked consumed, and settled on the rail before the request
// proceeds; the returned decision carries a signed receipt the caller can
// keep as proof of settlement. Unlike Authorize this path blocks on the
// settlement rail.
//
// AuthorizeDirect may return an error when input validation, dependency calls, or security checks fail.
// AuthorizeDirect does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) AuthorizeDirect(ctx context.Context, paymentHeader string, routeID string) (*Decision, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.receipts == nil {
		return nil, ErrDirectPaymentDisabled
	}

	payment, err := decodeDirectPayment(paymentHeader)
	if err != nil {
		return nil, e.denyDirect(ctx, routeID, ErrInvalidToken)
	}

	now := e.now()
	rq, err := e.validateRouteQuote(&payment.SignableEntity.RouteQuote, now)
	if err != nil {
		return nil, e.denyDirect(ctx, routeID, err)
	}
	if rq.RouteID != routeID {
		return nil, e.denyDirect(ctx, routeID, ErrRouteMismatch)
	}

	clientKey, err := signer.DecodePublicKey(payment.SignableEntity.ClientPublicKey)
	if err != nil {
		return nil, e.denyDirect(ctx, routeID, ErrInvalidSignature)
	}
	sig, err := wire.DecodeSignature(payment.Signature)
	if err != nil {
		return nil, e.denyDirect(ctx, routeID, ErrInvalidSignature)
	}
	payload, err := payment.SignableEntity.SigningBytes()
	if err != nil {
		return nil, e.denyDirect(ctx, routeID, ErrInvalidSignature)
	}
	if err := signer.Verify(clientKey, payload, sig); err != nil {
		return nil, e.denyDirect(ctx, routeID, ErrInvalidSignature)
	}

	// One admission per signed payment. The guard outlives the quote so a
	// replay after quote expiry still reads as a replay, not a stale quote.
	guardTTL := time.Until(time.Unix(rq.ExpiresAt, 0)) + e.config.Nonce.TTL
	if err := e.replay.Admit(ctx, "dp:"+admissionKeyForSignature(sig), guardTTL); err != nil {
		if errors.Is(err, errReplayDetected) {
			e.metricInc(MetricReceiptReplayDetected)
			e.emitAudit(ctx, auditEventReceiptReplayed, false, "", routeID, "", ErrNonceReplayed, nil)
			return nil, e.denyDirect(ctx, routeID, ErrNonceReplayed)
		}
		e.metricInc(MetricStoreUnavailable)
		return nil, e.denyDirect(ctx, routeID, ErrStoreUnavailable)
	}

	var receipt *settlement.Receipt
	err = settlement.Retry(ctx, e.config.Settlement.Backoff, func(ctx context.Context) error {
		r, submitErr := e.settlement.Submit(ctx, payment.SignableEntity.SignedSettlement)
		if submitErr != nil {
			if errors.Is(submitErr, settlement.ErrUnavailable) {
				e.metricInc(MetricSettlementRetry)
			}
			return submitErr
		}
		receipt = r
		return nil
	})
	if err != nil {
		e.metricInc(MetricDirectPaymentFailure)
		e.emitAudit(ctx, auditEventDirectPaymentFailure, false, "", routeID, "", ErrSettlementFailed, nil)
		return nil, fmt.Errorf("%w: %v", ErrSettlementFailed, err)
	}

	proof, err := e.receipts.mint(routeID, receipt.TxRef, e.now())
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricDirectPaymentSuccess)
	e.emitAudit(ctx, auditEventDirectPaymentSuccess, true, "", routeID, receipt.TxRef, nil, nil)

	return &Decision{
		RouteID:        routeID,
		RemainingUnits: 0,
		Receipt:        proof,
	}, nil
}

// VerifyReceipt checks a settlement receipt issued by AuthorizeDirect and
// returns the settlement transaction reference it attests to.
//
// VerifyReceipt may return an error when input validation, dependency calls, or security checks fail.
// VerifyReceipt does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) VerifyReceipt(receipt string, routeID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if e.receipts == nil {
		return "", ErrDirectPaymentDisabled
	}
	return e.receipts.verify(receipt, routeID)
}

func (e *Engine) denyDirect(ctx context.Context, routeID string, err error) error {
	e.metricInc(MetricDirectPaymentFailure)
	e.emitAudit(ctx, auditEventDirectPaymentFailure, false, "", routeID, "", err, nil)
	return err
}

func decodeDirectPayment(header string) (*DirectPayment, error) {
	if header == "" {
		return nil, errors.New("empty payment header")
	}
	raw := header
	if unescaped, err := url.QueryUnescape(header); err == nil {
		raw = unescaped
	}
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return nil, errors.New("payment header is not a document")
	}
	var payment DirectPayment
	if err := wire.DecodeStrict([]byte(raw), &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// receiptManager mints and verifies EdDSA settlement receipts for the
// direct payment path.
type receiptManager struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
}

func newReceiptManager(privateKey []byte, ttl time.Duration) (*receiptManager, error) {
	key, err := signer.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &receiptManager{
		private: key,
		public:  key.Public().(ed25519.PublicKey),
		ttl:     ttl,
	}, nil
}

// mint issues a receipt attesting that txRef settled payment for one call on
// the route. The subject carries the settlement reference; the audience pins
// the route.
func (m *receiptManager) mint(routeID string, txRef string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   txRef,
		Audience:  jwt.ClaimStrings{routeID},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.private)
}

func (m *receiptManager) verify(receipt string, routeID string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(receipt, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.public, nil
	}, jwt.WithAudience(routeID), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
