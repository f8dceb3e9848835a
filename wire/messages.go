package wire

import (
	"encoding/json"
	"errors"
)

// QoS enforcement kinds carried on route quotes and subscriptions.
const (
	QoSKindCounter     = "counter"
	QoSKindTokenBucket = "token-bucket"
)

// QoSParameters describes the enforcement contract a route is sold under.
type QoSParameters struct {
	Kind               string `json:"kind"`
	RateLimitPerSecond int64  `json:"rateLimitPerSecond,omitempty"`
	MaxCalls           int64  `json:"maxCalls,omitempty"`
	PriorityClass      string `json:"priorityClass,omitempty"`
}

// RouteQuote is a priced offer for one route. Immutable once issued;
// microUnitPrice is in millionths of the settlement currency unit.
type RouteQuote struct {
	RouteID               string        `json:"routeId"`
	MicroUnitPrice        int64         `json:"microUnitPrice"`
	DurationWindowSeconds int64         `json:"durationWindowSeconds"`
	QoSParameters         QoSParameters `json:"qosParameters"`
	IssuedAt              int64         `json:"issuedAt"`
	ExpiresAt             int64         `json:"expiresAt"`
}

// SignedRouteQuote carries a RouteQuote with the server signature over its
// canonical bytes. The entity is kept raw so that validation operates on the
// exact bytes the client submitted back.
type SignedRouteQuote struct {
	SignableEntity json.RawMessage `json:"signableEntity"`
	Signature      string          `json:"signature"`
}

// Entity decodes the inner RouteQuote, rejecting unknown fields.
func (q *SignedRouteQuote) Entity() (*RouteQuote, error) {
	if len(q.SignableEntity) == 0 {
		return nil, errors.New("signed route quote has no entity")
	}
	var rq RouteQuote
	if err := DecodeStrict(q.SignableEntity, &rq); err != nil {
		return nil, err
	}
	return &rq, nil
}

// CanonicalEntity returns the canonical bytes the route quote signature
// covers.
func (q *SignedRouteQuote) CanonicalEntity() ([]byte, error) {
	return CanonicalizeRaw(q.SignableEntity)
}

// Quote is the full offer set served at a point in time. The top-level
// signature covers {quotes, issuedAt, validUntil}; each route quote also
// carries its own signature so it can be validated standalone when a client
// submits it back.
type Quote struct {
	Quotes     []SignedRouteQuote `json:"quotes"`
	IssuedAt   int64              `json:"issuedAt"`
	ValidUntil int64              `json:"validUntil"`
	Signature  string             `json:"signature,omitempty"`
}

// SigningBytes returns the canonical bytes covered by the quote set
// signature.
func (q *Quote) SigningBytes() ([]byte, error) {
	unsigned := Quote{Quotes: q.Quotes, IssuedAt: q.IssuedAt, ValidUntil: q.ValidUntil}
	return Canonical(unsigned)
}

// PurchaseRequest is the client's opening message of the purchase flow: its
// public key plus the signed route quote it wants to buy, returned byte
// identical to how the server issued it.
type PurchaseRequest struct {
	ClientPublicKey string           `json:"clientPublicKey"`
	RouteQuote      SignedRouteQuote `json:"routeQuote"`
}

// PurchaseInstruction is the server's reply: the authorization the client
// must sign, bound to a single-use nonce and a settlement instruction
// reference. The client replaces AuthorisationToSign with its signature over
// those bytes and submits the document back unchanged otherwise.
type PurchaseInstruction struct {
	ClientPublicKey          string           `json:"clientPublicKey"`
	RouteQuote               SignedRouteQuote `json:"routeQuote"`
	SettlementInstructionRef string           `json:"settlementInstructionRef"`
	Nonce                    string           `json:"nonce"`
	AuthorisationToSign      string           `json:"authorisationToSign"`
}

// AuthorizationPayload is the entity the client signs: every instruction
// field except the signature slot itself.
type AuthorizationPayload struct {
	ClientPublicKey          string           `json:"clientPublicKey"`
	RouteQuote               SignedRouteQuote `json:"routeQuote"`
	SettlementInstructionRef string           `json:"settlementInstructionRef"`
	Nonce                    string           `json:"nonce"`
}

// AuthorizationBytes returns the canonical bytes the instruction's
// authorization signature must cover.
func (p *PurchaseInstruction) AuthorizationBytes() ([]byte, error) {
	payload := AuthorizationPayload{
		ClientPublicKey:          p.ClientPublicKey,
		RouteQuote:               p.RouteQuote,
		SettlementInstructionRef: p.SettlementInstructionRef,
		Nonce:                    p.Nonce,
	}
	return Canonical(payload)
}

// Subscription is the granted access record minted after settlement.
// RemainingUnits only ever decreases after minting.
type Subscription struct {
	SubscriptionID  string        `json:"subscriptionId"`
	RouteID         string        `json:"routeId"`
	OwnerPublicKey  string        `json:"ownerPublicKey"`
	QoSParameters   QoSParameters `json:"qosParameters"`
	GrantedAt       int64         `json:"grantedAt"`
	ExpiresAt       int64         `json:"expiresAt"`
	RemainingUnits  int64         `json:"remainingUnits"`
	SettlementTxRef string        `json:"settlementTxRef"`
}

// SigningBytes returns the canonical bytes the server signs when minting.
func (s *Subscription) SigningBytes() ([]byte, error) {
	return Canonical(s)
}

// SignedSubscription is the subscription envelope returned by a purchase.
type SignedSubscription struct {
	SignableEntity Subscription `json:"signableEntity"`
	Signature      string       `json:"signature"`
}

// AccessTokenEntity is what the subscription owner signs to mint a token.
// RequestedTtl is advisory; the server remains the authority on remaining
// budget.
type AccessTokenEntity struct {
	SubscriptionID string `json:"subscriptionId"`
	IssuedAt       int64  `json:"issuedAt"`
	RequestedTTL   int64  `json:"requestedTtl"`
}

// SigningBytes returns the canonical bytes the token signature covers.
func (e *AccessTokenEntity) SigningBytes() ([]byte, error) {
	return Canonical(e)
}

// AccessToken is the client-minted bearer document presented in the
// apicharge request header.
type AccessToken struct {
	SignableEntity AccessTokenEntity `json:"signableEntity"`
	Signature      string            `json:"signature"`
}
