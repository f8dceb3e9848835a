package wire

import (
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/StreamCharge/ApiCharge/signer"
)

// HeaderName is the HTTP request header the access token travels in.
const HeaderName = "apicharge"

var errEmptyToken = errors.New("empty access token header")

// MintAccessToken produces an AccessToken for a held subscription, signed
// with the owning key. Client side of the protocol; the server never mints
// tokens.
func MintAccessToken(sub *SignedSubscription, owner *signer.Signer, requestedTTL time.Duration, now time.Time) (*AccessToken, error) {
	entity := AccessTokenEntity{
		SubscriptionID: sub.SignableEntity.SubscriptionID,
		IssuedAt:       now.Unix(),
		RequestedTTL:   int64(requestedTTL / time.Second),
	}
	payload, err := entity.SigningBytes()
	if err != nil {
		return nil, err
	}
	return &AccessToken{
		SignableEntity: entity,
		Signature:      EncodeSignature(owner.Sign(payload)),
	}, nil
}

// EncodeTokenHeader serializes a token into the URL-encoded compact JSON
// form carried in the apicharge header.
func EncodeTokenHeader(t *AccessToken) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(raw)), nil
}

// DecodeTokenHeader parses an apicharge header value. A bare JSON document
// without URL encoding is accepted too.
func DecodeTokenHeader(header string) (*AccessToken, error) {
	if header == "" {
		return nil, errEmptyToken
	}
	raw, err := url.QueryUnescape(header)
	if err != nil {
		raw = header
	}
	var t AccessToken
	if err := DecodeStrict([]byte(raw), &t); err != nil {
		return nil, err
	}
	return &t, nil
}
