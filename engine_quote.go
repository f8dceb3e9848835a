package apicharge

import (
	"strconv"
	"time"

	"github.com/StreamCharge/ApiCharge/signer"
	"github.com/StreamCharge/ApiCharge/wire"
)

// GetQuotes issues the current signed offer set. Every route in the
// catalogue yields one individually signed route quote stamped with the
// configured validity window; the set carries its own signature over
// {quotes, issuedAt, validUntil}.
//
// GetQuotes may return an error when input validation, dependency calls, or security checks fail.
// GetQuotes does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (e *Engine) GetQuotes() (*wire.Quote, error) {
	if e == nil || e.signer == nil {
		return nil, ErrEngineNotReady
	}

	now := e.now()
	quote := &wire.Quote{
		Quotes:     make([]wire.SignedRouteQuote, 0, len(e.config.Routes)),
		IssuedAt:   now.Unix(),
		ValidUntil: now.Add(e.config.Quote.ValidityWindow).Unix(),
	}

	for _, route := range e.config.Routes {
		rq := wire.RouteQuote{
			RouteID:               route.RouteID,
			MicroUnitPrice:        route.MicroUnitPrice,
			DurationWindowSeconds: int64(route.DurationWindow / time.Second),
			QoSParameters:         route.QoS,
			IssuedAt:              quote.IssuedAt,
			ExpiresAt:             quote.ValidUntil,
		}

		entity, err := wire.Canonical(rq)
		if err != nil {
			return nil, err
		}

		quote.Quotes = append(quote.Quotes, wire.SignedRouteQuote{
			SignableEntity: entity,
			Signature:      wire.EncodeSignature(e.signer.Sign(entity)),
		})
	}

	setBytes, err := quote.SigningBytes()
	if err != nil {
		return nil, err
	}
	quote.Signature = wire.EncodeSignature(e.signer.Sign(setBytes))

	e.metricInc(MetricQuoteIssued)
	e.emitAudit(nil, auditEventQuoteIssued, true, "", "", "", nil, func() map[string]string {
		return map[string]string{
			"routes": strconv.Itoa(len(quote.Quotes)),
		}
	})

	return quote, nil
}

// validateRouteQuote checks a client-submitted signed route quote: the route
// must be in the catalogue, the server signature must verify over the exact
// submitted bytes, the entity must match the current catalogue terms, and
// the quote must still be live.
func (e *Engine) validateRouteQuote(signed *wire.SignedRouteQuote, now time.Time) (*wire.RouteQuote, error) {
	rq, err := signed.Entity()
	if err != nil {
		return nil, ErrQuoteUnknown
	}

	route, ok := e.routes[rq.RouteID]
	if !ok {
		return nil, ErrQuoteUnknown
	}

	canon, err := signed.CanonicalEntity()
	if err != nil {
		return nil, ErrQuoteUnknown
	}
	sig, err := wire.DecodeSignature(signed.Signature)
	if err != nil {
		return nil, ErrQuoteUnknown
	}
	if err := signer.Verify(e.signer.PublicKey(), canon, sig); err != nil {
		return nil, ErrQuoteUnknown
	}

	// The signature already pins the bytes; the terms check catches quotes
	// signed before a catalogue change across restarts.
	if rq.MicroUnitPrice != route.MicroUnitPrice ||
		rq.DurationWindowSeconds != int64(route.DurationWindow/time.Second) ||
		rq.QoSParameters != route.QoS {
		return nil, ErrQuoteUnknown
	}

	if now.Unix() >= rq.ExpiresAt {
		return nil, ErrQuoteExpired
	}

	return rq, nil
}
