package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	apicharge "github.com/StreamCharge/ApiCharge"
	"github.com/StreamCharge/ApiCharge/wire"
)

type decisionContextKey struct{}

// DecisionFromContext returns the admission decision the guard injected for
// this request.
func DecisionFromContext(ctx context.Context) (*apicharge.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(*apicharge.Decision)
	return d, ok
}

// Guard admits requests carrying a valid subscription access token in the
// apicharge header. A request without one answers 402 with the current
// signed quote set.
func Guard(engine *apicharge.Engine, routeID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeReason(w, http.StatusServiceUnavailable, apicharge.ErrEngineNotReady)
				return
			}

			ctx := apicharge.WithClientIP(r.Context(), remoteIP(r))
			ctx = apicharge.WithUserAgent(ctx, r.UserAgent())

			header := r.Header.Get(wire.HeaderName)
			if header == "" {
				writePaymentRequired(w, engine, nil)
				return
			}

			token, err := wire.DecodeTokenHeader(header)
			if err != nil {
				writePaymentRequired(w, engine, apicharge.ErrInvalidToken)
				return
			}

			decision, err := engine.Authorize(ctx, token, routeID)
			if err != nil {
				writeDenial(w, engine, err)
				return
			}

			ctx = context.WithValue(ctx, decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DirectGuard admits requests that pay per call with a direct payment
// document in the apicharge header. On success the settlement receipt is
// echoed in the apicharge-receipt response header.
func DirectGuard(engine *apicharge.Engine, routeID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeReason(w, http.StatusServiceUnavailable, apicharge.ErrEngineNotReady)
				return
			}

			ctx := apicharge.WithClientIP(r.Context(), remoteIP(r))
			ctx = apicharge.WithUserAgent(ctx, r.UserAgent())

			header := r.Header.Get(wire.HeaderName)
			if header == "" {
				writePaymentRequired(w, engine, nil)
				return
			}

			decision, err := engine.AuthorizeDirect(ctx, header, routeID)
			if err != nil {
				writeDenial(w, engine, err)
				return
			}

			if decision.Receipt != "" {
				w.Header().Set(ReceiptHeader, decision.Receipt)
			}

			ctx = context.WithValue(ctx, decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ReceiptHeader carries the settlement receipt of a direct payment back to
// the client.
const ReceiptHeader = "apicharge-receipt"

// paymentRequiredBody is the 402 response payload: the machine-readable
// denial reason plus the live offer set to purchase from.
type paymentRequiredBody struct {
	Reason string      `json:"reason,omitempty"`
	Quotes *wire.Quote `json:"apicharge"`
}

func writeDenial(w http.ResponseWriter, engine *apicharge.Engine, err error) {
	switch apicharge.ReasonCode(err) {
	case "rate_limited", "quota_exceeded":
		w.Header().Set("Retry-After", "1")
		writeReason(w, http.StatusTooManyRequests, err)
	case "store_unavailable", "engine_not_ready", "internal_error", "settlement_failed":
		writeReason(w, http.StatusServiceUnavailable, err)
	default:
		writePaymentRequired(w, engine, err)
	}
}

func writePaymentRequired(w http.ResponseWriter, engine *apicharge.Engine, cause error) {
	quotes, err := engine.GetQuotes()
	if err != nil {
		writeReason(w, http.StatusServiceUnavailable, err)
		return
	}

	body := paymentRequiredBody{Quotes: quotes}
	if cause != nil {
		body.Reason = apicharge.ReasonCode(cause)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(body)
}

func writeReason(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"reason": apicharge.ReasonCode(err)})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
