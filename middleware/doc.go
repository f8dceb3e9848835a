// Package middleware exposes HTTP adapters that put routes behind ApiCharge
// admission, for subscription tokens and for inline direct payments.
//
// # Guards
//
//   - [Guard] — subscription-token admission via Engine.Authorize.
//   - [DirectGuard] — pay-per-call admission via Engine.AuthorizeDirect.
//
// Each guard reads the apicharge request header, asks the engine for a
// decision, and injects the decision into the request context. A request
// without a valid payment answers 402 with the current signed quote set so
// the client can purchase access.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement protocol logic itself — all admission decisions are delegated to
// the engine.
//
// # What this package must NOT do
//
//   - Verify signatures or parse payment documents (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make admission decisions beyond pass/reject from the engine.
package middleware
