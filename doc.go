// Package apicharge provides a low-latency pay-per-use subscription engine:
// signed route quotes, nonce-bound purchase authorizations settled on an
// external payment rail, and a redis-backed gateway validator that admits
// client-minted access tokens against an atomically decremented unit budget.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// apicharge is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (Decision, MetricsSnapshot, etc.). Protocol document shapes
// live in the wire package; signing, storage, QoS, and settlement live in
// their own packages and never re-import apicharge.
//
// # Performance contract
//
// Authorize is the hot path. It performs one signature verification and one
// atomic read-modify-write against redis per call; it never blocks on the
// settlement rail. Purchase is the only operation allowed to suspend for an
// external call.
package apicharge
