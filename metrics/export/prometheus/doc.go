// Package prometheus provides Prometheus collectors for apicharge metrics.
//
// [NewPrometheusExporter] accepts an [apicharge.Engine] and exposes an [http.Handler]
// that renders all apicharge counters and histograms in Prometheus text exposition format.
// Counter names are prefixed apicharge_*_total; the single histogram is
// apicharge_authorize_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
