// Package prometheus renders flow metrics in the Prometheus text format.
//
// [NewPrometheusExporter] reads an [authflow.App] and exposes an [http.Handler].
// Counters are named authflow_*_total; the single histogram is
// authflow_api_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate App state.
package prometheus
