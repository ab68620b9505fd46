// Package otel publishes flow counters and the API latency histogram through
// an OpenTelemetry Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per flow counter and
// one Int64ObservableGauge per histogram bucket. A single callback reads
// [authflow.App.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate App state.
package otel
