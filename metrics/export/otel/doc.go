// Package otel publishes umbra client metrics through OpenTelemetry
// observable instruments. Each counter becomes an Int64ObservableCounter;
// the step latency histogram becomes one cumulative gauge per bucket plus
// a count gauge.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate client state.
package otel
