// Package prometheus renders umbra client metrics in the Prometheus text
// exposition format. Counters are named umbra_*_total; the one histogram
// is umbra_handshake_step_latency_seconds.
//
// # What this package must NOT do
//
//   - Register anything in a global registry. Callers mount the Handler.
//   - Mutate client state.
package prometheus
