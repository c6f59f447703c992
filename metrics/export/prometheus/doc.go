// Package prometheus exposes gate metrics through client_golang.
//
// [Collector] turns each [gatekeeper.Gate.MetricsSnapshot] into constant
// metrics at scrape time: gatekeeper_*_total counters plus the
// gatekeeper_evaluate_latency_seconds histogram.
//
// # What this package must NOT do
//
//   - Register into the global default registry. Callers pass their own
//     registerer or use [Handler].
//   - Mutate gate state.
package prometheus
