// Package guards contains the ordered authorization stages evaluated before a
// protected view is activated.
//
// Each stage is split in two: a pure Check* predicate that maps a snapshot of
// the combined user to an [Outcome], and a [Guard] wrapper that obtains that
// snapshot from the per-attempt [Navigation]. [Run] composes guards
// sequentially and stops at the first denial.
//
// # Architecture boundaries
//
// Guards decide; they do not act. Corrective actions such as a forced
// sign-out are returned as [Effect] values and executed by the Gate.
//
// # What this package must NOT do
//
//   - Return errors or panic to the caller; every failure is a redirect.
//   - Import gatekeeper (to avoid import cycles).
//   - Hold state between navigation attempts.
package guards
