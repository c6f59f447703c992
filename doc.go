// Package gatekeeper decides whether a navigation to a protected view may
// proceed, using a live join of the caller's session and authorization
// profile.
//
// A [Gate] keeps one shared combined user stream per session key. Each call
// to [Gate.Evaluate] subscribes to it, runs the guard chain (session,
// profile, email verification, standing, entitlement) and returns either an
// allow or a redirect with its reason. A profile that is missing or slow to
// load also ends the session before the redirect.
//
// # Architecture boundaries
//
// gatekeeper is the composition root. It exposes [Gate], [Builder], [Config]
// and re-exported value types. Stream mechanics live in package stream,
// guard predicates in internal/guards, and storage in session, profile and
// internal/stores.
//
// # What this package must NOT do
//
//   - Let a guard failure escape as an error or panic: every failure becomes
//     a denial.
//   - Allow a navigation on anything but a fully resolved user.
//   - Import any sub-package that re-imports gatekeeper.
package gatekeeper
