// Package middleware adapts a [gatekeeper.Gate] to net/http.
//
//   - [Protect] resolves the caller's token, runs the guard chain and either
//     serves the request or redirects it.
//   - [Logging] and [Recover] are the request log and panic barrier.
//   - [RateLimiter] throttles public endpoints per client IP.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Gate calls. Every
// authorization decision comes from Gate.Evaluate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Access Redis.
//   - Allow a request the gate denied.
package middleware
