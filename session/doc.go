// Package session provides Redis-backed session persistence, compact binary
// session encoding, and a live [Source] that reports the principal behind a
// session as it changes.
//
// # Binary encoding
//
// Sessions are stored in Redis as a compact binary format (schema versions
// v1–v2) with forward migration on read. The encoder is append-only: new
// versions add fields but never reinterpret old ones.
//
// # Change notifications
//
// Every mutation publishes on the session's channel so open sources re-read
// the record instead of polling.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model.
// It does NOT load profiles, evaluate guards, or interpret JWT tokens.
//
// # What this package must NOT do
//
//   - Import gatekeeper, profile, or jwt (no upward imports).
//   - Perform application-level authorization decisions.
//   - Store plaintext secrets in [Session] fields.
package session
