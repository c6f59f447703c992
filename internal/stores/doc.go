// Package stores provides Redis-backed records for the identity workflows:
// sign-in credentials and single-use email verification challenges.
//
// Verification records are versioned binary blobs with a TTL. Consume runs
// as one Lua script so a challenge is used at most once and a wrong secret
// counts towards the attempt cap. Secrets are stored as SHA-256 hashes and
// compared in constant time.
//
// The package does not generate tokens, rate limit or make decisions.
package stores
