// Package internal holds helpers private to gatekeeper: random identifiers
// and single-use challenge tokens.
//
// # Sub-packages
//
//   - audit: async event dispatch and sinks (channel, JSON writer, Kafka)
//   - config: environment configuration for the binaries
//   - guards: the five-stage guard chain and its runner
//   - logger: slog setup
//   - rate: Redis fixed-window limits for sign-in and verification requests
//   - stores: Redis credential and email-verification stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public gatekeeper API.
package internal
