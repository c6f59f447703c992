// Package stream derives the combined user value that every guard consumes.
//
// A [UserStream] joins a [SessionSource] with a [ProfileSource] and exposes the
// result through a reference-counted [Shared] subscription: the upstream
// watches start with the first subscriber, are replayed to late subscribers,
// and are torn down when the last subscriber closes.
//
// # Architecture boundaries
//
// stream defines the collaborator interfaces it consumes. Redis, Postgres and
// test doubles implement them in their own packages; stream never imports a
// backend.
//
// # What this package must NOT do
//
//   - Block an upstream on a slow subscriber (delivery is latest-wins).
//   - Emit a ready state for a principal whose profile has not loaded.
//   - Mutate profile data.
package stream
