// Package profile stores authorization profiles and reports their changes.
//
// [RedisStore] keeps one JSON document per user and announces every write
// on a pub/sub channel; the pgstore subpackage offers the same contract on
// PostgreSQL. Both implement [Store], which includes the live
// [stream.ProfileSource] watch consumed by the combined user stream.
//
// # What this package must NOT do
//
//   - Import gatekeeper or session (no upward imports).
//   - Decide access; profiles are data, guards interpret them.
package profile
