// Package identity holds the value types shared by every layer of the gating
// pipeline: the authenticated [Principal], the authorization [Profile] kept
// per principal, and the derived [State] emitted by the combined user stream.
//
// # Architecture boundaries
//
// identity is a leaf package. Stores, the stream and the guards all import it;
// it imports nothing from this module.
//
// # What this package must NOT do
//
//   - Perform I/O or hold references to backends.
//   - Expose a "ready" [State] without both a principal and a loaded profile.
package identity
