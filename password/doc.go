// Package password hashes account passwords with Argon2id.
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes made with weaker parameters than the
// current [Config] so the caller can re-hash after a successful sign-in.
//
// The package owns hashing and verification only. It never stores
// credentials and never logs plaintext or hash parameters.
package password
