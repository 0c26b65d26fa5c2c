// Package password hashes passwords with Argon2id and enforces the credential
// policy (strength rules and reuse history).
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsRehash] reports hashes produced with weaker parameters so the
// caller can re-hash on the next successful login.
//
// # Architecture boundaries
//
// This package never touches storage. [Policy.CheckReuse] receives the current
// hash and the recent history from the caller.
//
// # What this package must NOT do
//
//   - Import any other auctoritas package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
