// Package store defines the persistence port of the credential engine and the
// records it persists.
//
// Every engine operation runs inside exactly one [Store.WithinTx] call. Lookups
// named "...ForUpdate" must hold a row lock until the transaction ends, and the
// Mark/Revoke/Consume methods are conditional updates that report whether a row
// actually changed. Together these give at-most-once consumption of every
// single-use record under concurrent or replayed requests.
//
// # Architecture boundaries
//
// This package owns record shapes and the transactional contract only.
// Reference implementations live in store/memory (tests, single process) and
// store/postgres (production).
//
// # What this package must NOT do
//
//   - Import the auctoritas root package.
//   - Persist raw tokens, codes, passwords or TOTP secrets. Callers pass digests
//     and ciphertexts.
//   - Retry on lock timeouts. [ErrLockTimeout] is returned to the caller, which
//     maps it to a domain error.
package store
