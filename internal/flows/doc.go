// Package flows contains the transactional orchestrators behind every Engine
// operation.
//
// Each flow (RunLogin, RunRefresh, RunCompleteChallenge, ...) receives the
// open store.Tx, a request value and the shared Deps, and returns a result
// carrying the domain events the operation produced. Flows never begin or
// commit transactions and never publish events; the Engine does both.
//
// # Architecture boundaries
//
// Domain failures are the sentinels injected through Errors. A flow that must
// discard writes it already made wraps its failure with Abort so the Engine
// rolls the transaction back; any other domain failure is committed together
// with the writes that preceded it (lockout counters, expired-row cleanup).
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import auctoritas (to avoid import cycles).
//   - Perform network I/O while a row lock is held.
package flows
