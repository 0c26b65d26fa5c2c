// Package internal contains helper utilities that are intentionally private to
// auctoritas, chiefly opaque credential generation and digesting.
//
// # Sub-packages
//
//   - flows: transactional orchestrators for every Engine operation
//   - limiters: failed-login lockout window and resend caps
//   - rate: Redis-backed request throttle primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public auctoritas API.
//   - Persist or log raw tokens. Only [HashToken] digests leave this package.
package internal
