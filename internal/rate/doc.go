// Package rate provides Redis-backed fixed-window counters for
// security-sensitive authentication workflows.
//
// # Window semantics
//
// INCR + EXPIRE on the first hit. Keys have the shape
// <prefix>:<bucket>:<tenant>[:<part>...]; buckets are chosen by
// internal/limiters.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the auctoritas module.
package rate
