// Package events carries the domain events produced by credential operations
// and delivers them, after commit, to a Publisher.
//
// # Components
//
//   - [Event]: one fact about a principal (logged in, rotated, linked...).
//   - [Publisher]: delivery port; AMQP, zap log, channel, JSON lines and no-op sinks.
//   - [Dispatcher]: buffered async relay with drop-if-full semantics.
//
// # Architecture boundaries
//
// Operations return events; the engine hands them to the Dispatcher only once
// the owning transaction has committed. Delivery is best-effort and never
// blocks or fails a credential operation.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Carry raw tokens, codes or secrets in event data.
package events
