// Package auctoritas is a multi-tenant credential and session engine:
// password login with lockout, rotating opaque refresh tokens, TOTP with
// recovery codes, OAuth provider login finished through a single-use
// exchange code, password reset and email verification.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// auctoritas is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Flow orchestration lives in internal/flows and runs
// against the transactional [store.Store]; the request throttle, one-time
// credentials and random material also live under internal/ and are never
// exported.
//
// # Tenancy
//
// Every operation runs inside one tenant, attached to the context with
// [WithTenantID]. The exceptions are [Engine.HandleCallback], whose tenant is
// recorded in the OAuth state, and [Engine.ExchangeCode], whose tenant is
// resolved from an API key.
//
// # Consistency
//
// Each operation is one store transaction (the OAuth callback uses two
// around the provider call). Domain failures that changed state still
// commit, such as a failed login counting toward lockout. Events reach the
// configured publisher only after commit.
package auctoritas
