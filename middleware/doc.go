// Package middleware adapts the engine to net/http.
//
//   - [RequestContext] copies the tenant header, client IP and user agent
//     into the request context.
//   - [Guard] validates the bearer access token and attaches its claims.
//   - [RequireKind] admits only the listed principal kinds.
//
// # What this package must NOT do
//
//   - Parse or mint tokens directly. Validation is delegated to the engine.
//   - Evaluate roles. The role claim is carried, never interpreted.
package middleware
