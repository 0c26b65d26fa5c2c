// Package jwt mints and validates RS256 access tokens and publishes the
// matching verification keys as a JSON Web Key Set.
//
// # Architecture boundaries
//
// Manager owns key material and claim layout. It never consults storage, so an
// access token stays valid until it expires even after its session is revoked.
//
// # What this package must NOT do
//
//   - accept any algorithm other than RS256
//   - read keys from the environment or the filesystem
package jwt
