// Package oauth talks to external identity providers: it builds PKCE
// authorization URLs, exchanges authorization codes and normalizes the
// provider's profile into a UserInfo.
//
// Supported providers are google, github, microsoft, facebook and apple.
// EmailVerified reflects only what the provider itself asserts: Google and
// GitHub report a flag, Apple reports one inside the signed id_token, and
// Microsoft and Facebook never do.
//
// # Architecture boundaries
//
// This package performs network I/O only. It never reads tenant settings or
// storage; callers pass client credentials per call.
package oauth
