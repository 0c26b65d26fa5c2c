// Package limiters holds the abuse-prevention policies of the credential
// flows.
//
// # Limiters
//
//   - [Lockout]: sliding-window failed-login lockout stored on the principal row.
//   - [Resend]: cap on reset and verification tokens issued per principal.
//   - [Throttle]: Redis request budgets for login, refresh, MFA, sign-up and
//     token issuance, built on internal/rate.
//
// [Lockout] and [Resend] are pure: they read and return state and never touch
// storage. A nil [*Throttle] allows everything.
//
// # What this package must NOT do
//
//   - Import the root package or internal/flows.
//   - Decide error codes; flow functions decide consequences.
package limiters
