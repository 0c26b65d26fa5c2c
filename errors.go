package auctoritas

import (
	"errors"

	"github.com/auctoritas/auctoritas/internal/flows"
)

// Kind classifies an [Error] for transport layers.
type Kind string

const (
	// KindValidation marks malformed or policy-violating input.
	KindValidation Kind = "validation"
	// KindNotFound marks a missing principal, tenant or record.
	KindNotFound Kind = "not_found"
	// KindConflict marks a request that contradicts current state.
	KindConflict Kind = "conflict"
	// KindUnauthorized marks failed authentication and unusable credentials.
	KindUnauthorized Kind = "unauthorized"
	// KindRateLimited marks a request rejected by the request throttle.
	KindRateLimited Kind = "rate_limited"
	// KindLocked marks a principal under failed-login lockout.
	KindLocked Kind = "locked"
	// KindInternal is reported by [KindOf] for errors that are not domain errors.
	KindInternal Kind = "internal"
)

// Error is a domain failure with a stable machine-readable code. Two errors
// are equal under errors.Is when their codes match.
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	// ErrInvalidCredentials is returned for a wrong password or unknown account.
	ErrInvalidCredentials = newError(KindUnauthorized, "invalid_credentials")
	// ErrAccountLocked is returned while a principal is under lockout.
	ErrAccountLocked = newError(KindLocked, "account_locked")
	// ErrEmailNotVerified is returned when the tenant requires a verified address.
	ErrEmailNotVerified = newError(KindUnauthorized, "email_not_verified")
	// ErrPrincipalNotFound is returned when an addressed principal does not exist.
	ErrPrincipalNotFound = newError(KindNotFound, "principal_not_found")
	// ErrTenantNotFound is returned when the request carries no known tenant.
	ErrTenantNotFound = newError(KindNotFound, "tenant_not_found")
	// ErrAPIKeyInvalid is returned when an API key resolves to no tenant.
	ErrAPIKeyInvalid = newError(KindUnauthorized, "api_key_invalid")
	// ErrRateLimited is returned when a request budget is exhausted.
	ErrRateLimited = newError(KindRateLimited, "rate_limited")

	// ErrInvalidAccessToken is returned by ValidateAccessToken for bad tokens.
	ErrInvalidAccessToken = newError(KindUnauthorized, "invalid_access_token")
	// ErrAccessTokenExpired is returned by ValidateAccessToken for expired tokens.
	ErrAccessTokenExpired = newError(KindUnauthorized, "access_token_expired")

	ErrInvalidRefreshToken = newError(KindUnauthorized, "invalid_refresh_token")
	ErrRefreshTokenRevoked = newError(KindUnauthorized, "refresh_token_revoked")
	ErrRefreshTokenExpired = newError(KindUnauthorized, "refresh_token_expired")

	ErrMFAAlreadySetup            = newError(KindConflict, "mfa_already_setup")
	ErrMFAAlreadyEnabled          = newError(KindConflict, "mfa_already_enabled")
	ErrMFANotSetup                = newError(KindConflict, "mfa_not_setup")
	ErrMFANotEnabled              = newError(KindConflict, "mfa_not_enabled")
	ErrTOTPCodeInvalid            = newError(KindUnauthorized, "totp_code_invalid")
	ErrRecoveryCodesMissing       = newError(KindConflict, "recovery_codes_missing")
	ErrMFAChallengeNotFound       = newError(KindNotFound, "mfa_challenge_not_found")
	ErrMFAChallengeExpired        = newError(KindUnauthorized, "mfa_challenge_expired")
	ErrMFAChallengeAlreadyUsed    = newError(KindConflict, "mfa_challenge_already_used")
	ErrMFAChallengeInvalidProject = newError(KindUnauthorized, "mfa_challenge_invalid_project")
	ErrRecoveryCodeInvalid        = newError(KindUnauthorized, "recovery_code_invalid")

	ErrOAuthRedirectURIInvalid      = newError(KindValidation, "oauth_redirect_uri_invalid")
	ErrOAuthRedirectURINotAllowed   = newError(KindValidation, "oauth_redirect_uri_not_allowed")
	ErrOAuthStateInvalid            = newError(KindUnauthorized, "oauth_state_invalid")
	ErrOAuthStateExpired            = newError(KindUnauthorized, "oauth_state_expired")
	ErrOAuthProviderInvalid         = newError(KindValidation, "oauth_provider_invalid")
	ErrOAuthEmailRequired           = newError(KindValidation, "oauth_email_required")
	ErrOAuthEmailUnverifiedConflict = newError(KindConflict, "oauth_email_unverified_conflict")
	// ErrOAuthLinkConflict is returned when a concurrent sign-in created the
	// same principal or provider link first. Retrying the flow succeeds.
	ErrOAuthLinkConflict = newError(KindConflict, "oauth_link_conflict")
	// ErrOAuthExchangeFailed is returned when the provider rejects the code or
	// its profile cannot be loaded.
	ErrOAuthExchangeFailed = newError(KindUnauthorized, "oauth_exchange_failed")
	ErrInvalidOAuthCode    = newError(KindUnauthorized, "invalid_oauth_code")

	ErrInvalidResetToken        = newError(KindUnauthorized, "invalid_reset_token")
	ErrResetTokenUsed           = newError(KindConflict, "reset_token_used")
	ErrResetTokenExpired        = newError(KindUnauthorized, "reset_token_expired")
	ErrPasswordPolicyFailed     = newError(KindValidation, "password_policy_failed")
	ErrPasswordReuseNotAllowed  = newError(KindValidation, "password_reuse_not_allowed")
	ErrInvalidVerificationToken = newError(KindUnauthorized, "invalid_verification_token")
	ErrVerificationTokenUsed    = newError(KindConflict, "verification_token_used")
	ErrVerificationTokenExpired = newError(KindUnauthorized, "verification_token_expired")
	ErrVerificationCodeInvalid  = newError(KindUnauthorized, "verification_code_invalid")
	ErrEmailAlreadyRegistered   = newError(KindConflict, "email_already_registered")
	ErrInvalidEmail             = newError(KindValidation, "invalid_email")

	// ErrEngineNotReady is returned by methods of a nil or unbuilt Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrOAuthProviderNotConfigured returns the oauth_<provider>_not_configured
// error for provider.
func ErrOAuthProviderNotConfigured(provider string) error {
	return newError(KindValidation, "oauth_"+provider+"_not_configured")
}

// CodeOf returns the domain code carried by err, or "" when err is not a
// domain error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func isDomainError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

func flowErrors() flows.Errors {
	return flows.Errors{
		InvalidCredentials: ErrInvalidCredentials,
		AccountLocked:      ErrAccountLocked,
		EmailNotVerified:   ErrEmailNotVerified,
		PrincipalNotFound:  ErrPrincipalNotFound,

		InvalidRefreshToken: ErrInvalidRefreshToken,
		RefreshTokenRevoked: ErrRefreshTokenRevoked,
		RefreshTokenExpired: ErrRefreshTokenExpired,

		MFAAlreadySetup:            ErrMFAAlreadySetup,
		MFAAlreadyEnabled:          ErrMFAAlreadyEnabled,
		MFANotSetup:                ErrMFANotSetup,
		MFANotEnabled:              ErrMFANotEnabled,
		TOTPCodeInvalid:            ErrTOTPCodeInvalid,
		RecoveryCodesMissing:       ErrRecoveryCodesMissing,
		MFAChallengeNotFound:       ErrMFAChallengeNotFound,
		MFAChallengeExpired:        ErrMFAChallengeExpired,
		MFAChallengeAlreadyUsed:    ErrMFAChallengeAlreadyUsed,
		MFAChallengeInvalidProject: ErrMFAChallengeInvalidProject,
		RecoveryCodeInvalid:        ErrRecoveryCodeInvalid,

		OAuthRedirectURIInvalid:      ErrOAuthRedirectURIInvalid,
		OAuthRedirectURINotAllowed:   ErrOAuthRedirectURINotAllowed,
		OAuthProviderNotConfigured:   ErrOAuthProviderNotConfigured,
		OAuthStateInvalid:            ErrOAuthStateInvalid,
		OAuthStateExpired:            ErrOAuthStateExpired,
		OAuthProviderInvalid:         ErrOAuthProviderInvalid,
		OAuthEmailRequired:           ErrOAuthEmailRequired,
		OAuthEmailUnverifiedConflict: ErrOAuthEmailUnverifiedConflict,
		OAuthLinkConflict:            ErrOAuthLinkConflict,
		InvalidOAuthCode:             ErrInvalidOAuthCode,

		InvalidResetToken:        ErrInvalidResetToken,
		ResetTokenUsed:           ErrResetTokenUsed,
		ResetTokenExpired:        ErrResetTokenExpired,
		PasswordPolicyFailed:     ErrPasswordPolicyFailed,
		PasswordReuseNotAllowed:  ErrPasswordReuseNotAllowed,
		InvalidVerificationToken: ErrInvalidVerificationToken,
		VerificationTokenUsed:    ErrVerificationTokenUsed,
		VerificationTokenExpired: ErrVerificationTokenExpired,
		VerificationCodeInvalid:  ErrVerificationCodeInvalid,
		EmailAlreadyRegistered:   ErrEmailAlreadyRegistered,
		InvalidEmail:             ErrInvalidEmail,
	}
}
