package internaldefs

import (
	"github.com/auctoritas/auctoritas"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   auctoritas.MetricID
	Name string
	Help string
}

// HistogramDef binds an engine histogram to its exported name.
type HistogramDef struct {
	ID   auctoritas.MetricID
	Name string
	Help string
}

// EventsDroppedName is the counter exported for discarded lifecycle events.
const (
	EventsDroppedName = "auctoritas_events_dropped_total"
	EventsDroppedHelp = "Lifecycle events discarded by a full buffer or a failed publisher."
)

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: auctoritas.MetricLoginSuccess, Name: "auctoritas_login_success_total", Help: "Successful password logins."},
	{ID: auctoritas.MetricLoginFailure, Name: "auctoritas_login_failure_total", Help: "Rejected password logins."},
	{ID: auctoritas.MetricLoginLocked, Name: "auctoritas_login_locked_total", Help: "Logins rejected by an active lockout."},
	{ID: auctoritas.MetricLoginMFARequired, Name: "auctoritas_login_mfa_required_total", Help: "Logins answered with an MFA challenge."},
	{ID: auctoritas.MetricRefreshSuccess, Name: "auctoritas_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: auctoritas.MetricRefreshFailure, Name: "auctoritas_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: auctoritas.MetricRefreshReplay, Name: "auctoritas_refresh_replay_total", Help: "Refreshes presenting a rotated or revoked token."},
	{ID: auctoritas.MetricRateLimited, Name: "auctoritas_rate_limited_total", Help: "Requests denied by the distributed throttle."},
	{ID: auctoritas.MetricSessionCreated, Name: "auctoritas_session_created_total", Help: "Created sessions."},
	{ID: auctoritas.MetricLogout, Name: "auctoritas_logout_total", Help: "Single-session logouts."},
	{ID: auctoritas.MetricLogoutAll, Name: "auctoritas_logout_all_total", Help: "Logout-all operations."},
	{ID: auctoritas.MetricMFASetup, Name: "auctoritas_mfa_setup_total", Help: "Started MFA enrollments."},
	{ID: auctoritas.MetricMFAEnabled, Name: "auctoritas_mfa_enabled_total", Help: "Confirmed MFA enrollments."},
	{ID: auctoritas.MetricMFADisabled, Name: "auctoritas_mfa_disabled_total", Help: "Disabled MFA enrollments."},
	{ID: auctoritas.MetricMFAChallengeSuccess, Name: "auctoritas_mfa_challenge_success_total", Help: "Completed MFA challenges."},
	{ID: auctoritas.MetricMFAChallengeFailure, Name: "auctoritas_mfa_challenge_failure_total", Help: "Failed MFA challenge attempts."},
	{ID: auctoritas.MetricRecoveryCodeUsed, Name: "auctoritas_recovery_code_used_total", Help: "Consumed recovery codes."},
	{ID: auctoritas.MetricRecoveryCodesRegenerated, Name: "auctoritas_recovery_codes_regenerated_total", Help: "Recovery code set regenerations."},
	{ID: auctoritas.MetricOAuthAuthorizationCreated, Name: "auctoritas_oauth_authorization_created_total", Help: "Created OAuth authorization requests."},
	{ID: auctoritas.MetricOAuthCallbackSuccess, Name: "auctoritas_oauth_callback_success_total", Help: "Resolved OAuth callbacks."},
	{ID: auctoritas.MetricOAuthCallbackFailure, Name: "auctoritas_oauth_callback_failure_total", Help: "Rejected OAuth callbacks."},
	{ID: auctoritas.MetricOAuthProviderFailure, Name: "auctoritas_oauth_provider_failure_total", Help: "Failed provider code exchanges."},
	{ID: auctoritas.MetricOAuthPrincipalCreated, Name: "auctoritas_oauth_principal_created_total", Help: "Principals created through OAuth."},
	{ID: auctoritas.MetricOAuthExchangeSuccess, Name: "auctoritas_oauth_exchange_success_total", Help: "Redeemed exchange codes."},
	{ID: auctoritas.MetricOAuthExchangeFailure, Name: "auctoritas_oauth_exchange_failure_total", Help: "Rejected exchange codes."},
	{ID: auctoritas.MetricRegisterSuccess, Name: "auctoritas_register_success_total", Help: "Registered principals."},
	{ID: auctoritas.MetricRegisterDuplicate, Name: "auctoritas_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: auctoritas.MetricPasswordResetRequest, Name: "auctoritas_password_reset_request_total", Help: "Issued password reset credentials."},
	{ID: auctoritas.MetricPasswordResetSuccess, Name: "auctoritas_password_reset_success_total", Help: "Completed password resets."},
	{ID: auctoritas.MetricPasswordResetFailure, Name: "auctoritas_password_reset_failure_total", Help: "Rejected password resets."},
	{ID: auctoritas.MetricPasswordChangeSuccess, Name: "auctoritas_password_change_success_total", Help: "Completed password changes."},
	{ID: auctoritas.MetricPasswordChangeFailure, Name: "auctoritas_password_change_failure_total", Help: "Rejected password changes."},
	{ID: auctoritas.MetricVerificationRequest, Name: "auctoritas_verification_request_total", Help: "Issued email verification credentials."},
	{ID: auctoritas.MetricVerificationSuccess, Name: "auctoritas_verification_success_total", Help: "Verified email addresses."},
	{ID: auctoritas.MetricVerificationFailure, Name: "auctoritas_verification_failure_total", Help: "Rejected email verifications."},
	{ID: auctoritas.MetricAccessTokenValid, Name: "auctoritas_access_token_valid_total", Help: "Accepted access tokens."},
	{ID: auctoritas.MetricAccessTokenRejected, Name: "auctoritas_access_token_rejected_total", Help: "Rejected access tokens."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: auctoritas.MetricValidateLatency, Name: "auctoritas_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The last
// engine bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native
// histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
