package store

import "time"

// PrincipalKind discriminates the two identities a tenant can authenticate.
type PrincipalKind string

const (
	// KindEndUser is a customer of a tenant's application.
	KindEndUser PrincipalKind = "end_user"
	// KindOrgMember is a member of the tenant organization itself and carries a role.
	KindOrgMember PrincipalKind = "org_member"
)

// Valid reports whether k is a known principal kind.
func (k PrincipalKind) Valid() bool {
	return k == KindEndUser || k == KindOrgMember
}

// Principal is an authenticated identity scoped to one tenant.
//
// The lockout window fields are owned by the failed-login guard; a zero time
// means unset.
type Principal struct {
	ID                string
	TenantID          string
	Kind              PrincipalKind
	Role              string
	Email             string
	Name              string
	PasswordHash      string
	EmailVerified     bool
	FailedAttempts    int
	FailedWindowStart time.Time
	LockoutUntil      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasPassword reports whether the principal can log in with a password.
// Principals created through OAuth linking start without one.
func (p *Principal) HasPassword() bool {
	return p != nil && p.PasswordHash != ""
}

// RefreshToken is one link of a rotation chain. Revoked is never cleared once set.
type RefreshToken struct {
	ID          string
	TokenHash   string
	PrincipalID string
	TenantID    string
	SessionID   string
	ExpiresAt   time.Time
	Revoked     bool
	RevokedAt   time.Time
	ReplacedBy  string
	CreatedAt   time.Time
}

// Session is the advisory record of a live client.
type Session struct {
	ID          string
	PrincipalID string
	TenantID    string
	DeviceInfo  string
	IPAddress   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// MFAState is the persisted state of a principal's TOTP enrollment.
// A principal without an MFASecret row is in the unset state.
type MFAState string

const (
	MFAPendingVerification MFAState = "pending_verification"
	MFAEnabled             MFAState = "enabled"
	MFADisabled            MFAState = "disabled"
)

// MFASecret holds the encrypted TOTP seed. At most one exists per principal.
// LastUsedCounter is the time step of the last accepted code; zero means none.
type MFASecret struct {
	PrincipalID     string
	TenantID        string
	EncryptedSecret string
	State           MFAState
	LastUsedCounter int64
	CreatedAt       time.Time
	EnabledAt       time.Time
}

// RecoveryCode is a single-use backup credential stored as a digest.
type RecoveryCode struct {
	ID          string
	PrincipalID string
	CodeHash    string
	UsedAt      time.Time
	CreatedAt   time.Time
}

// MFAChallenge gates session issuance after a successful password check.
type MFAChallenge struct {
	ID          string
	TokenHash   string
	PrincipalID string
	TenantID    string
	ExpiresAt   time.Time
	UsedAt      time.Time
	CreatedAt   time.Time
}

// OAuthAuthorizationRequest tracks one in-flight provider redirect.
type OAuthAuthorizationRequest struct {
	ID             string
	TenantID       string
	Provider       string
	StateHash      string
	CodeVerifier   string
	AppRedirectURI string
	CallbackURI    string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// OAuthExchangeCode hands a resolved principal back to the tenant application.
type OAuthExchangeCode struct {
	ID          string
	CodeHash    string
	TenantID    string
	PrincipalID string
	Provider    string
	ExpiresAt   time.Time
	UsedAt      time.Time
	CreatedAt   time.Time
}

// OAuthConnection maps a provider identity to a principal.
// (TenantID, Provider, ProviderUserID) is unique.
type OAuthConnection struct {
	ID             string
	TenantID       string
	Provider       string
	ProviderUserID string
	PrincipalID    string
	Email          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenPurpose separates the one-time token families sharing a table.
type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailVerification TokenPurpose = "email_verification"
)

// OneTimeToken is a password reset or email verification token. CodeHash is
// the digest of the short numeric code issued alongside the link token;
// Attempts counts wrong codes entered against it.
type OneTimeToken struct {
	ID          string
	Purpose     TokenPurpose
	PrincipalID string
	TenantID    string
	TokenHash   string
	CodeHash    string
	Attempts    int
	ExpiresAt   time.Time
	UsedAt      time.Time
	CreatedAt   time.Time
}

// PasswordHistoryEntry is one append-only record of a previous password hash.
type PasswordHistoryEntry struct {
	PrincipalID  string
	PasswordHash string
	CreatedAt    time.Time
}

// SweepResult reports how many rows an expiry sweep removed, per table.
type SweepResult struct {
	Sessions              int64
	RefreshTokens         int64
	MFAChallenges         int64
	AuthorizationRequests int64
	ExchangeCodes         int64
	OneTimeTokens         int64
}

// Total is the sum of all removed rows.
func (r SweepResult) Total() int64 {
	return r.Sessions + r.RefreshTokens + r.MFAChallenges + r.AuthorizationRequests + r.ExchangeCodes + r.OneTimeTokens
}
