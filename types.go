package auctoritas

import (
	"time"

	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/store"
)

// PrincipalKind separates end users from organization members. The same
// email may exist once per kind within a tenant.
type PrincipalKind = store.PrincipalKind

const (
	// PrincipalEndUser is the default kind.
	PrincipalEndUser = store.KindEndUser
	// PrincipalOrgMember carries a role claim in its access tokens.
	PrincipalOrgMember = store.KindOrgMember
)

// SweepResult counts the rows removed by [Engine.Sweep].
type SweepResult = store.SweepResult

// PasswordHasher hashes and verifies passwords. The default is argon2id.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

// SecretCipher seals TOTP seeds at rest.
type SecretCipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(envelope string) ([]byte, error)
}

// TOTPVerifier checks a TOTP code against a raw seed. The engine's own
// RFC 6238 implementation is used when none is supplied.
type TOTPVerifier interface {
	Verify(secret []byte, code string) bool
}

// TOTPCounterVerifier is a TOTPVerifier that also reports the matched time
// step. Codes are only protected against replay when the verifier implements
// it; the built-in verifier does.
type TOTPCounterVerifier interface {
	TOTPVerifier
	VerifyCounter(secret []byte, code string) (counter int64, ok bool)
}

// Tokens is an issued credential pair. The refresh token is shown once; only
// its digest is stored.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

func tokensFrom(t flows.Tokens) *Tokens {
	return &Tokens{
		AccessToken:      t.AccessToken,
		AccessExpiresAt:  t.AccessExpiresAt,
		RefreshToken:     t.RefreshToken,
		RefreshExpiresAt: t.RefreshExpiresAt,
		SessionID:        t.SessionID,
	}
}

// AccessClaims is the validated content of an access token.
type AccessClaims struct {
	TenantID      string
	PrincipalID   string
	PrincipalKind PrincipalKind
	Email         string
	EmailVerified bool
	Role          string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// LoginRequest is a password login. Kind defaults to [PrincipalEndUser].
type LoginRequest struct {
	Kind     PrincipalKind
	Email    string
	Password string
}

// LoginResult carries either Tokens or, when the principal has MFA enabled,
// a challenge token to complete with a second factor.
type LoginResult struct {
	PrincipalID string
	Tokens      *Tokens

	MFARequired        bool
	ChallengeToken     string
	ChallengeExpiresAt time.Time

	// MFASetupRequired is set when the tenant requires MFA and the principal
	// has not enabled it. Tokens are still issued.
	MFASetupRequired bool
}

// RefreshResult is a rotated pair.
type RefreshResult struct {
	PrincipalID string
	Tokens      *Tokens
}

// ChallengeResult is the pair issued after a completed MFA challenge.
type ChallengeResult struct {
	PrincipalID string
	Tokens      *Tokens
	// RemainingRecoveryCodes is only meaningful after recovery-code completion.
	RemainingRecoveryCodes int
}

// MFASetup is returned once by [Engine.SetupMFA]. None of it can be retrieved
// again.
type MFASetup struct {
	SecretBase32    string
	ProvisioningURI string
	RecoveryCodes   []string
}

// AuthorizationResult is where the browser is sent to start an OAuth login.
type AuthorizationResult struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

// CallbackRequest is the provider's redirect back to the host application.
type CallbackRequest struct {
	Provider    string
	State       string
	Code        string
	CallbackURI string
}

// CallbackResult is the app redirect carrying the single-use exchange code.
type CallbackResult struct {
	TenantID    string
	PrincipalID string
	Created     bool
	RedirectURL string
}

// ExchangeResult is the pair issued for a redeemed exchange code.
type ExchangeResult struct {
	PrincipalID string
	Provider    string
	Tokens      *Tokens
}

// OneTimeCredential is a reset or verification credential for the delivery
// collaborator: a link token and an equivalent numeric code.
type OneTimeCredential struct {
	PrincipalID string
	Email       string
	Token       string
	Code        string
	ExpiresAt   time.Time
}

func oneTimeFrom(issue flows.OneTimeIssue) *OneTimeCredential {
	if !issue.Issued {
		return nil
	}
	return &OneTimeCredential{
		PrincipalID: issue.PrincipalID,
		Email:       issue.Email,
		Token:       issue.Token,
		Code:        issue.Code,
		ExpiresAt:   issue.ExpiresAt,
	}
}

// RegisterRequest creates a password principal. Kind defaults to
// [PrincipalEndUser]. Self sign-up cannot choose a role.
type RegisterRequest struct {
	Kind     PrincipalKind
	Email    string
	Password string
	Name     string
}

// RegisterResult holds the verification credential of the new principal and,
// unless the tenant requires a verified address for login, its first session.
type RegisterResult struct {
	PrincipalID  string
	Verification *OneTimeCredential
	Tokens       *Tokens
}
