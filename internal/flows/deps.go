package flows

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal/limiters"
	"github.com/auctoritas/auctoritas/oauth"
	"github.com/auctoritas/auctoritas/password"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// PasswordHasher hashes and verifies passwords. Implementations that also
// provide VerifyDummy(string) and NeedsRehash(string) (bool, error) get
// timing equalization for unknown accounts and transparent rehashing.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
}

type dummyVerifier interface {
	VerifyDummy(password string)
}

type rehashChecker interface {
	NeedsRehash(encodedHash string) (bool, error)
}

// SecretCipher seals TOTP seeds at rest.
type SecretCipher interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(envelope string) ([]byte, error)
}

// TOTPGenerator creates seeds and provisioning URIs.
type TOTPGenerator interface {
	GenerateSecret() ([]byte, string, error)
	ProvisionURI(secretBase32, account string) string
}

// ProviderLookup resolves an OAuth provider by name.
type ProviderLookup interface {
	Get(name string) (oauth.Provider, error)
}

// Client describes the caller of a session-issuing request.
type Client struct {
	IPAddress string
	UserAgent string
}

// Tokens is the credential pair produced by the ledger.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
}

// Errors carries the host-level sentinels returned by the flows.
type Errors struct {
	InvalidCredentials error
	AccountLocked      error
	EmailNotVerified   error
	PrincipalNotFound  error

	InvalidRefreshToken error
	RefreshTokenRevoked error
	RefreshTokenExpired error

	MFAAlreadySetup            error
	MFAAlreadyEnabled          error
	MFANotSetup                error
	MFANotEnabled              error
	TOTPCodeInvalid            error
	RecoveryCodesMissing       error
	MFAChallengeNotFound       error
	MFAChallengeExpired        error
	MFAChallengeAlreadyUsed    error
	MFAChallengeInvalidProject error
	RecoveryCodeInvalid        error

	OAuthRedirectURIInvalid      error
	OAuthRedirectURINotAllowed   error
	OAuthProviderNotConfigured   func(provider string) error
	OAuthStateInvalid            error
	OAuthStateExpired            error
	OAuthProviderInvalid         error
	OAuthEmailRequired           error
	OAuthEmailUnverifiedConflict error
	OAuthLinkConflict            error
	InvalidOAuthCode             error

	InvalidResetToken        error
	ResetTokenUsed           error
	ResetTokenExpired        error
	PasswordPolicyFailed     error
	PasswordReuseNotAllowed  error
	InvalidVerificationToken error
	VerificationTokenUsed    error
	VerificationTokenExpired error
	VerificationCodeInvalid  error
	EmailAlreadyRegistered   error
	InvalidEmail             error
}

// Deps captures everything the flows need. The Engine builds it once.
type Deps struct {
	Now           func() time.Time
	NewID         func() string
	NewToken      func() (string, error)
	NewOTP        func() (string, error)
	NewRecovery   func() (string, error)
	HashToken     func(string) string
	Hasher        PasswordHasher
	Cipher        SecretCipher
	TOTP          TOTPGenerator
	VerifyTOTP    func(secret []byte, code string) (counter int64, ok bool)
	MintAccess    func(p *store.Principal, sessionID string) (string, time.Time, error)
	Providers     ProviderLookup
	Logger        *zap.Logger
	Errors        Errors
	Resend        limiters.Resend
	Lockout       limiters.LockoutConfig
	Policy        password.Policy
	MaxSessions   int
	RecoveryCodes int

	// MaxCodeAttempts is the number of wrong numeric codes that burns a
	// reset or verification token. Zero means 5.
	MaxCodeAttempts int

	RefreshTTL              time.Duration
	MFAChallengeTTL         time.Duration
	AuthorizationRequestTTL time.Duration
	ExchangeCodeTTL         time.Duration
	ResetTTL                time.Duration
	VerificationTTL         time.Duration
	ExchangeCodeParam       string
}

// AbortError marks a domain failure whose transaction must roll back.
type AbortError struct {
	Err error
}

func (e *AbortError) Error() string { return e.Err.Error() }

func (e *AbortError) Unwrap() error { return e.Err }

// Abort wraps err so the Engine discards the writes made before it.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &AbortError{Err: err}
}

// Aborted reports whether err was produced by Abort.
func Aborted(err error) bool {
	var ab *AbortError
	return errors.As(err, &ab)
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (d *Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Deps) event(typ, tenantID, principalID, sessionID string, data map[string]string) events.Event {
	return events.Event{
		ID:          d.NewID(),
		Type:        typ,
		OccurredAt:  d.Now(),
		TenantID:    tenantID,
		PrincipalID: principalID,
		SessionID:   sessionID,
		Data:        data,
	}
}

func (d *Deps) lockoutFor(t *tenant.Settings) limiters.Lockout {
	cfg := d.Lockout
	if t != nil && t.Lockout != nil {
		if t.Lockout.MaxAttempts > 0 {
			cfg.MaxAttempts = t.Lockout.MaxAttempts
		}
		if t.Lockout.WindowSeconds > 0 {
			cfg.Window = t.Lockout.Window()
		}
	}
	return limiters.NewLockout(cfg)
}

func (d *Deps) policyFor(t *tenant.Settings) password.Policy {
	if t != nil && t.Password != nil {
		return t.Password.Normalized()
	}
	return d.Policy.Normalized()
}

func (d *Deps) maxCodeAttempts() int {
	if d.MaxCodeAttempts > 0 {
		return d.MaxCodeAttempts
	}
	return 5
}

func (d *Deps) maxSessionsFor(t *tenant.Settings) int {
	if t != nil && t.MaxSessions > 0 {
		return t.MaxSessions
	}
	return d.MaxSessions
}

func lockoutState(p *store.Principal) limiters.LockoutState {
	return limiters.LockoutState{
		Attempts:    p.FailedAttempts,
		WindowStart: p.FailedWindowStart,
		LockedUntil: p.LockoutUntil,
	}
}

func applyLockoutState(p *store.Principal, s limiters.LockoutState) {
	p.FailedAttempts = s.Attempts
	p.FailedWindowStart = s.WindowStart
	p.LockoutUntil = s.LockedUntil
}

// mapLookup converts a store lookup error. A missing row becomes domainErr;
// a lock timeout becomes domainErr and forces a rollback.
func mapLookup(err, domainErr error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domainErr
	case errors.Is(err, store.ErrLockTimeout):
		return Abort(domainErr)
	default:
		return err
	}
}

// conflictAbort converts a unique-key violation into domainErr and forces a
// rollback of whatever the transaction already wrote.
func conflictAbort(err, domainErr error) error {
	if errors.Is(err, store.ErrConflict) {
		return Abort(domainErr)
	}
	return err
}
