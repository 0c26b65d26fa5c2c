package flows

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/auctoritas/auctoritas/internal"
	"github.com/auctoritas/auctoritas/internal/limiters"
	"github.com/auctoritas/auctoritas/oauth"
	"github.com/auctoritas/auctoritas/password"
	"github.com/auctoritas/auctoritas/secret"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/store/memory"
	"github.com/auctoritas/auctoritas/tenant"
)

const validTOTP = "424242"

var (
	errInvalidCredentials = errors.New("invalid_credentials")
	errAccountLocked      = errors.New("account_locked")
	errEmailNotVerified   = errors.New("email_not_verified")
	errPrincipalNotFound  = errors.New("principal_not_found")
	errInvalidRefresh     = errors.New("invalid_refresh_token")
	errRefreshRevoked     = errors.New("refresh_token_revoked")
	errRefreshExpired     = errors.New("refresh_token_expired")
	errMFAAlreadySetup    = errors.New("mfa_already_setup")
	errMFAAlreadyEnabled  = errors.New("mfa_already_enabled")
	errMFANotSetup        = errors.New("mfa_not_setup")
	errMFANotEnabled      = errors.New("mfa_not_enabled")
	errTOTPInvalid        = errors.New("totp_code_invalid")
	errRecoveryMissing    = errors.New("recovery_codes_missing")
	errChallengeNotFound  = errors.New("mfa_challenge_not_found")
	errChallengeExpired   = errors.New("mfa_challenge_expired")
	errChallengeUsed      = errors.New("mfa_challenge_already_used")
	errChallengeProject   = errors.New("mfa_challenge_invalid_project")
	errRecoveryInvalid    = errors.New("recovery_code_invalid")
	errRedirectInvalid    = errors.New("oauth_redirect_uri_invalid")
	errRedirectNotAllowed = errors.New("oauth_redirect_uri_not_allowed")
	errStateInvalid       = errors.New("oauth_state_invalid")
	errStateExpired       = errors.New("oauth_state_expired")
	errProviderInvalid    = errors.New("oauth_provider_invalid")
	errEmailRequired      = errors.New("oauth_email_required")
	errUnverifiedConflict = errors.New("oauth_email_unverified_conflict")
	errLinkConflict       = errors.New("oauth_link_conflict")
	errInvalidOAuthCode   = errors.New("invalid_oauth_code")
	errInvalidReset       = errors.New("invalid_reset_token")
	errResetUsed          = errors.New("reset_token_used")
	errResetExpired       = errors.New("reset_token_expired")
	errPolicy             = errors.New("password_policy_failed")
	errReuse              = errors.New("password_reuse_not_allowed")
	errInvalidVerify      = errors.New("invalid_verification_token")
	errVerifyUsed         = errors.New("verification_token_used")
	errVerifyExpired      = errors.New("verification_token_expired")
	errVerifyCode         = errors.New("verification_code_invalid")
	errEmailTaken         = errors.New("email_already_registered")
	errInvalidEmail       = errors.New("invalid_email")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// plainHasher keeps tests fast; the argon2 hasher has its own tests.
type plainHasher struct{}

func (plainHasher) Hash(pw string) (string, error) { return "plain$" + pw, nil }

func (plainHasher) Verify(pw, hash string) (bool, error) {
	if !strings.HasPrefix(hash, "plain$") {
		return false, errors.New("unknown hash")
	}
	return hash == "plain$"+pw, nil
}

type fixedTOTP struct{}

func (fixedTOTP) GenerateSecret() ([]byte, string, error) {
	return []byte("0123456789abcdefghij"), "GAYTEMZUGU3DOOBZMFRGGZDFMZTWQ2LK", nil
}

func (fixedTOTP) ProvisionURI(secretBase32, account string) string {
	return "otpauth://totp/test:" + account + "?secret=" + secretBase32
}

type fakeProvider struct {
	name  string
	info  oauth.UserInfo
	calls atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(creds oauth.Credentials, callbackURI, state, verifier string) (string, error) {
	return "https://idp.example/authorize?client_id=" + creds.ClientID + "&state=" + state, nil
}

func (p *fakeProvider) Exchange(context.Context, oauth.Credentials, string, string, string) (*oauth.UserInfo, error) {
	p.calls.Add(1)
	info := p.info
	return &info, nil
}

type providerMap map[string]oauth.Provider

func (m providerMap) Get(name string) (oauth.Provider, error) {
	p, ok := m[name]
	if !ok {
		return nil, oauth.ErrUnknownProvider
	}
	return p, nil
}

type harness struct {
	t      *testing.T
	st     *memory.Store
	clock  *testClock
	deps   Deps
	tenant *tenant.Settings
	google *fakeProvider

	// wrapTx, when set, decorates every transaction run hands out.
	wrapTx func(store.Tx) store.Tx
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cipher, err := secret.New("k1", map[string][]byte{"k1": key})
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	var ids, steps atomic.Int64
	google := &fakeProvider{name: oauth.Google}

	h := &harness{
		t:     t,
		st:    memory.New(),
		clock: clock,
		tenant: &tenant.Settings{
			ID:   "tenant-a",
			Name: "Tenant A",
			OAuth: tenant.OAuth{
				RedirectURIs: []string{"https://app.example/callback"},
				Providers: map[string]tenant.Provider{
					oauth.Google: {Enabled: true, ClientID: "cid", ClientSecret: "csecret"},
				},
			},
		},
		google: google,
	}
	h.deps = Deps{
		Now:         clock.Now,
		NewID:       func() string { return "id-" + strconv.FormatInt(ids.Add(1), 10) },
		NewToken:    func() (string, error) { return internal.NewOpaqueToken(32) },
		NewOTP:      func() (string, error) { return internal.NewOTP(6) },
		NewRecovery: func() (string, error) { return internal.NewRecoveryCode(10) },
		HashToken:   internal.HashToken,
		Hasher:      plainHasher{},
		Cipher:      cipher,
		TOTP:        fixedTOTP{},
		VerifyTOTP: func(_ []byte, code string) (int64, bool) {
			if code != validTOTP {
				return 0, false
			}
			return steps.Add(1), true
		},
		MintAccess: func(p *store.Principal, sessionID string) (string, time.Time, error) {
			exp := clock.Now().Add(15 * time.Minute)
			return "access." + p.ID + "." + sessionID + "." + strconv.FormatBool(p.EmailVerified), exp, nil
		},
		Providers:     providerMap{oauth.Google: google},
		Errors:        testErrors(),
		Resend:        limiters.NewResend(limiters.ResendConfig{}),
		Lockout:       limiters.LockoutConfig{MaxAttempts: 5, Window: 15 * time.Minute},
		Policy:        password.DefaultPolicy(),
		MaxSessions:   5,
		RecoveryCodes: 10,

		MaxCodeAttempts: 3,

		RefreshTTL:              30 * 24 * time.Hour,
		MFAChallengeTTL:         5 * time.Minute,
		AuthorizationRequestTTL: 10 * time.Minute,
		ExchangeCodeTTL:         time.Minute,
		ResetTTL:                time.Hour,
		VerificationTTL:         24 * time.Hour,
		ExchangeCodeParam:       "auctoritas_code",
	}
	return h
}

func testErrors() Errors {
	return Errors{
		InvalidCredentials:           errInvalidCredentials,
		AccountLocked:                errAccountLocked,
		EmailNotVerified:             errEmailNotVerified,
		PrincipalNotFound:            errPrincipalNotFound,
		InvalidRefreshToken:          errInvalidRefresh,
		RefreshTokenRevoked:          errRefreshRevoked,
		RefreshTokenExpired:          errRefreshExpired,
		MFAAlreadySetup:              errMFAAlreadySetup,
		MFAAlreadyEnabled:            errMFAAlreadyEnabled,
		MFANotSetup:                  errMFANotSetup,
		MFANotEnabled:                errMFANotEnabled,
		TOTPCodeInvalid:              errTOTPInvalid,
		RecoveryCodesMissing:         errRecoveryMissing,
		MFAChallengeNotFound:         errChallengeNotFound,
		MFAChallengeExpired:          errChallengeExpired,
		MFAChallengeAlreadyUsed:      errChallengeUsed,
		MFAChallengeInvalidProject:   errChallengeProject,
		RecoveryCodeInvalid:          errRecoveryInvalid,
		OAuthRedirectURIInvalid:      errRedirectInvalid,
		OAuthRedirectURINotAllowed:   errRedirectNotAllowed,
		OAuthProviderNotConfigured:   func(p string) error { return errors.New("oauth_" + p + "_not_configured") },
		OAuthStateInvalid:            errStateInvalid,
		OAuthStateExpired:            errStateExpired,
		OAuthProviderInvalid:         errProviderInvalid,
		OAuthEmailRequired:           errEmailRequired,
		OAuthEmailUnverifiedConflict: errUnverifiedConflict,
		OAuthLinkConflict:            errLinkConflict,
		InvalidOAuthCode:             errInvalidOAuthCode,
		InvalidResetToken:            errInvalidReset,
		ResetTokenUsed:               errResetUsed,
		ResetTokenExpired:            errResetExpired,
		PasswordPolicyFailed:         errPolicy,
		PasswordReuseNotAllowed:      errReuse,
		InvalidVerificationToken:     errInvalidVerify,
		VerificationTokenUsed:        errVerifyUsed,
		VerificationTokenExpired:     errVerifyExpired,
		VerificationCodeInvalid:      errVerifyCode,
		EmailAlreadyRegistered:       errEmailTaken,
		InvalidEmail:                 errInvalidEmail,
	}
}

// run executes fn in one transaction, committing domain failures and
// rolling back aborted ones the way the Engine does.
func (h *harness) run(fn func(ctx context.Context, tx store.Tx) error) error {
	var flowErr error
	err := h.st.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if h.wrapTx != nil {
			tx = h.wrapTx(tx)
		}
		flowErr = fn(ctx, tx)
		if Aborted(flowErr) {
			return flowErr
		}
		return nil
	})
	if flowErr != nil {
		return flowErr
	}
	return err
}

func (h *harness) addPrincipal(email, pw string, verified bool) *store.Principal {
	h.t.Helper()
	now := h.clock.Now()
	p := &store.Principal{
		ID:            h.deps.NewID(),
		TenantID:      h.tenant.ID,
		Kind:          store.KindEndUser,
		Email:         email,
		EmailVerified: verified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if pw != "" {
		p.PasswordHash, _ = plainHasher{}.Hash(pw)
	}
	if err := h.run(func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPrincipal(ctx, p)
	}); err != nil {
		h.t.Fatalf("insert principal: %v", err)
	}
	return p
}

func (h *harness) principal(id string) store.Principal {
	h.t.Helper()
	var out store.Principal
	if err := h.run(func(ctx context.Context, tx store.Tx) error {
		p, err := tx.FindPrincipalByID(ctx, h.tenant.ID, id)
		if err != nil {
			return err
		}
		out = *p
		return nil
	}); err != nil {
		h.t.Fatalf("load principal: %v", err)
	}
	return out
}

func (h *harness) login(email, pw string) (LoginResult, error) {
	var res LoginResult
	err := h.run(func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunLogin(ctx, tx, LoginRequest{
			Tenant:   h.tenant,
			Kind:     store.KindEndUser,
			Email:    email,
			Password: pw,
			Client:   Client{IPAddress: "203.0.113.7", UserAgent: "test"},
		}, h.deps)
		return err
	})
	return res, err
}

func (h *harness) refresh(token string) (RefreshResult, error) {
	var res RefreshResult
	err := h.run(func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunRefresh(ctx, tx, RefreshRequest{TenantID: h.tenant.ID, RefreshToken: token}, h.deps)
		return err
	})
	return res, err
}

func (h *harness) enableMFA(p *store.Principal) MFASetup {
	h.t.Helper()
	var setup MFASetup
	req := PrincipalRequest{TenantID: p.TenantID, PrincipalID: p.ID, Code: validTOTP}
	if err := h.run(func(ctx context.Context, tx store.Tx) error {
		var err error
		setup, err = RunSetupMFA(ctx, tx, req, h.deps)
		return err
	}); err != nil {
		h.t.Fatalf("setup mfa: %v", err)
	}
	if err := h.run(func(ctx context.Context, tx store.Tx) error {
		_, err := RunVerifyMFA(ctx, tx, req, h.deps)
		return err
	}); err != nil {
		h.t.Fatalf("verify mfa: %v", err)
	}
	return setup
}

func (h *harness) complete(token, code string, recovery bool) (ChallengeResult, error) {
	var res ChallengeResult
	err := h.run(func(ctx context.Context, tx store.Tx) error {
		var err error
		res, err = RunCompleteChallenge(ctx, tx, ChallengeRequest{
			Tenant:         h.tenant,
			ChallengeToken: token,
			Code:           code,
			Recovery:       recovery,
		}, h.deps)
		return err
	})
	return res, err
}
