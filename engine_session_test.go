package auctoritas

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/auctoritas/auctoritas/tenant"
)

func TestLoginRefreshLogout(t *testing.T) {
	env := newTestEnv(t)
	id := env.register(t, "Alice@Example.com")

	res := env.login(t, "alice@example.com")
	if res.MFARequired || res.Tokens == nil {
		t.Fatalf("expected tokens, got %+v", res)
	}
	if res.PrincipalID != id {
		t.Fatalf("expected principal %s, got %s", id, res.PrincipalID)
	}

	claims, err := env.engine.ValidateAccessToken(tenantCtx(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.PrincipalID != id || claims.TenantID != testTenant || claims.PrincipalKind != PrincipalEndUser {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Role != "" {
		t.Fatalf("end users carry no role, got %q", claims.Role)
	}

	rotated, err := env.engine.Refresh(tenantCtx(), res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.Tokens.RefreshToken == res.Tokens.RefreshToken {
		t.Fatal("expected a new refresh token")
	}
	if rotated.Tokens.SessionID != res.Tokens.SessionID {
		t.Fatal("expected rotation to keep the session")
	}

	_, err = env.engine.Refresh(tenantCtx(), res.Tokens.RefreshToken)
	wantCode(t, err, ErrRefreshTokenRevoked)

	if err := env.engine.Logout(tenantCtx(), rotated.Tokens.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err = env.engine.Refresh(tenantCtx(), rotated.Tokens.RefreshToken)
	wantCode(t, err, ErrRefreshTokenRevoked)

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricRefreshReplay] != 2 {
		t.Fatalf("expected 2 replays, got %d", snap.Counters[MetricRefreshReplay])
	}
}

func TestLoginUnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")

	_, errUnknown := env.engine.Login(tenantCtx(), LoginRequest{Email: "nobody@example.com", Password: testPassword})
	_, errWrong := env.engine.Login(tenantCtx(), LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"})
	wantCode(t, errUnknown, ErrInvalidCredentials)
	wantCode(t, errWrong, ErrInvalidCredentials)
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("expected identical errors, got %q and %q", errUnknown, errWrong)
	}
}

func TestLoginKindsAreSeparate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")

	_, err := env.engine.Login(tenantCtx(), LoginRequest{Kind: PrincipalOrgMember, Email: "alice@example.com", Password: testPassword})
	wantCode(t, err, ErrInvalidCredentials)

	_, err = env.engine.Login(tenantCtx(), LoginRequest{Kind: "robot", Email: "alice@example.com", Password: testPassword})
	wantCode(t, err, ErrInvalidCredentials)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	ctx := tenantCtx()

	var last error
	for i := 0; i < 5; i++ {
		_, last = env.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"})
	}
	wantCode(t, last, ErrAccountLocked)

	// The lockout survives the failed transaction: the counter was committed.
	_, err := env.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword})
	wantCode(t, err, ErrAccountLocked)

	env.clock.Advance(16 * time.Minute)
	env.login(t, "alice@example.com")

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginLocked] != 2 {
		t.Fatalf("expected 2 locked logins, got %d", snap.Counters[MetricLoginLocked])
	}
}

func TestTenantLockoutOverride(t *testing.T) {
	env := newTestEnv(t, withTenant(func(s *tenant.Settings) {
		s.Lockout = &tenant.Lockout{MaxAttempts: 2, WindowSeconds: 60}
	}))
	env.register(t, "alice@example.com")

	_, _ = env.engine.Login(tenantCtx(), LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"})
	_, err := env.engine.Login(tenantCtx(), LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"})
	wantCode(t, err, ErrAccountLocked)

	env.clock.Advance(2 * time.Minute)
	env.login(t, "alice@example.com")
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	refresh := env.login(t, "alice@example.com").Tokens.RefreshToken

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Refresh(tenantCtx(), refresh)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success, revoked := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrRefreshTokenRevoked):
			revoked++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if success != 1 || revoked != n-1 {
		t.Fatalf("expected 1 success and %d revoked, got %d and %d", n-1, success, revoked)
	}
}

func TestRefreshRejectsOtherTenant(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	refresh := env.login(t, "alice@example.com").Tokens.RefreshToken

	_, err := env.engine.Refresh(WithTenantID(context.Background(), otherTenant), refresh)
	wantCode(t, err, ErrInvalidRefreshToken)

	if _, err := env.engine.Refresh(tenantCtx(), refresh); err != nil {
		t.Fatalf("expected token still usable by its tenant: %v", err)
	}
}

func TestRefreshExpired(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	refresh := env.login(t, "alice@example.com").Tokens.RefreshToken

	env.clock.Advance(31 * 24 * time.Hour)
	_, err := env.engine.Refresh(tenantCtx(), refresh)
	wantCode(t, err, ErrRefreshTokenExpired)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	env := newTestEnv(t)
	id := env.register(t, "alice@example.com")
	first := env.login(t, "alice@example.com").Tokens.RefreshToken
	second := env.login(t, "alice@example.com").Tokens.RefreshToken

	if err := env.engine.LogoutAll(tenantCtx(), id); err != nil {
		t.Fatalf("logout all: %v", err)
	}
	for _, rt := range []string{first, second} {
		_, err := env.engine.Refresh(tenantCtx(), rt)
		wantCode(t, err, ErrRefreshTokenRevoked)
	}
}

func TestMaxSessionsEvictsOldest(t *testing.T) {
	env := newTestEnv(t, withTenant(func(s *tenant.Settings) {
		s.MaxSessions = 2
	}))
	env.register(t, "alice@example.com")

	var tokens []string
	for i := 0; i < 3; i++ {
		tokens = append(tokens, env.login(t, "alice@example.com").Tokens.RefreshToken)
		env.clock.Advance(time.Second)
	}

	_, err := env.engine.Refresh(tenantCtx(), tokens[0])
	wantCode(t, err, ErrRefreshTokenRevoked)
	for _, rt := range tokens[1:] {
		if _, err := env.engine.Refresh(tenantCtx(), rt); err != nil {
			t.Fatalf("expected newer session alive: %v", err)
		}
	}
}

func TestValidateAccessTokenRejections(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	access := env.login(t, "alice@example.com").Tokens.AccessToken

	_, err := env.engine.ValidateAccessToken(tenantCtx(), access+"x")
	wantCode(t, err, ErrInvalidAccessToken)

	_, err = env.engine.ValidateAccessToken(WithTenantID(context.Background(), otherTenant), access)
	wantCode(t, err, ErrInvalidAccessToken)

	if _, err := env.engine.ValidateAccessToken(context.Background(), access); err != nil {
		t.Fatalf("expected token valid without tenant scope: %v", err)
	}

	if keys := env.engine.JWKS(); len(keys.Keys) == 0 || keys.Keys[0].KeyID != "test" {
		t.Fatalf("unexpected jwks %+v", keys)
	}
}

func TestOrgMemberCarriesRole(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.engine.Register(tenantCtx(), RegisterRequest{Kind: PrincipalOrgMember, Email: "ops@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("expected tokens on registration")
	}
	claims, err := env.engine.ValidateAccessToken(tenantCtx(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Role != "member" || claims.PrincipalKind != PrincipalOrgMember {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestOrgMemberSignUpGetsConfiguredRole(t *testing.T) {
	env := newTestEnv(t, withConfig(func(c *Config) {
		c.Session.DefaultMemberRole = "viewer"
	}))
	res, err := env.engine.Register(tenantCtx(), RegisterRequest{Kind: PrincipalOrgMember, Email: "ops@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	claims, err := env.engine.ValidateAccessToken(tenantCtx(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Role != "viewer" {
		t.Fatalf("expected configured role, got %q", claims.Role)
	}
}

func TestUnverifiedLoginClaimsTrackStoredFlag(t *testing.T) {
	env := newTestEnv(t)
	reg, err := env.engine.Register(tenantCtx(), RegisterRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	res := env.login(t, "alice@example.com")
	claims, err := env.engine.ValidateAccessToken(tenantCtx(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.EmailVerified {
		t.Fatal("expected unverified claim before verification")
	}

	if err := env.engine.VerifyEmail(tenantCtx(), reg.Verification.Token); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	res = env.login(t, "alice@example.com")
	claims, err = env.engine.ValidateAccessToken(tenantCtx(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !claims.EmailVerified {
		t.Fatal("expected verified claim after verification")
	}
}

func TestLoginThrottledByIdentifier(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t, withRedis(mr), withConfig(func(c *Config) {
		c.Throttle.LoginPerIdentifier = RateWindow{Max: 2, Period: time.Minute}
	}))
	env.register(t, "alice@example.com")

	for i := 0; i < 2; i++ {
		_, err := env.engine.Login(tenantCtx(), LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"})
		wantCode(t, err, ErrInvalidCredentials)
	}
	_, err := env.engine.Login(tenantCtx(), LoginRequest{Email: "alice@example.com", Password: testPassword})
	wantCode(t, err, ErrRateLimited)

	if got := env.engine.MetricsSnapshot().Counters[MetricRateLimited]; got != 1 {
		t.Fatalf("expected 1 rate limited, got %d", got)
	}
}

func TestThrottleFailsOpenWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	env := newTestEnv(t, withRedis(mr))
	env.register(t, "alice@example.com")
	mr.Close()

	env.login(t, "alice@example.com")
}

func TestSweepRemovesExpired(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	env.login(t, "alice@example.com")

	env.clock.Advance(31 * 24 * time.Hour)
	res, err := env.engine.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Total() == 0 {
		t.Fatalf("expected expired rows removed, got %+v", res)
	}
}
