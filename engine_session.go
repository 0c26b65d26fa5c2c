package auctoritas

import (
	"context"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/jwt"
	"github.com/auctoritas/auctoritas/store"
)

// Login verifies an email and password. When the principal has MFA enabled
// the result carries a challenge token instead of tokens; complete it with
// [Engine.CompleteMFAChallenge] or [Engine.CompleteMFAWithRecoveryCode].
//
// An unknown email and a wrong password both return ErrInvalidCredentials.
// Repeated failures lock the principal (ErrAccountLocked) for the lockout
// window, during which even the correct password is refused.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return nil, err
	}
	kind, ok := kindOrDefault(req.Kind)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	email := flows.NormalizeEmail(req.Email)
	ip := clientIPFromContext(ctx)

	if err := e.throttled("login", e.throttle.CheckLogin(ctx, t.ID, email, ip)); err != nil {
		return nil, err
	}

	var res flows.LoginResult
	err = e.withinTx(ctx, "login", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunLogin(ctx, tx, flows.LoginRequest{
			Tenant:   t,
			Kind:     kind,
			Email:    email,
			Password: req.Password,
			Client:   e.client(ctx),
		}, e.deps)
		return res.Events, err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrAccountLocked):
			e.metrics.Inc(MetricLoginLocked)
			e.record("login", e.throttle.RecordLoginFailure(ctx, t.ID, email, ip))
		case errors.Is(err, ErrInvalidCredentials):
			e.metrics.Inc(MetricLoginFailure)
			e.record("login", e.throttle.RecordLoginFailure(ctx, t.ID, email, ip))
		default:
			e.metrics.Inc(MetricLoginFailure)
		}
		return nil, err
	}
	e.record("login", e.throttle.ResetLogin(ctx, t.ID, email))

	out := &LoginResult{
		PrincipalID:        res.PrincipalID,
		MFARequired:        res.MFARequired,
		ChallengeToken:     res.ChallengeToken,
		ChallengeExpiresAt: res.ChallengeExpiresAt,
		MFASetupRequired:   res.MFASetupRequired,
	}
	if res.MFARequired {
		e.metrics.Inc(MetricLoginMFARequired)
		return out, nil
	}
	out.Tokens = tokensFrom(*res.Tokens)
	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	return out, nil
}

// Refresh rotates a refresh token. The presented token is revoked in the
// same transaction that stores its successor, so of two concurrent calls
// with one token exactly one succeeds and the other gets
// ErrRefreshTokenRevoked.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.throttled("refresh", e.throttle.Refresh(ctx, t.ID, clientIPFromContext(ctx))); err != nil {
		return nil, err
	}

	var res flows.RefreshResult
	err = e.withinTx(ctx, "refresh", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunRefresh(ctx, tx, flows.RefreshRequest{
			TenantID:     t.ID,
			RefreshToken: refreshToken,
			Client:       e.client(ctx),
		}, e.deps)
		return res.Events, err
	})
	if err != nil {
		e.metrics.Inc(MetricRefreshFailure)
		if errors.Is(err, ErrRefreshTokenRevoked) {
			e.metrics.Inc(MetricRefreshReplay)
			e.logger.Warn("revoked refresh token presented", zap.String("tenant_id", t.ID))
		}
		return nil, err
	}
	e.metrics.Inc(MetricRefreshSuccess)
	return &RefreshResult{PrincipalID: res.PrincipalID, Tokens: tokensFrom(res.Tokens)}, nil
}

// Logout revokes the presented refresh token and ends its session. Access
// tokens already issued stay valid until they expire.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return err
	}
	err = e.withinTx(ctx, "logout", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		if refreshToken == "" {
			return nil, ErrInvalidRefreshToken
		}
		return flows.RunLogout(ctx, tx, flows.LogoutRequest{TenantID: t.ID, RefreshToken: refreshToken}, e.deps)
	})
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricLogout)
	return nil
}

// LogoutAll revokes every refresh token and session of a principal.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return err
	}
	err = e.withinTx(ctx, "logout_all", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		return flows.RunLogoutAll(ctx, tx, t.ID, principalID, e.deps)
	})
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricLogoutAll)
	return nil
}

// ValidateAccessToken checks signature, issuer and expiry. No store lookup
// is made, so revocation takes effect when the token expires. When the
// context carries a tenant, a token of another tenant is rejected.
func (e *Engine) ValidateAccessToken(ctx context.Context, token string) (*AccessClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	claims, status, err := e.jwtManager.Validate(token)
	switch status {
	case jwt.StatusValid:
	case jwt.StatusExpired:
		e.metrics.Inc(MetricAccessTokenRejected)
		return nil, ErrAccessTokenExpired
	default:
		e.metrics.Inc(MetricAccessTokenRejected)
		e.logger.Debug("access token rejected", zap.Error(err))
		return nil, ErrInvalidAccessToken
	}
	if tenantID, ok := tenantIDFromContext(ctx); ok && tenantID != claims.TenantID {
		e.metrics.Inc(MetricAccessTokenRejected)
		return nil, ErrInvalidAccessToken
	}

	e.metrics.Inc(MetricAccessTokenValid)
	out := &AccessClaims{
		TenantID:      claims.TenantID,
		PrincipalID:   claims.PrincipalID,
		PrincipalKind: PrincipalKind(claims.PrincipalKind),
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Role:          claims.Role,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// JWKS returns the public keys that verify access tokens.
func (e *Engine) JWKS() jose.JSONWebKeySet {
	if e == nil {
		return jose.JSONWebKeySet{}
	}
	return e.jwtManager.JWKS()
}
