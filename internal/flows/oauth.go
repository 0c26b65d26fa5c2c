package flows

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/oauth"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// AuthorizationRequest starts an OAuth login with provider.
type AuthorizationRequest struct {
	Tenant         *tenant.Settings
	Provider       string
	AppRedirectURI string
	CallbackURI    string
}

// AuthorizationResult is the provider redirect for the browser.
type AuthorizationResult struct {
	AuthorizationURL string
	State            string
	ExpiresAt        time.Time
}

// RunCreateAuthorizationRequest validates the redirect target and provider
// registration, then persists the state digest and PKCE verifier.
func RunCreateAuthorizationRequest(ctx context.Context, tx store.Tx, req AuthorizationRequest, deps Deps) (AuthorizationResult, error) {
	var out AuthorizationResult
	if err := ValidateRedirectURI(req.AppRedirectURI); err != nil {
		return out, deps.Errors.OAuthRedirectURIInvalid
	}
	if !req.Tenant.AllowsRedirect(req.AppRedirectURI) {
		return out, deps.Errors.OAuthRedirectURINotAllowed
	}
	if err := ValidateRedirectURI(req.CallbackURI); err != nil {
		return out, deps.Errors.OAuthRedirectURIInvalid
	}
	provider, creds, err := ResolveProvider(req.Tenant, req.Provider, deps)
	if err != nil {
		return out, err
	}

	state, err := deps.NewToken()
	if err != nil {
		return out, err
	}
	verifier := oauth2.GenerateVerifier()
	authURL, err := provider.AuthCodeURL(creds, req.CallbackURI, state, verifier)
	if err != nil {
		return out, err
	}

	now := deps.Now()
	r := &store.OAuthAuthorizationRequest{
		ID:             deps.NewID(),
		TenantID:       req.Tenant.ID,
		Provider:       provider.Name(),
		StateHash:      deps.HashToken(state),
		CodeVerifier:   verifier,
		AppRedirectURI: req.AppRedirectURI,
		CallbackURI:    req.CallbackURI,
		ExpiresAt:      now.Add(deps.AuthorizationRequestTTL),
		CreatedAt:      now,
	}
	if err := tx.InsertAuthorizationRequest(ctx, r); err != nil {
		return out, err
	}

	out.AuthorizationURL = authURL
	out.State = state
	out.ExpiresAt = r.ExpiresAt
	return out, nil
}

// CallbackRequest is the provider's redirect back to the engine.
type CallbackRequest struct {
	Provider     string
	State        string
	ProviderCode string
	CallbackURI  string
}

// RunLoadAuthorizationRequest locks and validates the request named by the
// state. An expired request is deleted. The returned copy is used for the
// provider call after this transaction ends.
func RunLoadAuthorizationRequest(ctx context.Context, tx store.Tx, req CallbackRequest, deps Deps) (*store.OAuthAuthorizationRequest, error) {
	if req.State == "" {
		return nil, deps.Errors.OAuthStateInvalid
	}
	r, err := tx.FindAuthorizationRequestByStateForUpdate(ctx, deps.HashToken(req.State))
	if err != nil {
		return nil, mapLookup(err, deps.Errors.OAuthStateInvalid)
	}
	if !deps.Now().Before(r.ExpiresAt) {
		if _, err := tx.DeleteAuthorizationRequest(ctx, r.ID); err != nil {
			return nil, err
		}
		return nil, deps.Errors.OAuthStateExpired
	}
	if r.Provider != req.Provider {
		return nil, deps.Errors.OAuthProviderInvalid
	}
	if req.CallbackURI != "" && req.CallbackURI != r.CallbackURI {
		return nil, deps.Errors.OAuthStateInvalid
	}
	return r, nil
}

// ResolveRequest links the provider identity of a completed exchange.
type ResolveRequest struct {
	Tenant        *tenant.Settings
	Authorization *store.OAuthAuthorizationRequest
	UserInfo      *oauth.UserInfo
}

// CallbackResult is where the browser goes next.
type CallbackResult struct {
	RedirectURL string
	PrincipalID string
	Created     bool
	Events      []events.Event
}

// RunResolveCallback resolves the principal, consumes the authorization
// request and mints a single-use exchange code appended to the app redirect.
// If the request was consumed concurrently everything is rolled back.
func RunResolveCallback(ctx context.Context, tx store.Tx, req ResolveRequest, deps Deps) (CallbackResult, error) {
	var out CallbackResult
	ar := req.Authorization

	p, created, evs, err := resolvePrincipal(ctx, tx, req.Tenant, ar.Provider, req.UserInfo, deps)
	if err != nil {
		return out, err
	}

	deleted, err := tx.DeleteAuthorizationRequest(ctx, ar.ID)
	if err != nil {
		return out, err
	}
	if !deleted {
		return out, Abort(deps.Errors.OAuthStateInvalid)
	}

	raw, err := deps.NewToken()
	if err != nil {
		return out, err
	}
	now := deps.Now()
	if err := tx.InsertExchangeCode(ctx, &store.OAuthExchangeCode{
		ID:          deps.NewID(),
		CodeHash:    deps.HashToken(raw),
		TenantID:    p.TenantID,
		PrincipalID: p.ID,
		Provider:    ar.Provider,
		ExpiresAt:   now.Add(deps.ExchangeCodeTTL),
		CreatedAt:   now,
	}); err != nil {
		return out, err
	}

	redirect, err := url.Parse(ar.AppRedirectURI)
	if err != nil {
		return out, Abort(deps.Errors.OAuthRedirectURIInvalid)
	}
	q := redirect.Query()
	q.Set(deps.ExchangeCodeParam, raw)
	redirect.RawQuery = q.Encode()

	out.RedirectURL = redirect.String()
	out.PrincipalID = p.ID
	out.Created = created
	out.Events = evs
	return out, nil
}

func resolvePrincipal(ctx context.Context, tx store.Tx, t *tenant.Settings, provider string, info *oauth.UserInfo, deps Deps) (*store.Principal, bool, []events.Event, error) {
	now := deps.Now()
	email := NormalizeEmail(info.Email)

	conn, err := tx.FindOAuthConnectionForUpdate(ctx, t.ID, provider, info.ProviderUserID)
	switch {
	case err == nil:
		p, err := tx.FindPrincipalByIDForUpdate(ctx, t.ID, conn.PrincipalID)
		if err != nil {
			return nil, false, nil, mapLookup(err, deps.Errors.PrincipalNotFound)
		}
		if email != "" && email != conn.Email {
			if err := tx.UpdateOAuthConnectionEmail(ctx, conn.ID, email, now); err != nil {
				return nil, false, nil, err
			}
			deps.logger().Debug("oauth connection email updated",
				zap.String("tenant_id", t.ID), zap.String("provider", provider), zap.String("principal_id", p.ID))
		}
		return p, false, nil, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, nil, err
	}

	if email == "" {
		return nil, false, nil, deps.Errors.OAuthEmailRequired
	}

	var evs []events.Event
	created := false
	p, err := tx.FindPrincipalByEmailForUpdate(ctx, t.ID, store.KindEndUser, email)
	switch {
	case err == nil:
		if !info.EmailVerified {
			return nil, false, nil, deps.Errors.OAuthEmailUnverifiedConflict
		}
		p.EmailVerified = true
		if p.Name == "" {
			p.Name = strings.TrimSpace(info.Name)
		}
		p.UpdatedAt = now
		if err := tx.UpdatePrincipal(ctx, p); err != nil {
			return nil, false, nil, err
		}
	case errors.Is(err, store.ErrNotFound):
		p = &store.Principal{
			ID:            deps.NewID(),
			TenantID:      t.ID,
			Kind:          store.KindEndUser,
			Email:         email,
			Name:          strings.TrimSpace(info.Name),
			EmailVerified: info.EmailVerified,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertPrincipal(ctx, p); err != nil {
			return nil, false, nil, conflictAbort(err, deps.Errors.OAuthLinkConflict)
		}
		created = true
		evs = append(evs, deps.event(events.TypeOAuthPrincipalCreated, t.ID, p.ID, "",
			map[string]string{"provider": provider}))
	default:
		return nil, false, nil, err
	}

	if err := tx.InsertOAuthConnection(ctx, &store.OAuthConnection{
		ID:             deps.NewID(),
		TenantID:       t.ID,
		Provider:       provider,
		ProviderUserID: info.ProviderUserID,
		PrincipalID:    p.ID,
		Email:          email,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return nil, false, nil, conflictAbort(err, deps.Errors.OAuthLinkConflict)
	}
	evs = append(evs, deps.event(events.TypeOAuthAccountLinked, t.ID, p.ID, "",
		map[string]string{"provider": provider}))
	return p, created, evs, nil
}

// ExchangeRequest redeems an exchange code for a session.
type ExchangeRequest struct {
	Tenant *tenant.Settings
	Code   string
	Client Client
}

// ExchangeResult is the pair issued for a redeemed code.
type ExchangeResult struct {
	PrincipalID string
	Provider    string
	Tokens      Tokens
	Events      []events.Event
}

// RunExchangeCode locks the code, checks it is live and owned by the calling
// tenant, marks it used and issues a session.
func RunExchangeCode(ctx context.Context, tx store.Tx, req ExchangeRequest, deps Deps) (ExchangeResult, error) {
	var out ExchangeResult
	if req.Code == "" {
		return out, deps.Errors.InvalidOAuthCode
	}
	c, err := tx.FindExchangeCodeByHashForUpdate(ctx, deps.HashToken(req.Code))
	if err != nil {
		return out, mapLookup(err, deps.Errors.InvalidOAuthCode)
	}
	now := deps.Now()
	if !c.UsedAt.IsZero() || !now.Before(c.ExpiresAt) || c.TenantID != req.Tenant.ID {
		return out, deps.Errors.InvalidOAuthCode
	}
	p, err := tx.FindPrincipalByIDForUpdate(ctx, c.TenantID, c.PrincipalID)
	if err != nil {
		return out, mapLookup(err, deps.Errors.InvalidOAuthCode)
	}
	if req.Tenant.RequireVerifiedEmailForOAuth && !p.EmailVerified {
		return out, deps.Errors.EmailNotVerified
	}

	marked, err := tx.MarkExchangeCodeUsed(ctx, c.ID, now)
	if err != nil {
		return out, err
	}
	if !marked {
		return out, Abort(deps.Errors.InvalidOAuthCode)
	}

	issued, err := RunIssue(ctx, tx, IssueRequest{
		Principal: p,
		Tenant:    req.Tenant,
		Client:    req.Client,
		Method:    MethodOAuth,
	}, deps)
	if err != nil {
		return out, err
	}
	out.PrincipalID = p.ID
	out.Provider = c.Provider
	out.Tokens = issued.Tokens
	out.Events = issued.Events
	return out, nil
}

// ResolveProvider returns the provider and the tenant's decrypted client
// registration, or the provider's not-configured error.
func ResolveProvider(t *tenant.Settings, name string, deps Deps) (oauth.Provider, oauth.Credentials, error) {
	notConfigured := deps.Errors.OAuthProviderNotConfigured(name)
	settings, ok := t.ProviderSettings(name)
	if !ok || !settings.Configured() {
		return nil, oauth.Credentials{}, notConfigured
	}
	provider, err := deps.Providers.Get(name)
	if err != nil {
		return nil, oauth.Credentials{}, notConfigured
	}
	creds := oauth.Credentials{
		ClientID:        settings.ClientID,
		ClientSecret:    settings.ClientSecret,
		DirectoryTenant: settings.DirectoryTenant,
	}
	if settings.ClientSecretEnc != "" {
		plain, err := deps.Cipher.Decrypt(settings.ClientSecretEnc)
		if err != nil {
			deps.logger().Error("oauth client secret unreadable",
				zap.String("tenant_id", t.ID), zap.String("provider", name), zap.Error(err))
			return nil, oauth.Credentials{}, notConfigured
		}
		creds.ClientSecret = string(plain)
	}
	return provider, creds, nil
}

// ValidateRedirectURI requires an absolute http(s) URI with a host and no
// fragment.
func ValidateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("redirect uri must be http or https")
	}
	if u.Host == "" {
		return errors.New("redirect uri must have a host")
	}
	if u.Fragment != "" || strings.Contains(raw, "#") {
		return errors.New("redirect uri must not have a fragment")
	}
	return nil
}
