package auctoritas

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// CreateAuthorizationRequest starts an OAuth login for the tenant in ctx.
// appRedirectURI must be on the tenant's allow-list; the browser lands there
// with a single-use exchange code once the provider callback completes.
func (e *Engine) CreateAuthorizationRequest(ctx context.Context, provider, appRedirectURI, callbackURI string) (*AuthorizationResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return nil, err
	}

	var res flows.AuthorizationResult
	err = e.withinTx(ctx, "oauth_authorize", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunCreateAuthorizationRequest(ctx, tx, flows.AuthorizationRequest{
			Tenant:         t,
			Provider:       provider,
			AppRedirectURI: appRedirectURI,
			CallbackURI:    callbackURI,
		}, e.deps)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricOAuthAuthorizationCreated)
	return &AuthorizationResult{
		AuthorizationURL: res.AuthorizationURL,
		State:            res.State,
		ExpiresAt:        res.ExpiresAt,
	}, nil
}

// HandleCallback completes the provider leg of an OAuth login. The tenant
// is taken from the stored state, not from ctx.
//
// The state is validated in one transaction and the code exchanged with the
// provider outside any transaction. A second transaction links or creates
// the principal, consumes the state and mints the exchange code. If another
// callback consumed the state first, nothing of the second is kept.
func (e *Engine) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	res, err := e.handleCallback(ctx, req)
	if err != nil {
		e.metrics.Inc(MetricOAuthCallbackFailure)
		return nil, err
	}
	e.metrics.Inc(MetricOAuthCallbackSuccess)
	if res.Created {
		e.metrics.Inc(MetricOAuthPrincipalCreated)
	}
	return res, nil
}

func (e *Engine) handleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	var ar *store.OAuthAuthorizationRequest
	err := e.withinTx(ctx, "oauth_callback", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		ar, err = flows.RunLoadAuthorizationRequest(ctx, tx, flows.CallbackRequest{
			Provider:     req.Provider,
			State:        req.State,
			ProviderCode: req.Code,
			CallbackURI:  req.CallbackURI,
		}, e.deps)
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	t, err := e.tenantByID(ctx, ar.TenantID)
	if err != nil {
		return nil, err
	}
	provider, creds, err := flows.ResolveProvider(t, ar.Provider, e.deps)
	if err != nil {
		return nil, err
	}
	info, err := provider.Exchange(ctx, creds, ar.CallbackURI, req.Code, ar.CodeVerifier)
	if err != nil {
		e.metrics.Inc(MetricOAuthProviderFailure)
		e.logger.Warn("oauth provider exchange failed",
			zap.String("tenant_id", t.ID),
			zap.String("provider", ar.Provider),
			zap.Error(err),
		)
		return nil, ErrOAuthExchangeFailed
	}

	var res flows.CallbackResult
	err = e.withinTx(ctx, "oauth_callback", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunResolveCallback(ctx, tx, flows.ResolveRequest{
			Tenant:        t,
			Authorization: ar,
			UserInfo:      info,
		}, e.deps)
		return res.Events, err
	})
	if err != nil {
		return nil, err
	}
	return &CallbackResult{
		TenantID:    t.ID,
		PrincipalID: res.PrincipalID,
		Created:     res.Created,
		RedirectURL: res.RedirectURL,
	}, nil
}

// ExchangeCode redeems an exchange code for a session. The calling tenant is
// identified by its API key; a code minted for another tenant is rejected as
// ErrInvalidOAuthCode.
func (e *Engine) ExchangeCode(ctx context.Context, apiKey, code string) (*ExchangeResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenants.ByAPIKey(ctx, apiKey)
	if errors.Is(err, tenant.ErrNotFound) {
		return nil, ErrAPIKeyInvalid
	}
	if err != nil {
		return nil, err
	}

	var res flows.ExchangeResult
	err = e.withinTx(ctx, "oauth_exchange", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunExchangeCode(ctx, tx, flows.ExchangeRequest{
			Tenant: t,
			Code:   code,
			Client: e.client(ctx),
		}, e.deps)
		return res.Events, err
	})
	if err != nil {
		e.metrics.Inc(MetricOAuthExchangeFailure)
		return nil, err
	}
	e.metrics.Inc(MetricOAuthExchangeSuccess)
	e.metrics.Inc(MetricSessionCreated)
	return &ExchangeResult{
		PrincipalID: res.PrincipalID,
		Provider:    res.Provider,
		Tokens:      tokensFrom(res.Tokens),
	}, nil
}
