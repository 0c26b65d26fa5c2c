package auctoritas

import (
	"context"
	"errors"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/store"
)

// Register creates a password principal in the tenant of ctx and issues its
// email verification credential. Organization members always get
// Config.Session.DefaultMemberRole.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
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
	var role string
	if kind == PrincipalOrgMember {
		role = e.config.Session.DefaultMemberRole
	}
	if err := e.throttled("register", e.throttle.Register(ctx, t.ID, clientIPFromContext(ctx))); err != nil {
		return nil, err
	}

	var res flows.RegisterResult
	err = e.withinTx(ctx, "register", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunRegister(ctx, tx, flows.RegisterRequest{
			Tenant:   t,
			Kind:     kind,
			Role:     role,
			Email:    req.Email,
			Password: req.Password,
			Name:     req.Name,
			Client:   e.client(ctx),
		}, e.deps)
		return res.Events, err
	})
	if err != nil {
		if errors.Is(err, ErrEmailAlreadyRegistered) {
			e.metrics.Inc(MetricRegisterDuplicate)
		}
		return nil, err
	}

	e.metrics.Inc(MetricRegisterSuccess)
	out := &RegisterResult{
		PrincipalID:  res.PrincipalID,
		Verification: oneTimeFrom(res.Verification),
	}
	if res.Tokens != nil {
		out.Tokens = tokensFrom(*res.Tokens)
		e.metrics.Inc(MetricSessionCreated)
	}
	return out, nil
}
