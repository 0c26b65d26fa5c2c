package auctoritas

import (
	"context"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/store"
)

// ResendVerification reissues a verification credential. Like
// [Engine.RequestPasswordReset] it returns nil with no error whenever
// nothing was issued, and the transport must answer with the same generic
// message either way.
func (e *Engine) ResendVerification(ctx context.Context, kind PrincipalKind, email string) (*OneTimeCredential, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return nil, err
	}
	kind, ok := kindOrDefault(kind)
	if !ok {
		return nil, nil
	}
	if err := e.throttled("verification_request", e.throttle.Issuance(ctx, t.ID, clientIPFromContext(ctx))); err != nil {
		e.logger.Debug("verification skipped", zap.String("tenant_id", t.ID), zap.String("reason", "throttled"))
		return nil, nil
	}

	var res flows.VerificationIssue
	err = e.withinTx(ctx, "verification_request", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunResendVerification(ctx, tx, flows.ResetRequest{Tenant: t, Kind: kind, Email: email}, e.deps)
		return res.Events, err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricVerificationRequest)
	return oneTimeFrom(res.OneTimeIssue), nil
}

// VerifyEmail marks the address verified with a link token.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	return e.verifyEmail(ctx, flows.VerifyRequest{Token: token})
}

// VerifyEmailWithCode marks the address verified with the numeric code. Wrong
// codes count against the credential the same way as for password resets.
func (e *Engine) VerifyEmailWithCode(ctx context.Context, principalID, code string) error {
	return e.verifyEmail(ctx, flows.VerifyRequest{PrincipalID: principalID, Code: code})
}

func (e *Engine) verifyEmail(ctx context.Context, req flows.VerifyRequest) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return err
	}
	req.Tenant = t
	if req.PrincipalID != "" {
		if err := e.throttled("verification", e.throttle.Confirm(ctx, t.ID, "verify:"+req.PrincipalID)); err != nil {
			e.metrics.Inc(MetricVerificationFailure)
			return err
		}
	}
	err = e.withinTx(ctx, "verification", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		return flows.RunVerifyEmail(ctx, tx, req, e.deps)
	})
	if err != nil {
		e.metrics.Inc(MetricVerificationFailure)
		return err
	}
	e.metrics.Inc(MetricVerificationSuccess)
	return nil
}
