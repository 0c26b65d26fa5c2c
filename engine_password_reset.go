package auctoritas

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/store"
)

// RequestPasswordReset issues a reset credential for delivery. The result is
// nil with no error when the email is unknown, the resend cap is reached or
// the caller is throttled. Only the caller can tell these from an issued
// credential, so the transport must answer every request with the same
// generic message and deliver the credential out of band.
func (e *Engine) RequestPasswordReset(ctx context.Context, kind PrincipalKind, email string) (*OneTimeCredential, error) {
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
	if err := e.throttled("password_reset_request", e.throttle.Issuance(ctx, t.ID, clientIPFromContext(ctx))); err != nil {
		e.logger.Debug("password reset skipped", zap.String("tenant_id", t.ID), zap.String("reason", "throttled"))
		return nil, nil
	}

	var res flows.ResetIssue
	err = e.withinTx(ctx, "password_reset_request", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunRequestPasswordReset(ctx, tx, flows.ResetRequest{Tenant: t, Kind: kind, Email: email}, e.deps)
		return res.Events, err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricPasswordResetRequest)
	return oneTimeFrom(res.OneTimeIssue), nil
}

// ResetPassword sets a new password with a reset link token. Every session
// of the principal ends and its lockout window is cleared.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	return e.resetPassword(ctx, flows.ResetConfirm{Token: token, NewPassword: newPassword})
}

// ResetPasswordWithCode is [Engine.ResetPassword] with the numeric code sent
// alongside the link. Wrong codes count against the credential, which is
// burned after OneTime.MaxCodeAttempts misses; with Redis configured the
// attempts per email are also throttled.
func (e *Engine) ResetPasswordWithCode(ctx context.Context, kind PrincipalKind, email, code, newPassword string) error {
	kind, ok := kindOrDefault(kind)
	if !ok {
		return ErrInvalidResetToken
	}
	return e.resetPassword(ctx, flows.ResetConfirm{Kind: kind, Email: email, Code: code, NewPassword: newPassword})
}

func (e *Engine) resetPassword(ctx context.Context, req flows.ResetConfirm) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return err
	}
	req.Tenant = t
	if req.Email != "" {
		identifier := "reset:" + string(req.Kind) + ":" + flows.NormalizeEmail(req.Email)
		if err := e.throttled("password_reset", e.throttle.Confirm(ctx, t.ID, identifier)); err != nil {
			e.metrics.Inc(MetricPasswordResetFailure)
			return err
		}
	}
	err = e.withinTx(ctx, "password_reset", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		return flows.RunResetPassword(ctx, tx, req, e.deps)
	})
	if err != nil {
		e.metrics.Inc(MetricPasswordResetFailure)
		return err
	}
	e.metrics.Inc(MetricPasswordResetSuccess)
	return nil
}

// ChangePassword replaces the password of an authenticated principal. The
// new password must pass the policy and differ from recent ones. Every
// session of the principal ends, including the caller's.
func (e *Engine) ChangePassword(ctx context.Context, principalID, currentPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return err
	}
	err = e.withinTx(ctx, "password_change", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		return flows.RunChangePassword(ctx, tx, flows.ChangeRequest{
			Tenant:          t,
			PrincipalID:     principalID,
			CurrentPassword: currentPassword,
			NewPassword:     newPassword,
		}, e.deps)
	})
	if err != nil {
		e.metrics.Inc(MetricPasswordChangeFailure)
		if errors.Is(err, ErrInvalidCredentials) {
			e.logger.Info("password change rejected", zap.String("tenant_id", t.ID), zap.String("principal_id", principalID))
		}
		return err
	}
	e.metrics.Inc(MetricPasswordChangeSuccess)
	return nil
}
