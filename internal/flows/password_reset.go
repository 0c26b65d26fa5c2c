package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// ResetRequest asks for a password reset credential by email.
type ResetRequest struct {
	Tenant *tenant.Settings
	Kind   store.PrincipalKind
	Email  string
}

// ResetIssue carries the credential to deliver, if any was issued.
type ResetIssue struct {
	OneTimeIssue
	Events []events.Event
}

// RunRequestPasswordReset issues a reset token and code when the account
// exists and the resend cap allows it. Both skip reasons return an empty
// result and no error.
func RunRequestPasswordReset(ctx context.Context, tx store.Tx, req ResetRequest, deps Deps) (ResetIssue, error) {
	var out ResetIssue
	p, err := tx.FindPrincipalByEmailForUpdate(ctx, req.Tenant.ID, req.Kind, NormalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		deps.logger().Debug("password reset skipped", zap.String("tenant_id", req.Tenant.ID), zap.String("reason", "unknown_email"))
		return out, nil
	}
	if err != nil {
		return out, err
	}

	ok, err := allowIssue(ctx, tx, store.PurposePasswordReset, p.ID, deps)
	if err != nil {
		return out, err
	}
	if !ok {
		deps.logger().Debug("password reset skipped",
			zap.String("tenant_id", p.TenantID), zap.String("principal_id", p.ID), zap.String("reason", "resend_cap"))
		return out, nil
	}

	issued, err := issueOneTime(ctx, tx, store.PurposePasswordReset, p, deps.ResetTTL, deps)
	if err != nil {
		return out, err
	}
	out.OneTimeIssue = issued
	out.Events = []events.Event{deps.event(events.TypePasswordResetRequested, p.TenantID, p.ID, "", nil)}
	return out, nil
}

// ResetConfirm sets a new password with a reset link token, or with the
// numeric code when Email is set.
type ResetConfirm struct {
	Tenant      *tenant.Settings
	Kind        store.PrincipalKind
	Token       string
	Email       string
	Code        string
	NewPassword string
}

// RunResetPassword consumes the reset credential, stores the new password,
// clears the lockout window and ends every session of the principal.
func RunResetPassword(ctx context.Context, tx store.Tx, req ResetConfirm, deps Deps) ([]events.Event, error) {
	errs := oneTimeErrors{
		invalid: deps.Errors.InvalidResetToken,
		used:    deps.Errors.ResetTokenUsed,
		expired: deps.Errors.ResetTokenExpired,
	}

	var (
		ot  *store.OneTimeToken
		p   *store.Principal
		err error
	)
	if req.Email != "" {
		p, err = tx.FindPrincipalByEmailForUpdate(ctx, req.Tenant.ID, req.Kind, NormalizeEmail(req.Email))
		if err != nil {
			return nil, mapLookup(err, errs.invalid)
		}
		if req.Code == "" {
			return nil, errs.invalid
		}
		ot, err = findByCode(ctx, tx, store.PurposePasswordReset, req.Tenant.ID, p.ID, req.Code, errs.invalid, deps)
		if err != nil {
			return nil, err
		}
	} else {
		if req.Token == "" {
			return nil, errs.invalid
		}
		ot, err = tx.FindOneTimeTokenByHashForUpdate(ctx, store.PurposePasswordReset, deps.HashToken(req.Token))
		if err != nil {
			return nil, mapLookup(err, errs.invalid)
		}
	}
	if err := checkOneTime(ot, req.Tenant.ID, errs, deps.Now()); err != nil {
		return nil, err
	}
	if p == nil {
		p, err = tx.FindPrincipalByIDForUpdate(ctx, ot.TenantID, ot.PrincipalID)
		if err != nil {
			return nil, mapLookup(err, errs.invalid)
		}
	}

	if err := checkNewPassword(ctx, tx, req.Tenant, p, req.NewPassword, deps); err != nil {
		return nil, err
	}
	if err := markOneTime(ctx, tx, ot, errs, deps); err != nil {
		return nil, err
	}
	if err := storePassword(ctx, tx, p, req.NewPassword, deps); err != nil {
		return nil, err
	}
	revoked, err := RunRevokeAll(ctx, tx, p.TenantID, p.ID, "password_reset", deps)
	if err != nil {
		return nil, err
	}
	return []events.Event{
		deps.event(events.TypePasswordChanged, p.TenantID, p.ID, "", map[string]string{"via": "reset"}),
		revoked,
	}, nil
}

// ChangeRequest replaces the password of an authenticated principal.
type ChangeRequest struct {
	Tenant          *tenant.Settings
	PrincipalID     string
	CurrentPassword string
	NewPassword     string
}

// RunChangePassword verifies the current password, applies the policy and
// ends every session of the principal.
func RunChangePassword(ctx context.Context, tx store.Tx, req ChangeRequest, deps Deps) ([]events.Event, error) {
	p, err := tx.FindPrincipalByIDForUpdate(ctx, req.Tenant.ID, req.PrincipalID)
	if err != nil {
		return nil, mapLookup(err, deps.Errors.PrincipalNotFound)
	}
	if !p.HasPassword() {
		verifyDummy(deps.Hasher, req.CurrentPassword)
		return nil, deps.Errors.InvalidCredentials
	}
	ok, err := deps.Hasher.Verify(req.CurrentPassword, p.PasswordHash)
	if err != nil || !ok {
		return nil, deps.Errors.InvalidCredentials
	}

	if err := checkNewPassword(ctx, tx, req.Tenant, p, req.NewPassword, deps); err != nil {
		return nil, err
	}
	if err := storePassword(ctx, tx, p, req.NewPassword, deps); err != nil {
		return nil, err
	}
	revoked, err := RunRevokeAll(ctx, tx, p.TenantID, p.ID, "password_changed", deps)
	if err != nil {
		return nil, err
	}
	return []events.Event{
		deps.event(events.TypePasswordChanged, p.TenantID, p.ID, "", map[string]string{"via": "change"}),
		revoked,
	}, nil
}
