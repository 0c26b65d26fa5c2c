package flows

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// VerificationIssue carries the verification credential to deliver, if any.
type VerificationIssue struct {
	OneTimeIssue
	Events []events.Event
}

// RunResendVerification reissues a verification token and code. Unknown,
// already verified and capped principals all produce an empty result.
func RunResendVerification(ctx context.Context, tx store.Tx, req ResetRequest, deps Deps) (VerificationIssue, error) {
	var out VerificationIssue
	p, err := tx.FindPrincipalByEmailForUpdate(ctx, req.Tenant.ID, req.Kind, NormalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		deps.logger().Debug("verification skipped", zap.String("tenant_id", req.Tenant.ID), zap.String("reason", "unknown_email"))
		return out, nil
	}
	if err != nil {
		return out, err
	}
	if p.EmailVerified {
		deps.logger().Debug("verification skipped",
			zap.String("tenant_id", p.TenantID), zap.String("principal_id", p.ID), zap.String("reason", "already_verified"))
		return out, nil
	}

	ok, err := allowIssue(ctx, tx, store.PurposeEmailVerification, p.ID, deps)
	if err != nil {
		return out, err
	}
	if !ok {
		deps.logger().Debug("verification skipped",
			zap.String("tenant_id", p.TenantID), zap.String("principal_id", p.ID), zap.String("reason", "resend_cap"))
		return out, nil
	}
	return issueVerification(ctx, tx, p, deps)
}

func issueVerification(ctx context.Context, tx store.Tx, p *store.Principal, deps Deps) (VerificationIssue, error) {
	issued, err := issueOneTime(ctx, tx, store.PurposeEmailVerification, p, deps.VerificationTTL, deps)
	if err != nil {
		return VerificationIssue{}, err
	}
	return VerificationIssue{
		OneTimeIssue: issued,
		Events:       []events.Event{deps.event(events.TypeVerificationRequested, p.TenantID, p.ID, "", nil)},
	}, nil
}

// VerifyRequest confirms an address with the link token, or with the numeric
// code when PrincipalID is set.
type VerifyRequest struct {
	Tenant      *tenant.Settings
	Token       string
	PrincipalID string
	Code        string
}

// RunVerifyEmail consumes the verification credential and marks the
// principal verified. Remaining unused verification tokens are invalidated.
func RunVerifyEmail(ctx context.Context, tx store.Tx, req VerifyRequest, deps Deps) ([]events.Event, error) {
	errs := oneTimeErrors{
		invalid: deps.Errors.InvalidVerificationToken,
		used:    deps.Errors.VerificationTokenUsed,
		expired: deps.Errors.VerificationTokenExpired,
	}

	var (
		ot  *store.OneTimeToken
		err error
	)
	if req.PrincipalID != "" {
		if req.Code == "" {
			return nil, deps.Errors.VerificationCodeInvalid
		}
		ot, err = findByCode(ctx, tx, store.PurposeEmailVerification, req.Tenant.ID, req.PrincipalID, req.Code, deps.Errors.VerificationCodeInvalid, deps)
		if err != nil {
			return nil, err
		}
	} else {
		if req.Token == "" {
			return nil, errs.invalid
		}
		ot, err = tx.FindOneTimeTokenByHashForUpdate(ctx, store.PurposeEmailVerification, deps.HashToken(req.Token))
		if err != nil {
			return nil, mapLookup(err, errs.invalid)
		}
	}
	if err := checkOneTime(ot, req.Tenant.ID, errs, deps.Now()); err != nil {
		return nil, err
	}
	p, err := tx.FindPrincipalByIDForUpdate(ctx, ot.TenantID, ot.PrincipalID)
	if err != nil {
		return nil, mapLookup(err, errs.invalid)
	}
	if err := markOneTime(ctx, tx, ot, errs, deps); err != nil {
		return nil, err
	}

	now := deps.Now()
	if _, err := tx.InvalidateOneTimeTokens(ctx, store.PurposeEmailVerification, p.ID, now); err != nil {
		return nil, err
	}
	if p.EmailVerified {
		return nil, nil
	}
	p.EmailVerified = true
	p.UpdatedAt = now
	if err := tx.UpdatePrincipal(ctx, p); err != nil {
		return nil, err
	}
	return []events.Event{deps.event(events.TypeEmailVerified, p.TenantID, p.ID, "", nil)}, nil
}
