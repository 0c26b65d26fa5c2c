package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// LoginRequest is a password login attempt.
type LoginRequest struct {
	Tenant   *tenant.Settings
	Kind     store.PrincipalKind
	Email    string
	Password string
	Client   Client
}

// LoginResult is either an issued pair or an MFA challenge.
type LoginResult struct {
	PrincipalID string
	Tokens      *Tokens

	MFARequired        bool
	ChallengeToken     string
	ChallengeExpiresAt time.Time

	// MFASetupRequired is set when the tenant mandates MFA and the principal
	// has not enabled it yet. A session is still issued.
	MFASetupRequired bool

	Events []events.Event
}

// RunLogin verifies the password under the principal's row lock, maintains
// the failed-attempt window, and either issues a session or opens an MFA
// challenge. Unknown accounts cost one dummy hash verification.
func RunLogin(ctx context.Context, tx store.Tx, req LoginRequest, deps Deps) (LoginResult, error) {
	var out LoginResult
	email := NormalizeEmail(req.Email)
	tenantID := req.Tenant.ID

	p, err := tx.FindPrincipalByEmailForUpdate(ctx, tenantID, req.Kind, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			verifyDummy(deps.Hasher, req.Password)
			deps.logger().Debug("login for unknown principal", zap.String("tenant_id", tenantID))
		}
		return out, mapLookup(err, deps.Errors.InvalidCredentials)
	}
	out.PrincipalID = p.ID

	now := deps.Now()
	lockout := deps.lockoutFor(req.Tenant)
	if lockout.Locked(lockoutState(p), now) {
		return out, deps.Errors.AccountLocked
	}

	ok := false
	if p.HasPassword() {
		ok, err = deps.Hasher.Verify(req.Password, p.PasswordHash)
		if err != nil {
			deps.logger().Warn("stored password hash unreadable", zap.String("principal_id", p.ID), zap.Error(err))
			ok = false
		}
	} else {
		verifyDummy(deps.Hasher, req.Password)
	}

	if !ok {
		state, locked := lockout.RecordFailure(lockoutState(p), now)
		applyLockoutState(p, state)
		p.UpdatedAt = now
		if err := tx.UpdatePrincipal(ctx, p); err != nil {
			return out, err
		}
		if locked {
			out.Events = append(out.Events, deps.event(events.TypePrincipalLocked, tenantID, p.ID, "",
				map[string]string{"locked_until": state.LockedUntil.UTC().Format(time.RFC3339)}))
			return out, deps.Errors.AccountLocked
		}
		return out, deps.Errors.InvalidCredentials
	}

	applyLockoutState(p, lockout.RecordSuccess(lockoutState(p)))
	if rc, ok := deps.Hasher.(rehashChecker); ok {
		if stale, err := rc.NeedsRehash(p.PasswordHash); err == nil && stale {
			if upgraded, err := deps.Hasher.Hash(req.Password); err == nil {
				p.PasswordHash = upgraded
			} else {
				deps.logger().Warn("password rehash failed", zap.String("principal_id", p.ID), zap.Error(err))
			}
		}
	}
	p.UpdatedAt = now
	if err := tx.UpdatePrincipal(ctx, p); err != nil {
		return out, err
	}

	if req.Tenant.RequireVerifiedEmailForLogin && !p.EmailVerified {
		return out, deps.Errors.EmailNotVerified
	}

	mfa, err := tx.FindMFASecretForUpdate(ctx, p.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return out, err
	}
	if mfa != nil && mfa.State == store.MFAEnabled {
		token, expires, ev, err := openChallenge(ctx, tx, p, deps)
		if err != nil {
			return out, err
		}
		out.MFARequired = true
		out.ChallengeToken = token
		out.ChallengeExpiresAt = expires
		out.Events = append(out.Events, ev)
		return out, nil
	}

	issued, err := RunIssue(ctx, tx, IssueRequest{
		Principal: p,
		Tenant:    req.Tenant,
		Client:    req.Client,
		Method:    MethodPassword,
	}, deps)
	if err != nil {
		return out, err
	}
	out.Tokens = &issued.Tokens
	out.MFASetupRequired = req.Tenant.MFARequired
	out.Events = append(out.Events, issued.Events...)
	return out, nil
}

func openChallenge(ctx context.Context, tx store.Tx, p *store.Principal, deps Deps) (string, time.Time, events.Event, error) {
	raw, err := deps.NewToken()
	if err != nil {
		return "", time.Time{}, events.Event{}, err
	}
	now := deps.Now()
	c := &store.MFAChallenge{
		ID:          deps.NewID(),
		TokenHash:   deps.HashToken(raw),
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		ExpiresAt:   now.Add(deps.MFAChallengeTTL),
		CreatedAt:   now,
	}
	if err := tx.InsertMFAChallenge(ctx, c); err != nil {
		return "", time.Time{}, events.Event{}, err
	}
	return raw, c.ExpiresAt, deps.event(events.TypeMFAChallengeIssued, p.TenantID, p.ID, "", nil), nil
}

func verifyDummy(h PasswordHasher, password string) {
	if dv, ok := h.(dummyVerifier); ok {
		dv.VerifyDummy(password)
	}
}
