package flows

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/password"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// OneTimeIssue is a freshly issued reset or verification credential. Issued
// is false when nothing was issued; callers must answer identically.
type OneTimeIssue struct {
	Issued      bool
	PrincipalID string
	Email       string
	Token       string
	Code        string
	ExpiresAt   time.Time
}

// checkNewPassword applies the tenant's strength and reuse rules.
func checkNewPassword(ctx context.Context, tx store.Tx, t *tenant.Settings, p *store.Principal, candidate string, deps Deps) error {
	policy := deps.policyFor(t)
	if err := policy.Validate(candidate); err != nil {
		var pe *password.PolicyError
		if errors.As(err, &pe) {
			return fmt.Errorf("%w: %s", deps.Errors.PasswordPolicyFailed, strings.Join(pe.Failed, ","))
		}
		return deps.Errors.PasswordPolicyFailed
	}

	var history []string
	if policy.HistorySize > 0 {
		var err error
		history, err = tx.RecentPasswordHashes(ctx, p.ID, policy.HistorySize)
		if err != nil {
			return err
		}
	}
	if err := policy.CheckReuse(deps.Hasher, candidate, p.PasswordHash, history); err != nil {
		if errors.Is(err, password.ErrReused) {
			return deps.Errors.PasswordReuseNotAllowed
		}
		return err
	}
	return nil
}

// storePassword hashes candidate, moves the current hash into the history
// and clears the lockout window. The principal row is updated.
func storePassword(ctx context.Context, tx store.Tx, p *store.Principal, candidate string, deps Deps) error {
	hash, err := deps.Hasher.Hash(candidate)
	if err != nil {
		return err
	}
	now := deps.Now()
	if p.PasswordHash != "" {
		if err := tx.AppendPasswordHistory(ctx, store.PasswordHistoryEntry{
			PrincipalID:  p.ID,
			PasswordHash: p.PasswordHash,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
	}
	p.PasswordHash = hash
	p.FailedAttempts = 0
	p.FailedWindowStart = time.Time{}
	p.LockoutUntil = time.Time{}
	p.UpdatedAt = now
	return tx.UpdatePrincipal(ctx, p)
}

// issueOneTime invalidates the principal's unused tokens of purpose and
// issues a new link token with a numeric code.
func issueOneTime(ctx context.Context, tx store.Tx, purpose store.TokenPurpose, p *store.Principal, ttl time.Duration, deps Deps) (OneTimeIssue, error) {
	var out OneTimeIssue
	now := deps.Now()
	if _, err := tx.InvalidateOneTimeTokens(ctx, purpose, p.ID, now); err != nil {
		return out, err
	}
	token, err := deps.NewToken()
	if err != nil {
		return out, err
	}
	code, err := deps.NewOTP()
	if err != nil {
		return out, err
	}
	ot := &store.OneTimeToken{
		ID:          deps.NewID(),
		Purpose:     purpose,
		PrincipalID: p.ID,
		TenantID:    p.TenantID,
		TokenHash:   deps.HashToken(token),
		CodeHash:    deps.HashToken(code),
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
	if err := tx.InsertOneTimeToken(ctx, ot); err != nil {
		return out, err
	}
	return OneTimeIssue{
		Issued:      true,
		PrincipalID: p.ID,
		Email:       p.Email,
		Token:       token,
		Code:        code,
		ExpiresAt:   ot.ExpiresAt,
	}, nil
}

// allowIssue applies the resend cap to purpose.
func allowIssue(ctx context.Context, tx store.Tx, purpose store.TokenPurpose, principalID string, deps Deps) (bool, error) {
	return deps.Resend.Allow(ctx, func(ctx context.Context, since time.Time) (int, error) {
		return tx.CountOneTimeTokensSince(ctx, purpose, principalID, since)
	}, deps.Now())
}

type oneTimeErrors struct {
	invalid, used, expired error
}

// checkOneTime validates a locked token row without consuming it.
func checkOneTime(ot *store.OneTimeToken, tenantID string, errs oneTimeErrors, now time.Time) error {
	switch {
	case tenantID != "" && ot.TenantID != tenantID:
		return errs.invalid
	case !ot.UsedAt.IsZero():
		return errs.used
	case !now.Before(ot.ExpiresAt):
		return errs.expired
	}
	return nil
}

// findByCode locks the principal's newest token of the purpose and compares
// the numeric code. Each wrong code counts against the token, which is burned
// after deps.MaxCodeAttempts misses. Tokens of another tenant are not counted.
func findByCode(ctx context.Context, tx store.Tx, purpose store.TokenPurpose, tenantID, principalID, code string, invalid error, deps Deps) (*store.OneTimeToken, error) {
	ot, err := tx.FindLatestOneTimeTokenForUpdate(ctx, purpose, principalID)
	if err != nil {
		return nil, mapLookup(err, invalid)
	}
	if ot.TenantID != tenantID {
		return nil, invalid
	}
	if subtle.ConstantTimeCompare([]byte(ot.CodeHash), []byte(deps.HashToken(code))) == 1 {
		return ot, nil
	}
	limit := deps.maxCodeAttempts()
	attempts, err := tx.RecordOneTimeTokenMiss(ctx, ot.ID, limit, deps.Now())
	if err != nil {
		return nil, err
	}
	if attempts >= limit {
		deps.logger().Info("one-time code burned",
			zap.String("tenant_id", ot.TenantID), zap.String("principal_id", ot.PrincipalID),
			zap.String("purpose", string(purpose)), zap.Int("attempts", attempts))
	}
	return nil, invalid
}

// markOneTime consumes a checked token. Losing the conditional update rolls
// the whole operation back.
func markOneTime(ctx context.Context, tx store.Tx, ot *store.OneTimeToken, errs oneTimeErrors, deps Deps) error {
	marked, err := tx.MarkOneTimeTokenUsed(ctx, ot.ID, deps.Now())
	if err != nil {
		return err
	}
	if !marked {
		return Abort(errs.used)
	}
	return nil
}
