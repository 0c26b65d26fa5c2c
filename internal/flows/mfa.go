package flows

import (
	"context"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// MFASetup is returned once by RunSetupMFA. None of it is retrievable later.
type MFASetup struct {
	SecretBase32    string
	ProvisioningURI string
	RecoveryCodes   []string
	Events          []events.Event
}

// PrincipalRequest addresses an authenticated principal. Code is the TOTP
// code confirming the operation, when one is required.
type PrincipalRequest struct {
	TenantID    string
	PrincipalID string
	Code        string
}

// RunSetupMFA generates a TOTP seed and a fresh recovery-code set and leaves
// the enrollment pending verification. A disabled enrollment may be set up
// again; any other existing enrollment is rejected.
func RunSetupMFA(ctx context.Context, tx store.Tx, req PrincipalRequest, deps Deps) (MFASetup, error) {
	var out MFASetup
	p, err := tx.FindPrincipalByIDForUpdate(ctx, req.TenantID, req.PrincipalID)
	if err != nil {
		return out, mapLookup(err, deps.Errors.PrincipalNotFound)
	}
	existing, err := findMFASecret(ctx, tx, p.ID)
	if err != nil {
		return out, err
	}
	if existing != nil && existing.State != store.MFADisabled {
		return out, deps.Errors.MFAAlreadySetup
	}

	raw, encoded, err := deps.TOTP.GenerateSecret()
	if err != nil {
		return out, err
	}
	sealed, err := deps.Cipher.Encrypt(raw)
	if err != nil {
		return out, err
	}
	now := deps.Now()
	if err := tx.SaveMFASecret(ctx, &store.MFASecret{
		PrincipalID:     p.ID,
		TenantID:        p.TenantID,
		EncryptedSecret: sealed,
		State:           store.MFAPendingVerification,
		CreatedAt:       now,
	}); err != nil {
		return out, err
	}

	codes, err := replaceRecoveryCodes(ctx, tx, p.ID, deps)
	if err != nil {
		return out, err
	}

	out.SecretBase32 = encoded
	out.ProvisioningURI = deps.TOTP.ProvisionURI(encoded, p.Email)
	out.RecoveryCodes = codes
	out.Events = []events.Event{deps.event(events.TypeMFASetupStarted, p.TenantID, p.ID, "", nil)}
	return out, nil
}

// RunVerifyMFA confirms a pending enrollment with a TOTP code.
func RunVerifyMFA(ctx context.Context, tx store.Tx, req PrincipalRequest, deps Deps) ([]events.Event, error) {
	p, err := tx.FindPrincipalByIDForUpdate(ctx, req.TenantID, req.PrincipalID)
	if err != nil {
		return nil, mapLookup(err, deps.Errors.PrincipalNotFound)
	}
	sec, err := findMFASecret(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case sec == nil, sec.State == store.MFADisabled:
		return nil, deps.Errors.MFANotSetup
	case sec.State == store.MFAEnabled:
		return nil, deps.Errors.MFAAlreadyEnabled
	}

	if err := checkTOTP(ctx, tx, sec, req.Code, deps); err != nil {
		return nil, err
	}
	unused, err := tx.CountUnusedRecoveryCodes(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if unused == 0 {
		return nil, deps.Errors.RecoveryCodesMissing
	}

	sec.State = store.MFAEnabled
	sec.EnabledAt = deps.Now()
	if err := tx.SaveMFASecret(ctx, sec); err != nil {
		return nil, err
	}
	return []events.Event{deps.event(events.TypeMFAEnabled, p.TenantID, p.ID, "", nil)}, nil
}

// ChallengeRequest completes an MFA login challenge with either a TOTP code
// or a recovery code.
type ChallengeRequest struct {
	Tenant         *tenant.Settings
	ChallengeToken string
	Code           string
	Recovery       bool
	Client         Client
}

// ChallengeResult is the pair issued after a completed challenge.
type ChallengeResult struct {
	PrincipalID            string
	Tokens                 Tokens
	RemainingRecoveryCodes int
	Events                 []events.Event
}

// RunCompleteChallenge locks the challenge, checks the second factor, marks
// the challenge used and issues a session. A recovery code is consumed with a
// conditional update so one code satisfies at most one challenge.
func RunCompleteChallenge(ctx context.Context, tx store.Tx, req ChallengeRequest, deps Deps) (ChallengeResult, error) {
	var out ChallengeResult
	if req.ChallengeToken == "" {
		return out, deps.Errors.MFAChallengeNotFound
	}
	c, err := tx.FindMFAChallengeByHashForUpdate(ctx, deps.HashToken(req.ChallengeToken))
	if err != nil {
		return out, mapLookup(err, deps.Errors.MFAChallengeNotFound)
	}
	now := deps.Now()
	switch {
	case !c.UsedAt.IsZero():
		return out, deps.Errors.MFAChallengeAlreadyUsed
	case !now.Before(c.ExpiresAt):
		return out, deps.Errors.MFAChallengeExpired
	case c.TenantID != req.Tenant.ID:
		return out, deps.Errors.MFAChallengeInvalidProject
	}
	out.PrincipalID = c.PrincipalID

	p, err := tx.FindPrincipalByIDForUpdate(ctx, c.TenantID, c.PrincipalID)
	if err != nil {
		return out, mapLookup(err, deps.Errors.MFAChallengeNotFound)
	}
	sec, err := findMFASecret(ctx, tx, p.ID)
	if err != nil {
		return out, err
	}
	if sec == nil || sec.State != store.MFAEnabled {
		return out, deps.Errors.MFANotEnabled
	}

	method := MethodTOTP
	if req.Recovery {
		method = MethodRecoveryCode
		normalized := internal.NormalizeRecoveryCode(req.Code)
		if normalized == "" {
			return out, deps.Errors.RecoveryCodeInvalid
		}
		consumed, err := tx.ConsumeRecoveryCode(ctx, p.ID, deps.HashToken(normalized), now)
		if err != nil {
			return out, err
		}
		if !consumed {
			return out, deps.Errors.RecoveryCodeInvalid
		}
		remaining, err := tx.CountUnusedRecoveryCodes(ctx, p.ID)
		if err != nil {
			return out, err
		}
		out.RemainingRecoveryCodes = remaining
		out.Events = append(out.Events, deps.event(events.TypeRecoveryCodeUsed, p.TenantID, p.ID, "",
			map[string]string{"remaining": strconv.Itoa(remaining)}))
	} else if err := checkTOTP(ctx, tx, sec, req.Code, deps); err != nil {
		return out, err
	}

	marked, err := tx.MarkMFAChallengeUsed(ctx, c.ID, now)
	if err != nil {
		return out, err
	}
	if !marked {
		return out, Abort(deps.Errors.MFAChallengeAlreadyUsed)
	}

	issued, err := RunIssue(ctx, tx, IssueRequest{
		Principal: p,
		Tenant:    req.Tenant,
		Client:    req.Client,
		Method:    method,
	}, deps)
	if err != nil {
		return out, err
	}
	out.Tokens = issued.Tokens
	out.Events = append(out.Events, issued.Events...)
	return out, nil
}

// RunDisableMFA turns off an enabled enrollment after a TOTP check, deletes
// the recovery codes and ends every session of the principal.
func RunDisableMFA(ctx context.Context, tx store.Tx, req PrincipalRequest, deps Deps) ([]events.Event, error) {
	p, sec, err := enabledMFA(ctx, tx, req, deps)
	if err != nil {
		return nil, err
	}
	if err := checkTOTP(ctx, tx, sec, req.Code, deps); err != nil {
		return nil, err
	}

	sec.State = store.MFADisabled
	if err := tx.SaveMFASecret(ctx, sec); err != nil {
		return nil, err
	}
	if _, err := tx.DeleteRecoveryCodes(ctx, p.ID); err != nil {
		return nil, err
	}
	revoked, err := RunRevokeAll(ctx, tx, p.TenantID, p.ID, "mfa_disabled", deps)
	if err != nil {
		return nil, err
	}
	return []events.Event{
		deps.event(events.TypeMFADisabled, p.TenantID, p.ID, "", nil),
		revoked,
	}, nil
}

// RegeneratedCodes holds a replacement recovery-code set.
type RegeneratedCodes struct {
	RecoveryCodes []string
	Events        []events.Event
}

// RunRegenerateRecoveryCodes replaces the whole recovery-code set after a TOTP
// check and returns the new plaintext codes.
func RunRegenerateRecoveryCodes(ctx context.Context, tx store.Tx, req PrincipalRequest, deps Deps) (RegeneratedCodes, error) {
	var out RegeneratedCodes
	p, sec, err := enabledMFA(ctx, tx, req, deps)
	if err != nil {
		return out, err
	}
	if err := checkTOTP(ctx, tx, sec, req.Code, deps); err != nil {
		return out, err
	}
	codes, err := replaceRecoveryCodes(ctx, tx, p.ID, deps)
	if err != nil {
		return out, err
	}
	out.RecoveryCodes = codes
	out.Events = []events.Event{deps.event(events.TypeRecoveryCodesRegenerated, p.TenantID, p.ID, "",
		map[string]string{"count": strconv.Itoa(len(codes))})}
	return out, nil
}

func enabledMFA(ctx context.Context, tx store.Tx, req PrincipalRequest, deps Deps) (*store.Principal, *store.MFASecret, error) {
	p, err := tx.FindPrincipalByIDForUpdate(ctx, req.TenantID, req.PrincipalID)
	if err != nil {
		return nil, nil, mapLookup(err, deps.Errors.PrincipalNotFound)
	}
	sec, err := findMFASecret(ctx, tx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case sec == nil:
		return nil, nil, deps.Errors.MFANotSetup
	case sec.State != store.MFAEnabled:
		return nil, nil, deps.Errors.MFANotEnabled
	}
	return p, sec, nil
}

func findMFASecret(ctx context.Context, tx store.Tx, principalID string) (*store.MFASecret, error) {
	sec, err := tx.FindMFASecretForUpdate(ctx, principalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return sec, err
}

// checkTOTP verifies code against the locked secret row and records its time
// step. A step at or below the last accepted one is a replay. Verifiers that
// report a negative step are not replay-checked.
func checkTOTP(ctx context.Context, tx store.Tx, sec *store.MFASecret, code string, deps Deps) error {
	seed, err := deps.Cipher.Decrypt(sec.EncryptedSecret)
	if err != nil {
		deps.logger().Error("totp secret unreadable", zap.String("principal_id", sec.PrincipalID), zap.Error(err))
		return err
	}
	counter, ok := deps.VerifyTOTP(seed, code)
	if !ok {
		return deps.Errors.TOTPCodeInvalid
	}
	if counter < 0 {
		return nil
	}
	if counter <= sec.LastUsedCounter {
		deps.logger().Info("totp code replayed", zap.String("principal_id", sec.PrincipalID), zap.Int64("counter", counter))
		return deps.Errors.TOTPCodeInvalid
	}
	sec.LastUsedCounter = counter
	return tx.SaveMFASecret(ctx, sec)
}

func replaceRecoveryCodes(ctx context.Context, tx store.Tx, principalID string, deps Deps) ([]string, error) {
	n := deps.RecoveryCodes
	if n <= 0 {
		n = 10
	}
	now := deps.Now()
	plain := make([]string, 0, n)
	rows := make([]store.RecoveryCode, 0, n)
	for i := 0; i < n; i++ {
		code, err := deps.NewRecovery()
		if err != nil {
			return nil, err
		}
		plain = append(plain, code)
		rows = append(rows, store.RecoveryCode{
			ID:          deps.NewID(),
			PrincipalID: principalID,
			CodeHash:    deps.HashToken(internal.NormalizeRecoveryCode(code)),
			CreatedAt:   now,
		})
	}
	if err := tx.ReplaceRecoveryCodes(ctx, principalID, rows); err != nil {
		return nil, err
	}
	return plain, nil
}
