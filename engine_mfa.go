package auctoritas

import (
	"context"
	"errors"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/store"
)

// SetupMFA starts TOTP enrollment. The seed and recovery codes are returned
// once; MFA is not enforced until [Engine.VerifyMFA] confirms a code.
func (e *Engine) SetupMFA(ctx context.Context, principalID string) (*MFASetup, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return nil, err
	}

	var res flows.MFASetup
	err = e.withinTx(ctx, "mfa_setup", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunSetupMFA(ctx, tx, flows.PrincipalRequest{TenantID: t.ID, PrincipalID: principalID}, e.deps)
		return res.Events, err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricMFASetup)
	return &MFASetup{
		SecretBase32:    res.SecretBase32,
		ProvisioningURI: res.ProvisioningURI,
		RecoveryCodes:   res.RecoveryCodes,
	}, nil
}

// VerifyMFA enables a pending enrollment.
func (e *Engine) VerifyMFA(ctx context.Context, principalID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return err
	}
	err = e.withinTx(ctx, "mfa_verify", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		return flows.RunVerifyMFA(ctx, tx, flows.PrincipalRequest{TenantID: t.ID, PrincipalID: principalID, Code: code}, e.deps)
	})
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricMFAEnabled)
	return nil
}

// CompleteMFAChallenge finishes a login with a TOTP code. A challenge is
// single use: a second completion returns ErrMFAChallengeAlreadyUsed.
func (e *Engine) CompleteMFAChallenge(ctx context.Context, challengeToken, code string) (*ChallengeResult, error) {
	return e.completeChallenge(ctx, challengeToken, code, false)
}

// CompleteMFAWithRecoveryCode finishes a login with a recovery code, which is
// consumed.
func (e *Engine) CompleteMFAWithRecoveryCode(ctx context.Context, challengeToken, recoveryCode string) (*ChallengeResult, error) {
	return e.completeChallenge(ctx, challengeToken, recoveryCode, true)
}

func (e *Engine) completeChallenge(ctx context.Context, challengeToken, code string, recovery bool) (*ChallengeResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return nil, err
	}
	key := internal.HashToken(challengeToken)
	if err := e.throttled("mfa_challenge", e.throttle.CheckMFA(ctx, t.ID, key)); err != nil {
		return nil, err
	}

	var res flows.ChallengeResult
	err = e.withinTx(ctx, "mfa_challenge", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunCompleteChallenge(ctx, tx, flows.ChallengeRequest{
			Tenant:         t,
			ChallengeToken: challengeToken,
			Code:           code,
			Recovery:       recovery,
			Client:         e.client(ctx),
		}, e.deps)
		return res.Events, err
	})
	if err != nil {
		e.metrics.Inc(MetricMFAChallengeFailure)
		if errors.Is(err, ErrTOTPCodeInvalid) || errors.Is(err, ErrRecoveryCodeInvalid) {
			e.record("mfa_challenge", e.throttle.RecordMFAFailure(ctx, t.ID, key))
		}
		return nil, err
	}
	e.record("mfa_challenge", e.throttle.ResetMFA(ctx, t.ID, key))

	e.metrics.Inc(MetricMFAChallengeSuccess)
	e.metrics.Inc(MetricSessionCreated)
	if recovery {
		e.metrics.Inc(MetricRecoveryCodeUsed)
	}
	return &ChallengeResult{
		PrincipalID:            res.PrincipalID,
		Tokens:                 tokensFrom(res.Tokens),
		RemainingRecoveryCodes: res.RemainingRecoveryCodes,
	}, nil
}

// DisableMFA turns MFA off after a valid TOTP code. Recovery codes are
// deleted; the sealed seed is kept in the disabled state.
func (e *Engine) DisableMFA(ctx context.Context, principalID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return err
	}
	err = e.withinTx(ctx, "mfa_disable", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		return flows.RunDisableMFA(ctx, tx, flows.PrincipalRequest{TenantID: t.ID, PrincipalID: principalID, Code: code}, e.deps)
	})
	if err != nil {
		return err
	}
	e.metrics.Inc(MetricMFADisabled)
	return nil
}

// RegenerateRecoveryCodes replaces every recovery code after a valid TOTP
// code and returns the new set once.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, principalID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	t, err := e.tenant(ctx)
	if err != nil {
		return nil, err
	}

	var res flows.RegeneratedCodes
	err = e.withinTx(ctx, "mfa_regenerate", func(ctx context.Context, tx store.Tx) ([]events.Event, error) {
		var err error
		res, err = flows.RunRegenerateRecoveryCodes(ctx, tx, flows.PrincipalRequest{TenantID: t.ID, PrincipalID: principalID, Code: code}, e.deps)
		return res.Events, err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricRecoveryCodesRegenerated)
	return res.RecoveryCodes, nil
}
