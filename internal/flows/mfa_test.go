package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

func TestMFAEnrollmentStateMachine(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("totp@example.com", "Correct-horse-1", true)
	req := PrincipalRequest{TenantID: h.tenant.ID, PrincipalID: p.ID, Code: validTOTP}

	verify := func(code string) error {
		return h.run(func(ctx context.Context, tx store.Tx) error {
			_, err := RunVerifyMFA(ctx, tx, PrincipalRequest{TenantID: req.TenantID, PrincipalID: p.ID, Code: code}, h.deps)
			return err
		})
	}
	setup := func() (MFASetup, error) {
		var out MFASetup
		err := h.run(func(ctx context.Context, tx store.Tx) error {
			var err error
			out, err = RunSetupMFA(ctx, tx, req, h.deps)
			return err
		})
		return out, err
	}
	disable := func(code string) error {
		return h.run(func(ctx context.Context, tx store.Tx) error {
			_, err := RunDisableMFA(ctx, tx, PrincipalRequest{TenantID: req.TenantID, PrincipalID: p.ID, Code: code}, h.deps)
			return err
		})
	}

	if err := verify(validTOTP); !errors.Is(err, errMFANotSetup) {
		t.Fatalf("verify before setup: %v", err)
	}
	if err := disable(validTOTP); !errors.Is(err, errMFANotSetup) {
		t.Fatalf("disable before setup: %v", err)
	}

	s, err := setup()
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if len(s.RecoveryCodes) != 10 || s.SecretBase32 == "" || s.ProvisioningURI == "" {
		t.Fatalf("unexpected setup result: %+v", s)
	}
	if _, err := setup(); !errors.Is(err, errMFAAlreadySetup) {
		t.Fatalf("second setup: %v", err)
	}
	if err := disable(validTOTP); !errors.Is(err, errMFANotEnabled) {
		t.Fatalf("disable while pending: %v", err)
	}
	if err := verify("000000"); !errors.Is(err, errTOTPInvalid) {
		t.Fatalf("verify wrong code: %v", err)
	}
	if err := verify(validTOTP); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := verify(validTOTP); !errors.Is(err, errMFAAlreadyEnabled) {
		t.Fatalf("verify twice: %v", err)
	}
	if _, err := setup(); !errors.Is(err, errMFAAlreadySetup) {
		t.Fatalf("setup while enabled: %v", err)
	}

	session, err := h.login("totp@example.com", "Correct-horse-1")
	if err != nil || !session.MFARequired {
		t.Fatalf("expected challenge, got %+v %v", session, err)
	}
	if err := disable("000000"); !errors.Is(err, errTOTPInvalid) {
		t.Fatalf("disable wrong code: %v", err)
	}
	if err := disable(validTOTP); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := verify(validTOTP); !errors.Is(err, errMFANotSetup) {
		t.Fatalf("verify after disable: %v", err)
	}
	if _, err := setup(); err != nil {
		t.Fatalf("setup after disable: %v", err)
	}
}

func TestDisableMFARevokesSessions(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("dis@example.com", "Correct-horse-1", true)
	before, err := h.login("dis@example.com", "Correct-horse-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	h.enableMFA(p)

	var evs []events.Event
	err = h.run(func(ctx context.Context, tx store.Tx) error {
		var err error
		evs, err = RunDisableMFA(ctx, tx, PrincipalRequest{TenantID: h.tenant.ID, PrincipalID: p.ID, Code: validTOTP}, h.deps)
		return err
	})
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if countEvents(evs, events.TypeMFADisabled) != 1 || countEvents(evs, events.TypeSessionsRevoked) != 1 {
		t.Fatalf("unexpected events %+v", evs)
	}
	if _, err := h.refresh(before.Tokens.RefreshToken); !errors.Is(err, errRefreshRevoked) {
		t.Fatalf("expected session revoked, got %v", err)
	}
	res, err := h.login("dis@example.com", "Correct-horse-1")
	if err != nil || res.MFARequired {
		t.Fatalf("expected plain login, got %+v %v", res, err)
	}
}

func TestChallengeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("gate@example.com", "Correct-horse-1", true)
	h.enableMFA(p)

	res, err := h.login("gate@example.com", "Correct-horse-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.MFARequired || res.Tokens != nil || res.ChallengeToken == "" {
		t.Fatalf("expected challenge only, got %+v", res)
	}

	if _, err := h.complete(res.ChallengeToken, "111111", false); !errors.Is(err, errTOTPInvalid) {
		t.Fatalf("wrong code: %v", err)
	}
	done, err := h.complete(res.ChallengeToken, validTOTP, false)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Tokens.RefreshToken == "" || done.PrincipalID != p.ID {
		t.Fatalf("unexpected result: %+v", done)
	}
	if _, err := h.complete(res.ChallengeToken, validTOTP, false); !errors.Is(err, errChallengeUsed) {
		t.Fatalf("replay: %v", err)
	}
	if _, err := h.complete("unknown", validTOTP, false); !errors.Is(err, errChallengeNotFound) {
		t.Fatalf("unknown challenge: %v", err)
	}
}

func TestTOTPCodeRejectedOnReuse(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("replay@example.com", "Correct-horse-1", true)
	h.enableMFA(p)

	var step int64 = 1000
	h.deps.VerifyTOTP = func(_ []byte, code string) (int64, bool) {
		return step, code == validTOTP
	}

	first, _ := h.login("replay@example.com", "Correct-horse-1")
	second, _ := h.login("replay@example.com", "Correct-horse-1")
	if _, err := h.complete(first.ChallengeToken, validTOTP, false); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	if _, err := h.complete(second.ChallengeToken, validTOTP, false); !errors.Is(err, errTOTPInvalid) {
		t.Fatalf("expected replayed code rejected, got %v", err)
	}

	step = 999
	if _, err := h.complete(second.ChallengeToken, validTOTP, false); !errors.Is(err, errTOTPInvalid) {
		t.Fatalf("expected older step rejected, got %v", err)
	}

	step = 1001
	if _, err := h.complete(second.ChallengeToken, validTOTP, false); err != nil {
		t.Fatalf("next step: %v", err)
	}
	var sec *store.MFASecret
	_ = h.run(func(ctx context.Context, tx store.Tx) error {
		var err error
		sec, err = tx.FindMFASecretForUpdate(ctx, p.ID)
		return err
	})
	if sec == nil || sec.LastUsedCounter != 1001 {
		t.Fatalf("expected last step 1001, got %+v", sec)
	}
}

func TestTOTPWithoutStepSkipsReplayCheck(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("nostep@example.com", "Correct-horse-1", true)
	h.enableMFA(p)
	h.deps.VerifyTOTP = func(_ []byte, code string) (int64, bool) {
		return -1, code == validTOTP
	}

	for i := 0; i < 2; i++ {
		res, _ := h.login("nostep@example.com", "Correct-horse-1")
		if _, err := h.complete(res.ChallengeToken, validTOTP, false); err != nil {
			t.Fatalf("completion %d: %v", i, err)
		}
	}
}

func TestChallengeExpiresAndStaysInTenant(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("edge@example.com", "Correct-horse-1", true)
	h.enableMFA(p)

	res, _ := h.login("edge@example.com", "Correct-horse-1")
	err := h.run(func(ctx context.Context, tx store.Tx) error {
		_, err := RunCompleteChallenge(ctx, tx, ChallengeRequest{
			Tenant:         &tenant.Settings{ID: "tenant-b"},
			ChallengeToken: res.ChallengeToken,
			Code:           validTOTP,
		}, h.deps)
		return err
	})
	if !errors.Is(err, errChallengeProject) {
		t.Fatalf("expected invalid project, got %v", err)
	}

	h.clock.Advance(h.deps.MFAChallengeTTL)
	if _, err := h.complete(res.ChallengeToken, validTOTP, false); !errors.Is(err, errChallengeExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
}

func TestRecoveryCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("rc@example.com", "Correct-horse-1", true)
	setup := h.enableMFA(p)
	code := setup.RecoveryCodes[0]

	first, _ := h.login("rc@example.com", "Correct-horse-1")
	done, err := h.complete(first.ChallengeToken, code, true)
	if err != nil {
		t.Fatalf("recovery: %v", err)
	}
	if done.RemainingRecoveryCodes != 9 {
		t.Fatalf("expected 9 remaining, got %d", done.RemainingRecoveryCodes)
	}
	if countEvents(done.Events, events.TypeRecoveryCodeUsed) != 1 {
		t.Fatalf("expected recovery event, got %+v", done.Events)
	}

	h.clock.Advance(time.Second)
	second, _ := h.login("rc@example.com", "Correct-horse-1")
	if _, err := h.complete(second.ChallengeToken, code, true); !errors.Is(err, errRecoveryInvalid) {
		t.Fatalf("reused recovery code: %v", err)
	}
	if _, err := h.complete(second.ChallengeToken, setup.RecoveryCodes[1], true); err != nil {
		t.Fatalf("second code should still work: %v", err)
	}
}

func TestRegenerateRecoveryCodesReplacesSet(t *testing.T) {
	h := newHarness(t)
	p := h.addPrincipal("regen@example.com", "Correct-horse-1", true)
	setup := h.enableMFA(p)

	var regen RegeneratedCodes
	err := h.run(func(ctx context.Context, tx store.Tx) error {
		var err error
		regen, err = RunRegenerateRecoveryCodes(ctx, tx, PrincipalRequest{TenantID: h.tenant.ID, PrincipalID: p.ID, Code: validTOTP}, h.deps)
		return err
	})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(regen.RecoveryCodes) != 10 {
		t.Fatalf("expected 10 codes, got %d", len(regen.RecoveryCodes))
	}

	res, _ := h.login("regen@example.com", "Correct-horse-1")
	if _, err := h.complete(res.ChallengeToken, setup.RecoveryCodes[0], true); !errors.Is(err, errRecoveryInvalid) {
		t.Fatalf("old code should be gone: %v", err)
	}
	if _, err := h.complete(res.ChallengeToken, regen.RecoveryCodes[0], true); err != nil {
		t.Fatalf("new code: %v", err)
	}
}
