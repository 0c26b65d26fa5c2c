package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/auctoritas/auctoritas/internal/rate"
)

var (
	// ErrThrottled is returned when any request budget is exhausted.
	ErrThrottled = errors.New("request throttled")
)

// ThrottleConfig holds the Redis request budgets placed in front of the
// credential flows. A zero window disables that budget.
type ThrottleConfig struct {
	LoginPerIdentifier rate.Window
	LoginPerIP         rate.Window
	RefreshPerIP       rate.Window
	MFAPerChallenge    rate.Window
	RegisterPerIP      rate.Window
	IssuancePerIP      rate.Window

	ConfirmPerIdentifier rate.Window
}

// DefaultThrottleConfig mirrors the login and second-factor budgets used in
// production deployments.
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		LoginPerIdentifier: rate.Window{Max: 10, Period: 15 * time.Minute},
		LoginPerIP:         rate.Window{Max: 50, Period: 15 * time.Minute},
		RefreshPerIP:       rate.Window{Max: 120, Period: time.Minute},
		MFAPerChallenge:    rate.Window{Max: 5, Period: time.Minute},
		RegisterPerIP:      rate.Window{Max: 10, Period: time.Hour},
		IssuancePerIP:      rate.Window{Max: 20, Period: time.Hour},

		ConfirmPerIdentifier: rate.Window{Max: 10, Period: 15 * time.Minute},
	}
}

// Throttle groups the per-flow budgets. A nil *Throttle allows everything.
type Throttle struct {
	limiter *rate.Limiter
	config  ThrottleConfig
}

// NewThrottle returns nil when limiter is nil.
func NewThrottle(limiter *rate.Limiter, cfg ThrottleConfig) *Throttle {
	if limiter == nil {
		return nil
	}
	return &Throttle{limiter: limiter, config: cfg}
}

// CheckLogin verifies the identifier and IP budgets without consuming them.
func (t *Throttle) CheckLogin(ctx context.Context, tenantID, identifier, ip string) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Check(ctx, t.limiter.Key("login", tenantID, identifier), t.config.LoginPerIdentifier); err != nil {
		return mapThrottle(err)
	}
	if ip != "" {
		if err := t.limiter.Check(ctx, t.limiter.Key("loginip", tenantID, ip), t.config.LoginPerIP); err != nil {
			return mapThrottle(err)
		}
	}
	return nil
}

// RecordLoginFailure consumes one unit of the identifier and IP budgets.
func (t *Throttle) RecordLoginFailure(ctx context.Context, tenantID, identifier, ip string) error {
	if t == nil {
		return nil
	}
	if err := t.limiter.Hit(ctx, t.limiter.Key("login", tenantID, identifier), t.config.LoginPerIdentifier); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		return err
	}
	if ip != "" {
		if err := t.limiter.Hit(ctx, t.limiter.Key("loginip", tenantID, ip), t.config.LoginPerIP); err != nil && !errors.Is(err, rate.ErrRateLimited) {
			return err
		}
	}
	return nil
}

// ResetLogin clears the identifier budget after a successful login.
func (t *Throttle) ResetLogin(ctx context.Context, tenantID, identifier string) error {
	if t == nil {
		return nil
	}
	return t.limiter.Reset(ctx, t.limiter.Key("login", tenantID, identifier))
}

// Refresh consumes one unit of the per-IP refresh budget.
func (t *Throttle) Refresh(ctx context.Context, tenantID, ip string) error {
	if t == nil || ip == "" {
		return nil
	}
	return mapThrottle(t.limiter.Hit(ctx, t.limiter.Key("refresh", tenantID, ip), t.config.RefreshPerIP))
}

// CheckMFA verifies the second-factor budget of one login challenge.
func (t *Throttle) CheckMFA(ctx context.Context, tenantID, challengeKey string) error {
	if t == nil {
		return nil
	}
	return mapThrottle(t.limiter.Check(ctx, t.limiter.Key("mfa", tenantID, challengeKey), t.config.MFAPerChallenge))
}

// RecordMFAFailure consumes one unit of the second-factor budget.
func (t *Throttle) RecordMFAFailure(ctx context.Context, tenantID, challengeKey string) error {
	if t == nil {
		return nil
	}
	err := t.limiter.Hit(ctx, t.limiter.Key("mfa", tenantID, challengeKey), t.config.MFAPerChallenge)
	if errors.Is(err, rate.ErrRateLimited) {
		return nil
	}
	return err
}

// ResetMFA clears the second-factor budget.
func (t *Throttle) ResetMFA(ctx context.Context, tenantID, challengeKey string) error {
	if t == nil {
		return nil
	}
	return t.limiter.Reset(ctx, t.limiter.Key("mfa", tenantID, challengeKey))
}

// Register consumes one unit of the per-IP sign-up budget.
func (t *Throttle) Register(ctx context.Context, tenantID, ip string) error {
	if t == nil || ip == "" {
		return nil
	}
	return mapThrottle(t.limiter.Hit(ctx, t.limiter.Key("register", tenantID, ip), t.config.RegisterPerIP))
}

// Issuance consumes one unit of the per-IP reset/verification request budget.
// Callers must not reveal a throttled result.
func (t *Throttle) Issuance(ctx context.Context, tenantID, ip string) error {
	if t == nil || ip == "" {
		return nil
	}
	return mapThrottle(t.limiter.Hit(ctx, t.limiter.Key("issue", tenantID, ip), t.config.IssuancePerIP))
}

// Confirm consumes one unit of the budget for numeric reset and verification
// codes entered against one identifier.
func (t *Throttle) Confirm(ctx context.Context, tenantID, identifier string) error {
	if t == nil || identifier == "" {
		return nil
	}
	return mapThrottle(t.limiter.Hit(ctx, t.limiter.Key("confirm", tenantID, identifier), t.config.ConfirmPerIdentifier))
}

func mapThrottle(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrThrottled
	}
	return err
}
