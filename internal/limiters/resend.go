package limiters

import (
	"context"
	"time"
)

const (
	DefaultResendMax    = 3
	DefaultResendWindow = time.Hour
)

// ResendConfig caps how many reset or verification tokens one principal may
// be issued within a trailing window.
type ResendConfig struct {
	Max    int
	Window time.Duration
}

// IssuedCounter counts tokens issued to a principal since a point in time.
type IssuedCounter func(ctx context.Context, since time.Time) (int, error)

// Resend enforces ResendConfig against the persisted issuance log.
type Resend struct {
	config ResendConfig
}

// NewResend fills zero config fields with defaults (3 per hour).
func NewResend(cfg ResendConfig) Resend {
	if cfg.Max <= 0 {
		cfg.Max = DefaultResendMax
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultResendWindow
	}
	return Resend{config: cfg}
}

// Allow reports whether another token may be issued at now.
func (r Resend) Allow(ctx context.Context, count IssuedCounter, now time.Time) (bool, error) {
	n, err := count(ctx, now.Add(-r.config.Window))
	if err != nil {
		return false, err
	}
	return n < r.config.Max, nil
}
