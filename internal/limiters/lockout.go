package limiters

import "time"

const (
	DefaultLockoutMaxAttempts = 5
	DefaultLockoutWindow      = 15 * time.Minute
)

// LockoutConfig is the sliding-window lockout policy applied to a principal.
type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
}

// LockoutState mirrors the lockout columns of a principal row. Zero times
// mean unset.
type LockoutState struct {
	Attempts    int
	WindowStart time.Time
	LockedUntil time.Time
}

// Lockout applies LockoutConfig to LockoutState. It holds no state of its
// own; the caller persists the returned state under a row lock.
type Lockout struct {
	config LockoutConfig
}

// NewLockout fills zero config fields with defaults (5 attempts / 15 min).
func NewLockout(cfg LockoutConfig) Lockout {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultLockoutMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultLockoutWindow
	}
	return Lockout{config: cfg}
}

// Config returns the effective configuration.
func (l Lockout) Config() LockoutConfig {
	return l.config
}

// Locked reports whether s is locked at now.
func (l Lockout) Locked(s LockoutState, now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// RecordFailure returns the state after one more failed attempt and whether
// that attempt tripped the lock. A window that is unset or older than the
// configured width restarts at one attempt.
func (l Lockout) RecordFailure(s LockoutState, now time.Time) (LockoutState, bool) {
	if s.WindowStart.IsZero() || now.Sub(s.WindowStart) > l.config.Window {
		s.WindowStart = now
		s.Attempts = 1
	} else {
		s.Attempts++
	}
	if s.Attempts >= l.config.MaxAttempts {
		s.LockedUntil = now.Add(l.config.Window)
		return s, true
	}
	return s, false
}

// RecordSuccess returns the cleared state.
func (l Lockout) RecordSuccess(LockoutState) LockoutState {
	return LockoutState{}
}
