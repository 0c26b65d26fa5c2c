package auctoritas

import (
	"errors"
	"strings"
	"time"

	"github.com/auctoritas/auctoritas/password"
)

// Config is the complete engine configuration.
//
// Config instances are intended to be configured during initialization and
// then treated as immutable. Zero-valued fields are not defaults: start from
// [DefaultConfig] and override what you need.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	Lockout           LockoutConfig
	MFA               MFAConfig
	OAuth             OAuthConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	OneTime           OneTimeConfig
	Throttle          ThrottleConfig
	Events            EventsConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds the RS256 key material and token lifetimes.
//
// PrivateKey and PublicKey are PEM encoded. VerifyKeys maps a key id to an
// additional PEM public key accepted during validation, so tokens signed
// before a key rotation keep validating until they expire.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	PrivateKey []byte
	PublicKey  []byte
	KeyID      string
	VerifyKeys map[string][]byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds the sessions a principal may hold. A tenant's
// max_sessions setting overrides MaxSessions.
type SessionConfig struct {
	MaxSessions int
	// DefaultMemberRole is the role given to organization members created
	// through sign-up.
	DefaultMemberRole string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id parameters and the default strength
// policy. A tenant's password settings replace Policy as a whole.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
	Policy         password.Policy
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the failed-login window kept on each principal row.
type LockoutConfig struct {
	MaxAttempts int
	Window      time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls TOTP parameters, login challenges and recovery codes.
type MFAConfig struct {
	Issuer             string
	Digits             int
	Period             int
	Algorithm          string
	Skew               int
	ChallengeTTL       time.Duration
	RecoveryCodeCount  int
	RecoveryCodeLength int
}

/*
====================================
OAUTH CONFIG
====================================
*/

// OAuthConfig controls the authorization-request and exchange-code lifetimes.
// ExchangeCodeParam names the query parameter carrying the exchange code on
// the app redirect.
type OAuthConfig struct {
	AuthorizationRequestTTL time.Duration
	ExchangeCodeTTL         time.Duration
	ExchangeCodeParam       string
}

/*
====================================
ONE-TIME CREDENTIALS
====================================
*/

// PasswordResetConfig controls reset credentials.
type PasswordResetConfig struct {
	TTL time.Duration
}

// EmailVerificationConfig controls verification credentials.
type EmailVerificationConfig struct {
	TTL time.Duration
}

// OneTimeConfig is shared by reset and verification credentials: the digit
// count of the numeric code, the per-principal issuance cap and the number of
// wrong codes that burns a credential.
type OneTimeConfig struct {
	CodeDigits      int
	ResendMax       int
	ResendWindow    time.Duration
	MaxCodeAttempts int
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// RateWindow allows at most Max requests per Period. A zero RateWindow
// disables that budget.
type RateWindow struct {
	Max    int
	Period time.Duration
}

// ThrottleConfig holds the Redis request budgets. The throttle is only
// active when the builder is given a Redis client.
type ThrottleConfig struct {
	RedisPrefix        string
	LoginPerIdentifier RateWindow
	LoginPerIP         RateWindow
	RefreshPerIP       RateWindow
	MFAPerChallenge    RateWindow
	RegisterPerIP      RateWindow
	IssuancePerIP      RateWindow

	// ConfirmPerIdentifier bounds numeric reset and verification code
	// attempts per email or principal.
	ConfirmPerIdentifier RateWindow
}

/*
====================================
EVENTS & METRICS
====================================
*/

// EventsConfig controls the post-commit event dispatcher.
type EventsConfig struct {
	BufferSize     int
	DropIfFull     bool
	PublishTimeout time.Duration
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Key material is empty and
// must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			Issuer:     "auctoritas",
			Leeway:     30 * time.Second,
		},
		Session: SessionConfig{
			MaxSessions:       5,
			DefaultMemberRole: "member",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
			Policy:         password.DefaultPolicy(),
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		MFA: MFAConfig{
			Issuer:             "auctoritas",
			Digits:             6,
			Period:             30,
			Algorithm:          "SHA1",
			Skew:               1,
			ChallengeTTL:       5 * time.Minute,
			RecoveryCodeCount:  10,
			RecoveryCodeLength: 10,
		},
		OAuth: OAuthConfig{
			AuthorizationRequestTTL: 10 * time.Minute,
			ExchangeCodeTTL:         60 * time.Second,
			ExchangeCodeParam:       "auctoritas_code",
		},
		PasswordReset: PasswordResetConfig{
			TTL: time.Hour,
		},
		EmailVerification: EmailVerificationConfig{
			TTL: 24 * time.Hour,
		},
		OneTime: OneTimeConfig{
			CodeDigits:      6,
			ResendMax:       3,
			ResendWindow:    time.Hour,
			MaxCodeAttempts: 5,
		},
		Throttle: ThrottleConfig{
			RedisPrefix:        "auct",
			LoginPerIdentifier: RateWindow{Max: 10, Period: 15 * time.Minute},
			LoginPerIP:         RateWindow{Max: 50, Period: 15 * time.Minute},
			RefreshPerIP:       RateWindow{Max: 120, Period: time.Minute},
			MFAPerChallenge:    RateWindow{Max: 5, Period: time.Minute},
			RegisterPerIP:      RateWindow{Max: 10, Period: time.Hour},
			IssuancePerIP:      RateWindow{Max: 20, Period: time.Hour},

			ConfirmPerIdentifier: RateWindow{Max: 10, Period: 15 * time.Minute},
		},
		Events: EventsConfig{
			BufferSize:     1024,
			DropIfFull:     true,
			PublishTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, pem := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(pem)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be greater than AccessTTL")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey is required")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" {
		return errors.New("JWT Issuer is required")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}

	// Session
	if c.Session.MaxSessions <= 0 {
		return errors.New("Session MaxSessions must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}
	if err := c.Password.Policy.Check(); err != nil {
		return err
	}

	// Lockout
	if c.Lockout.MaxAttempts <= 0 || c.Lockout.Window <= 0 {
		return errors.New("Lockout MaxAttempts and Window must be > 0")
	}

	// MFA
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		return errors.New("MFA Digits must be 6 or 8")
	}
	if c.MFA.Period <= 0 {
		return errors.New("MFA Period must be > 0")
	}
	if c.MFA.Skew < 0 || c.MFA.Skew > 2 {
		return errors.New("MFA Skew must be between 0 and 2")
	}
	if _, err := hmacFunc(c.MFA.Algorithm); err != nil {
		return errors.New("MFA Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.MFA.ChallengeTTL < 5*time.Minute || c.MFA.ChallengeTTL > 10*time.Minute {
		return errors.New("MFA ChallengeTTL must be between 5m and 10m")
	}
	if c.MFA.RecoveryCodeCount <= 0 || c.MFA.RecoveryCodeCount > 20 {
		return errors.New("MFA RecoveryCodeCount must be between 1 and 20")
	}
	if c.MFA.RecoveryCodeLength < 8 || c.MFA.RecoveryCodeLength > 32 {
		return errors.New("MFA RecoveryCodeLength must be between 8 and 32")
	}

	// OAuth
	if c.OAuth.AuthorizationRequestTTL <= 0 || c.OAuth.ExchangeCodeTTL <= 0 {
		return errors.New("OAuth TTLs must be > 0")
	}
	if c.OAuth.ExchangeCodeTTL > 5*time.Minute {
		return errors.New("OAuth ExchangeCodeTTL must be <= 5m")
	}
	if strings.TrimSpace(c.OAuth.ExchangeCodeParam) == "" {
		return errors.New("OAuth ExchangeCodeParam is required")
	}

	// One-time credentials
	if c.PasswordReset.TTL <= 0 || c.EmailVerification.TTL <= 0 {
		return errors.New("PasswordReset and EmailVerification TTL must be > 0")
	}
	if c.OneTime.CodeDigits < 6 || c.OneTime.CodeDigits > 10 {
		return errors.New("OneTime CodeDigits must be between 6 and 10")
	}
	if c.OneTime.ResendMax <= 0 || c.OneTime.ResendWindow <= 0 {
		return errors.New("OneTime ResendMax and ResendWindow must be > 0")
	}
	if c.OneTime.MaxCodeAttempts < 1 || c.OneTime.MaxCodeAttempts > 20 {
		return errors.New("OneTime MaxCodeAttempts must be between 1 and 20")
	}

	// Throttle
	for _, w := range []RateWindow{
		c.Throttle.LoginPerIdentifier,
		c.Throttle.LoginPerIP,
		c.Throttle.RefreshPerIP,
		c.Throttle.MFAPerChallenge,
		c.Throttle.RegisterPerIP,
		c.Throttle.IssuancePerIP,
		c.Throttle.ConfirmPerIdentifier,
	} {
		if w.Max < 0 || w.Period < 0 {
			return errors.New("Throttle windows must not be negative")
		}
	}

	// Events
	if c.Events.BufferSize <= 0 {
		return errors.New("Events BufferSize must be > 0")
	}

	return nil
}
