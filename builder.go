package auctoritas

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/events"
	"github.com/auctoritas/auctoritas/internal"
	"github.com/auctoritas/auctoritas/internal/flows"
	"github.com/auctoritas/auctoritas/internal/limiters"
	"github.com/auctoritas/auctoritas/internal/rate"
	"github.com/auctoritas/auctoritas/jwt"
	"github.com/auctoritas/auctoritas/oauth"
	"github.com/auctoritas/auctoritas/password"
	"github.com/auctoritas/auctoritas/store"
	"github.com/auctoritas/auctoritas/tenant"
)

// ProviderRegistry resolves OAuth providers by name. *oauth.Registry
// implements it.
type ProviderRegistry interface {
	Get(name string) (oauth.Provider, error)
}

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config Config

	store     store.Store
	tenants   tenant.Directory
	redis     redis.UniversalClient
	logger    *zap.Logger
	publisher events.Publisher
	providers ProviderRegistry
	cipher    SecretCipher
	hasher    PasswordHasher
	totp      TOTPVerifier
	now       func() time.Time

	built bool
}

// New returns a Builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the transactional store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithTenantDirectory sets where tenant settings are resolved. Required.
func (b *Builder) WithTenantDirectory(d tenant.Directory) *Builder {
	b.tenants = d
	return b
}

// WithSecretCipher sets the cipher sealing TOTP seeds. Required.
func (b *Builder) WithSecretCipher(c SecretCipher) *Builder {
	b.cipher = c
	return b
}

// WithRedis enables the request throttle. Without it only the per-principal
// lockout and resend caps apply.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithEventPublisher enables post-commit event delivery.
func (b *Builder) WithEventPublisher(p events.Publisher) *Builder {
	b.publisher = p
	return b
}

// WithOAuthProviders replaces the default provider registry.
func (b *Builder) WithOAuthProviders(r ProviderRegistry) *Builder {
	b.providers = r
	return b
}

// WithPasswordHasher replaces the argon2id hasher built from Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithTOTPVerifier replaces the built-in RFC 6238 verifier.
func (b *Builder) WithTOTPVerifier(v TOTPVerifier) *Builder {
	b.totp = v
	return b
}

// WithClock overrides the time source. Access tokens are still validated
// against the wall clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the access-token validation histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.tenants == nil {
		return nil, errors.New("tenant directory required")
	}
	if b.cipher == nil {
		return nil, errors.New("secret cipher required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		tenants: b.tenants,
		logger:  logger,
		now:     now,
		metrics: NewMetrics(cfg.Metrics),
		totp:    newTOTPManager(cfg.MFA, now),
	}

	// -------- PASSWORD HASHER --------
	hasher := b.hasher
	if hasher == nil {
		ph, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
		hasher = ph
		if !cfg.Password.UpgradeOnLogin {
			hasher = noRehash{ph}
		}
	}

	// -------- ACCESS TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		PrivateKey: cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:  cloneBytes(cfg.JWT.PublicKey),
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		KeyID:      cfg.JWT.KeyID,
		VerifyKeys: cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	// -------- OAUTH PROVIDERS --------
	providers := b.providers
	if providers == nil {
		providers = oauth.NewRegistry(oauth.WithLogger(logger), oauth.WithClock(now))
	}

	// -------- THROTTLE & EVENTS --------
	engine.throttle = limiters.NewThrottle(rate.New(b.redis, cfg.Throttle.RedisPrefix), throttleConfig(cfg.Throttle))
	if b.publisher != nil {
		engine.dispatcher = events.NewDispatcher(events.DispatcherConfig{
			BufferSize:     cfg.Events.BufferSize,
			DropIfFull:     cfg.Events.DropIfFull,
			PublishTimeout: cfg.Events.PublishTimeout,
		}, b.publisher, logger)
	}

	var verifier TOTPVerifier = engine.totp
	if b.totp != nil {
		verifier = b.totp
	}

	engine.deps = flows.Deps{
		Now:   now,
		NewID: uuid.NewString,
		NewToken: func() (string, error) {
			return internal.NewOpaqueToken(internal.MinOpaqueTokenBytes)
		},
		NewOTP: func() (string, error) {
			return internal.NewOTP(cfg.OneTime.CodeDigits)
		},
		NewRecovery: func() (string, error) {
			return internal.NewRecoveryCode(cfg.MFA.RecoveryCodeLength)
		},
		HashToken:  internal.HashToken,
		Hasher:     hasher,
		Cipher:     b.cipher,
		TOTP:       engine.totp,
		VerifyTOTP: totpCounterFunc(verifier),
		MintAccess: engine.mintAccess,
		Providers:  providers,
		Logger:     logger,
		Errors:     flowErrors(),
		Resend: limiters.NewResend(limiters.ResendConfig{
			Max:    cfg.OneTime.ResendMax,
			Window: cfg.OneTime.ResendWindow,
		}),
		Lockout: limiters.LockoutConfig{
			MaxAttempts: cfg.Lockout.MaxAttempts,
			Window:      cfg.Lockout.Window,
		},
		Policy:        cfg.Password.Policy,
		MaxSessions:   cfg.Session.MaxSessions,
		RecoveryCodes: cfg.MFA.RecoveryCodeCount,

		MaxCodeAttempts: cfg.OneTime.MaxCodeAttempts,

		RefreshTTL:              cfg.JWT.RefreshTTL,
		MFAChallengeTTL:         cfg.MFA.ChallengeTTL,
		AuthorizationRequestTTL: cfg.OAuth.AuthorizationRequestTTL,
		ExchangeCodeTTL:         cfg.OAuth.ExchangeCodeTTL,
		ResetTTL:                cfg.PasswordReset.TTL,
		VerificationTTL:         cfg.EmailVerification.TTL,
		ExchangeCodeParam:       cfg.OAuth.ExchangeCodeParam,
	}

	b.built = true

	return engine, nil
}

func throttleConfig(c ThrottleConfig) limiters.ThrottleConfig {
	w := func(r RateWindow) rate.Window {
		return rate.Window{Max: r.Max, Period: r.Period}
	}
	return limiters.ThrottleConfig{
		LoginPerIdentifier: w(c.LoginPerIdentifier),
		LoginPerIP:         w(c.LoginPerIP),
		RefreshPerIP:       w(c.RefreshPerIP),
		MFAPerChallenge:    w(c.MFAPerChallenge),
		RegisterPerIP:      w(c.RegisterPerIP),
		IssuancePerIP:      w(c.IssuancePerIP),

		ConfirmPerIdentifier: w(c.ConfirmPerIdentifier),
	}
}

// totpCounterFunc reports -1 as the step of verifiers that cannot name it,
// which turns off replay protection for them.
func totpCounterFunc(v TOTPVerifier) func([]byte, string) (int64, bool) {
	if cv, ok := v.(TOTPCounterVerifier); ok {
		return cv.VerifyCounter
	}
	return func(secret []byte, code string) (int64, bool) {
		return -1, v.Verify(secret, code)
	}
}

// noRehash hides NeedsRehash so logins keep the stored hash.
type noRehash struct {
	a *password.Argon2
}

func (n noRehash) Hash(pw string) (string, error) { return n.a.Hash(pw) }

func (n noRehash) Verify(pw, encoded string) (bool, error) { return n.a.Verify(pw, encoded) }

func (n noRehash) VerifyDummy(pw string) { n.a.VerifyDummy(pw) }
