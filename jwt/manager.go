package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Status is the outcome of validating an access token.
type Status int

const (
	StatusInvalid Status = iota
	StatusValid
	StatusExpired
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Config holds RS256 key material and validation parameters.
//
// PrivateKey and PublicKey are PEM encoded. PublicKey may be omitted when
// PrivateKey is set. VerifyKeys holds additional public keys by kid so tokens
// signed before a key rotation keep validating.
type Config struct {
	AccessTTL    time.Duration
	PrivateKey   []byte
	PublicKey    []byte
	Issuer       string
	Audience     string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	KeyID        string
	VerifyKeys   map[string][]byte
}

// Manager mints and validates RS256 access tokens.
type Manager struct {
	config     Config
	signKey    *rsa.PrivateKey
	verifyKey  *rsa.PublicKey
	verifyKeys map[string]*rsa.PublicKey
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	TenantID      string `json:"tid"`
	PrincipalID   string `json:"pid"`
	PrincipalKind string `json:"typ"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Role          string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewManager parses the key material and validates the configuration.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	m := &Manager{config: cfg, verifyKeys: map[string]*rsa.PublicKey{}}

	if len(cfg.PrivateKey) > 0 {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa private key: %w", err)
		}
		if key.N.BitLen() < 2048 {
			return nil, errors.New("rsa private key must be at least 2048 bits")
		}
		m.signKey = key
		m.verifyKey = &key.PublicKey
	}
	if len(cfg.PublicKey) > 0 {
		key, err := jwt.ParseRSAPublicKeyFromPEM(cfg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa public key: %w", err)
		}
		if m.signKey != nil && !m.signKey.PublicKey.Equal(key) {
			return nil, errors.New("public key does not match private key")
		}
		m.verifyKey = key
	}
	for kid, pemBytes := range cfg.VerifyKeys {
		if strings.TrimSpace(kid) == "" {
			return nil, errors.New("verify key map contains empty kid")
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid rsa verify key for kid %q: %w", kid, err)
		}
		m.verifyKeys[kid] = key
	}
	if m.verifyKey == nil && len(m.verifyKeys) == 0 {
		return nil, errors.New("rs256 requires a private key, public key or verify key set")
	}
	if cfg.KeyID != "" && m.verifyKey != nil {
		if existing, ok := m.verifyKeys[cfg.KeyID]; ok && !existing.Equal(m.verifyKey) {
			return nil, errors.New("KeyID maps to a different key in VerifyKeys")
		}
		m.verifyKeys[cfg.KeyID] = m.verifyKey
	}

	return m, nil
}

// AccessTTL returns the default lifetime used when Mint is called with ttl <= 0.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// Mint signs claims with the configured private key. Registered time claims,
// issuer and subject are set here; subject is the principal id.
func (m *Manager) Mint(claims AccessClaims, ttl time.Duration, now time.Time) (string, error) {
	if m.signKey == nil {
		return "", errors.New("manager has no signing key")
	}
	if ttl <= 0 {
		ttl = m.config.AccessTTL
	}

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.PrincipalID,
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	return token.SignedString(m.signKey)
}

// Validate checks signature, issuer and expiry. Revocation is not consulted.
func (m *Manager) Validate(tokenStr string) (*AccessClaims, Status, error) {
	claims, err := m.Parse(tokenStr)
	switch {
	case err == nil:
		return claims, StatusValid, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, StatusExpired, err
	default:
		return nil, StatusInvalid, err
	}
}

// Parse verifies tokenStr and returns its claims.
func (m *Manager) Parse(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, m.keyFunc)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(time.Now().Add(m.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	if claims.Subject == "" || claims.Subject != claims.PrincipalID || claims.TenantID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		if m.verifyKey == nil || m.config.KeyID != "" {
			return nil, errors.New("missing kid")
		}
		return m.verifyKey, nil
	}
	key, ok := m.verifyKeys[kid]
	if !ok {
		return nil, errors.New("unknown kid")
	}
	return key, nil
}
