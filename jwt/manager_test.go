package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func rsaPEM(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public: %v", err)
	}
	pub := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return priv, pub
}

func newTestManager(t *testing.T, priv []byte, kid string) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		AccessTTL:  15 * time.Minute,
		PrivateKey: priv,
		Issuer:     "https://auth.example.test",
		KeyID:      kid,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func sampleClaims() AccessClaims {
	return AccessClaims{
		TenantID:      "tenant-1",
		PrincipalID:   "principal-1",
		PrincipalKind: "org_member",
		Email:         "ada@example.com",
		EmailVerified: true,
		Role:          "owner",
	}
}

func TestMintValidateRoundTrip(t *testing.T) {
	priv, _ := rsaPEM(t)
	m := newTestManager(t, priv, "k1")

	tok, err := m.Mint(sampleClaims(), 0, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	claims, status, err := m.Validate(tok)
	if err != nil || status != StatusValid {
		t.Fatalf("Validate: status=%v err=%v", status, err)
	}
	if claims.Subject != "principal-1" || claims.TenantID != "tenant-1" || claims.Role != "owner" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != "https://auth.example.test" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %v", got)
	}
}

func TestValidateReportsExpired(t *testing.T) {
	priv, _ := rsaPEM(t)
	m := newTestManager(t, priv, "k1")

	tok, err := m.Mint(sampleClaims(), time.Minute, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, status, _ := m.Validate(tok); status != StatusExpired {
		t.Fatalf("expected expired, got %v", status)
	}
}

func TestValidateRejectsForeignKey(t *testing.T) {
	privA, _ := rsaPEM(t)
	privB, _ := rsaPEM(t)
	a := newTestManager(t, privA, "k1")
	b := newTestManager(t, privB, "k1")

	tok, err := a.Mint(sampleClaims(), 0, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, status, _ := b.Validate(tok); status != StatusInvalid {
		t.Fatalf("expected invalid, got %v", status)
	}
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	priv, _ := rsaPEM(t)
	m := newTestManager(t, priv, "")

	claims := sampleClaims()
	claims.RegisteredClaims = gjwt.RegisteredClaims{
		Subject:   claims.PrincipalID,
		Issuer:    "https://auth.example.test",
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, status, _ := m.Validate(tok); status != StatusInvalid {
		t.Fatalf("expected invalid for HS256, got %v", status)
	}

	none, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, status, _ := m.Validate(none); status != StatusInvalid {
		t.Fatalf("expected invalid for alg=none, got %v", status)
	}
}

func TestRotatedKeyStillValidates(t *testing.T) {
	oldPriv, oldPub := rsaPEM(t)
	newPriv, _ := rsaPEM(t)

	old := newTestManager(t, oldPriv, "old")
	tok, err := old.Mint(sampleClaims(), 0, time.Now())
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}

	rotated, err := NewManager(Config{
		AccessTTL:  time.Minute,
		PrivateKey: newPriv,
		Issuer:     "https://auth.example.test",
		KeyID:      "new",
		VerifyKeys: map[string][]byte{"old": oldPub},
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, status, err := rotated.Validate(tok); status != StatusValid {
		t.Fatalf("expected old token to validate after rotation: %v", err)
	}
	if n := len(rotated.JWKS().Keys); n != 2 {
		t.Fatalf("expected 2 published keys, got %d", n)
	}
}

func TestJWKSMarshalsPublicKeysOnly(t *testing.T) {
	priv, _ := rsaPEM(t)
	m := newTestManager(t, priv, "k1")

	raw, err := json.Marshal(m.JWKS())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)
	for _, want := range []string{`"kid":"k1"`, `"alg":"RS256"`, `"use":"sig"`, `"kty":"RSA"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("jwks missing %s: %s", want, body)
		}
	}
	if strings.Contains(body, `"d":`) {
		t.Fatalf("jwks leaks private exponent: %s", body)
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	priv, _ := rsaPEM(t)
	_, otherPub := rsaPEM(t)

	cases := map[string]Config{
		"zero ttl":      {PrivateKey: priv, Issuer: "iss"},
		"no issuer":     {AccessTTL: time.Minute, PrivateKey: priv},
		"no keys":       {AccessTTL: time.Minute, Issuer: "iss"},
		"garbage key":   {AccessTTL: time.Minute, Issuer: "iss", PrivateKey: []byte("nope")},
		"mismatch pair": {AccessTTL: time.Minute, Issuer: "iss", PrivateKey: priv, PublicKey: otherPub},
		"big leeway":    {AccessTTL: time.Minute, Issuer: "iss", PrivateKey: priv, Leeway: time.Hour},
	}
	for name, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestVerifyOnlyManagerCannotMint(t *testing.T) {
	_, pub := rsaPEM(t)
	m, err := NewManager(Config{AccessTTL: time.Minute, PublicKey: pub, Issuer: "iss"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.Mint(sampleClaims(), 0, time.Now()); err == nil {
		t.Fatal("expected mint without private key to fail")
	}
}

func FuzzValidateNeverPanics(f *testing.F) {
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.e30.")
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		f.Fatalf("generate key: %v", err)
	}
	priv := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	m, err := NewManager(Config{AccessTTL: time.Minute, PrivateKey: priv, Issuer: "iss"})
	if err != nil {
		f.Fatalf("NewManager: %v", err)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		_, _, _ = m.Validate(raw)
	})
}
