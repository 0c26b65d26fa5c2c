package auctoritas

import (
	"encoding/base32"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestTOTPVerifyRFCVectorsSHA1(t *testing.T) {
	m := newTOTPManager(MFAConfig{
		Issuer:    "auctoritas",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      0,
	}, nil)
	secret := []byte("12345678901234567890")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA1 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA256(t *testing.T) {
	m := newTOTPManager(MFAConfig{
		Issuer:    "auctoritas",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA256",
		Skew:      0,
	}, nil)
	secret := []byte("12345678901234567890123456789012")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1111111111, "67062674"},
		{1234567890, "91819424"},
		{2000000000, "90698825"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA256 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA512(t *testing.T) {
	m := newTOTPManager(MFAConfig{
		Issuer:    "auctoritas",
		Digits:    8,
		Period:    30,
		Algorithm: "SHA512",
		Skew:      0,
	}, nil)
	secret := []byte("1234567890123456789012345678901234567890123456789012345678901234")
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "90693936"},
		{1111111109, "25091201"},
		{1111111111, "99943326"},
		{1234567890, "93441116"},
		{2000000000, "38618901"},
		{20000000000, "47863826"},
	}

	for _, tc := range cases {
		ok, _, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA512 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPDriftWindowAcceptsAdjacentStep(t *testing.T) {
	m := newTOTPManager(MFAConfig{
		Issuer:    "auctoritas",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	}, nil)
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)
	prevCounter := (now.Unix() / 30) - 1
	code, err := hotpCode(secret, prevCounter, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}

	ok, _, err := m.VerifyCode(secret, code, now)
	if err != nil || !ok {
		t.Fatalf("expected skew code accepted, ok=%v err=%v", ok, err)
	}
}

func TestTOTPWrongDigitsRejected(t *testing.T) {
	m := newTOTPManager(MFAConfig{
		Issuer:    "auctoritas",
		Digits:    6,
		Period:    30,
		Algorithm: "SHA1",
		Skew:      1,
	}, nil)
	secret := []byte("12345678901234567890")
	ok, _, err := m.VerifyCode(secret, "12345678", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected wrong-length code to be rejected")
	}
}

func TestTOTPVerifyUsesClock(t *testing.T) {
	now := time.Unix(1111111109, 0)
	m := newTOTPManager(MFAConfig{Digits: 8, Period: 30, Algorithm: "SHA1"}, func() time.Time { return now })
	secret := []byte("12345678901234567890")
	if !m.Verify(secret, "07081804") {
		t.Fatal("expected code valid at injected clock")
	}
	now = now.Add(2 * time.Minute)
	if m.Verify(secret, "07081804") {
		t.Fatal("expected code rejected after clock moved")
	}
}

func TestTOTPVerifyRejectsNonNumeric(t *testing.T) {
	m := newTOTPManager(MFAConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1}, nil)
	if m.Verify([]byte("12345678901234567890"), "12a456") {
		t.Fatal("expected non-numeric code rejected")
	}
}

func TestTOTPGenerateSecretAndProvisionURI(t *testing.T) {
	m := newTOTPManager(MFAConfig{Issuer: "Acme Co", Digits: 6, Period: 30, Algorithm: "sha1"}, nil)
	raw, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if len(raw) != totpSecretBytes {
		t.Fatalf("expected %d secret bytes, got %d", totpSecretBytes, len(raw))
	}
	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(encoded)
	if err != nil || string(decoded) != string(raw) {
		t.Fatalf("encoded secret does not round-trip: %v", err)
	}

	uri := m.ProvisionURI(encoded, "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Fatalf("unexpected uri %q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse uri: %v", err)
	}
	q := u.Query()
	if q.Get("secret") != encoded || q.Get("issuer") != "Acme Co" || q.Get("algorithm") != "SHA1" || q.Get("digits") != "6" {
		t.Fatalf("unexpected query %v", q)
	}
}
