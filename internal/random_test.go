package internal

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNewOpaqueTokenEntropyFloor(t *testing.T) {
	tok, err := NewOpaqueToken(8)
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		t.Fatalf("token is not unpadded base64url: %v", err)
	}
	if len(raw) != MinOpaqueTokenBytes {
		t.Fatalf("expected %d bytes, got %d", MinOpaqueTokenBytes, len(raw))
	}
	if strings.ContainsAny(tok, "=+/") {
		t.Fatalf("unexpected characters in %q", tok)
	}
}

func TestHashTokenIsStableStdBase64(t *testing.T) {
	a := HashToken("token")
	b := HashToken("token")
	if a != b {
		t.Fatalf("hash not deterministic")
	}
	raw, err := base64.StdEncoding.DecodeString(a)
	if err != nil || len(raw) != 32 {
		t.Fatalf("expected 32-byte std base64 digest, got %q (%v)", a, err)
	}
	if HashToken("other") == a {
		t.Fatalf("distinct tokens must hash differently")
	}
}

func TestRecoveryCodeShape(t *testing.T) {
	code, err := NewRecoveryCode(10)
	if err != nil {
		t.Fatalf("NewRecoveryCode: %v", err)
	}
	if len(code) != 11 || code[5] != '-' {
		t.Fatalf("unexpected code shape %q", code)
	}
	for _, r := range NormalizeRecoveryCode(code) {
		if !strings.ContainsRune(RecoveryCodeAlphabet, r) {
			t.Fatalf("character %q outside alphabet", r)
		}
	}
	if NormalizeRecoveryCode(strings.ToLower(code)) != NormalizeRecoveryCode(code) {
		t.Fatalf("normalization must be case-insensitive")
	}
}

func TestNewOTPDigits(t *testing.T) {
	if _, err := NewOTP(4); err == nil {
		t.Fatalf("expected error for short otp")
	}
	otp, err := NewOTP(6)
	if err != nil {
		t.Fatalf("NewOTP: %v", err)
	}
	if len(otp) != 6 {
		t.Fatalf("expected 6 digits, got %q", otp)
	}
}

func FuzzNormalizeRecoveryCode(f *testing.F) {
	f.Add("ABCDE-FGHJK")
	f.Add(" abcde fghjk ")
	f.Add("")
	f.Fuzz(func(t *testing.T, input string) {
		once := NormalizeRecoveryCode(input)
		if NormalizeRecoveryCode(once) != once {
			t.Fatalf("normalization not idempotent for %q", input)
		}
	})
}
