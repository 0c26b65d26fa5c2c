package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// MinOpaqueTokenBytes is the entropy floor of every opaque credential.
	MinOpaqueTokenBytes = 32

	// RecoveryCodeAlphabet omits look-alike characters (0/O, 1/I).
	RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewOpaqueToken returns n random bytes (at least MinOpaqueTokenBytes) encoded
// as unpadded base64url.
func NewOpaqueToken(n int) (string, error) {
	if n < MinOpaqueTokenBytes {
		n = MinOpaqueTokenBytes
	}
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken is the storage and lookup key of an opaque credential:
// SHA-256 in standard base64.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// NewOTP returns a numeric code of the given length.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	otp := b.String()
	if len(otp) != digits {
		return "", fmt.Errorf("invalid otp generation length")
	}
	return otp, nil
}

// NewRecoveryCode returns length characters from RecoveryCodeAlphabet, split
// in two groups by a hyphen for readability.
func NewRecoveryCode(length int) (string, error) {
	if length < 8 || length > 32 {
		return "", errors.New("invalid recovery code length")
	}
	max := big.NewInt(int64(len(RecoveryCodeAlphabet)))
	buf := make([]byte, 0, length+1)
	half := length / 2
	for i := 0; i < length; i++ {
		if i == half {
			buf = append(buf, '-')
		}
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf = append(buf, RecoveryCodeAlphabet[n.Int64()])
	}
	return string(buf), nil
}

// NormalizeRecoveryCode strips separators and whitespace and upper-cases the
// input so that "abcde-fghjk" and "ABCDEFGHJK" hash identically.
func NormalizeRecoveryCode(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if r == '-' || r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
