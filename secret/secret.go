// Package secret encrypts small secrets at rest (TOTP seeds, provider client
// secrets) with XChaCha20-Poly1305.
//
// Ciphertexts are self-describing envelopes:
//
//	v1:<key id>:<base64url(nonce || sealed)>
//
// so a Cipher holding several keys can decrypt values written under any of
// them while encrypting only with the active one.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const envelopeVersion = "v1"

var (
	// ErrMalformed is returned for values that are not v1 envelopes.
	ErrMalformed = errors.New("secret: malformed envelope")
	// ErrUnknownKey is returned when the envelope names a key the Cipher lacks.
	ErrUnknownKey = errors.New("secret: unknown key id")
	// ErrDecrypt is returned when authentication fails.
	ErrDecrypt = errors.New("secret: decryption failed")
)

// Cipher encrypts and decrypts envelopes. It is safe for concurrent use.
type Cipher struct {
	active string
	keys   map[string][]byte
}

// New builds a Cipher. keys maps key ids to 32-byte keys; active must be one
// of them.
func New(active string, keys map[string][]byte) (*Cipher, error) {
	if active == "" || strings.Contains(active, ":") {
		return nil, errors.New("secret: invalid active key id")
	}
	c := &Cipher{active: active, keys: make(map[string][]byte, len(keys))}
	for id, key := range keys {
		if id == "" || strings.Contains(id, ":") {
			return nil, fmt.Errorf("secret: invalid key id %q", id)
		}
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("secret: key %q must be %d bytes", id, chacha20poly1305.KeySize)
		}
		c.keys[id] = append([]byte(nil), key...)
	}
	if _, ok := c.keys[active]; !ok {
		return nil, errors.New("secret: active key id not present")
	}
	return c, nil
}

// NewFromBase64 parses "id=base64key" pairs, the format used by environment
// configuration.
func NewFromBase64(active string, pairs []string) (*Cipher, error) {
	keys := make(map[string][]byte, len(pairs))
	for _, pair := range pairs {
		id, enc, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			return nil, fmt.Errorf("secret: key pair %q must be id=base64", id)
		}
		key, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("secret: key %q: %w", id, err)
		}
		keys[id] = key
	}
	return New(active, keys)
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext under the active key.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(c.keys[c.active])
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(c.active))
	return envelopeVersion + ":" + c.active + ":" + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt with any known key.
func (c *Cipher) Decrypt(envelope string) ([]byte, error) {
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 || parts[0] != envelopeVersion {
		return nil, ErrMalformed
	}
	key, ok := c.keys[parts[1]]
	if !ok {
		return nil, ErrUnknownKey
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], []byte(parts[1]))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// NeedsRotation reports whether envelope was sealed under a non-active key.
func (c *Cipher) NeedsRotation(envelope string) bool {
	parts := strings.SplitN(envelope, ":", 3)
	return len(parts) != 3 || parts[1] != c.active
}
