package secret

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) []byte {
	t.Helper()
	k, err := GenerateKey()
	require.NoError(t, err)
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("k1", map[string][]byte{"k1": mustKey(t)})
	require.NoError(t, err)

	env, err := c.Encrypt([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(env, "v1:k1:"))
	assert.NotContains(t, env, "JBSWY3DPEHPK3PXP")

	plain, err := c.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", string(plain))

	again, err := c.Encrypt([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)
	assert.NotEqual(t, env, again, "nonce must differ per encryption")
}

func TestDecryptAfterRotation(t *testing.T) {
	oldKey, newKey := mustKey(t), mustKey(t)
	old, err := New("old", map[string][]byte{"old": oldKey})
	require.NoError(t, err)
	env, err := old.Encrypt([]byte("seed"))
	require.NoError(t, err)

	rotated, err := New("new", map[string][]byte{"old": oldKey, "new": newKey})
	require.NoError(t, err)
	plain, err := rotated.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, "seed", string(plain))
	assert.True(t, rotated.NeedsRotation(env))

	fresh, err := rotated.Encrypt(plain)
	require.NoError(t, err)
	assert.False(t, rotated.NeedsRotation(fresh))
}

func TestDecryptRejectsTampering(t *testing.T) {
	c, err := New("k1", map[string][]byte{"k1": mustKey(t)})
	require.NoError(t, err)
	env, err := c.Encrypt([]byte("seed"))
	require.NoError(t, err)

	parts := strings.SplitN(env, ":", 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := parts[0] + ":" + parts[1] + ":" + base64.RawURLEncoding.EncodeToString(raw)

	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("v1:other:" + parts[2])
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = c.Decrypt("plain-text")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewValidatesKeys(t *testing.T) {
	_, err := New("k1", map[string][]byte{"k1": []byte("short")})
	assert.Error(t, err)

	_, err = New("missing", map[string][]byte{"k1": mustKey(t)})
	assert.Error(t, err)

	_, err = New("a:b", map[string][]byte{"a:b": mustKey(t)})
	assert.Error(t, err)
}

func TestNewFromBase64(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(mustKey(t))
	c, err := NewFromBase64("k1", []string{"k1=" + key})
	require.NoError(t, err)
	env, err := c.Encrypt([]byte("x"))
	require.NoError(t, err)
	_, err = c.Decrypt(env)
	require.NoError(t, err)

	_, err = NewFromBase64("k1", []string{"nokey"})
	assert.Error(t, err)
}
