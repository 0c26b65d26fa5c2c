package tenant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
tenants:
  - id: acme
    name: Acme
    api_keys: ["pk_live_acme"]
    require_verified_email_for_login: true
    max_sessions: 3
    password:
      min_length: 12
      require_digit: true
    lockout:
      max_attempts: 3
      window_seconds: 600
    oauth:
      redirect_uris: ["https://app.acme.test/callback"]
      providers:
        google:
          enabled: true
          client_id: acme-google
          client_secret: shh
        github:
          enabled: false
          client_id: acme-gh
          client_secret: shh
  - id: globex
    api_key_hashes: ["precomputed"]
`

func TestParseIndexesTenants(t *testing.T) {
	d, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	ctx := context.Background()
	acme, err := d.ByAPIKey(ctx, "pk_live_acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", acme.ID)
	assert.Empty(t, acme.APIKeys, "raw keys must be dropped after hashing")
	assert.Len(t, acme.APIKeyHashes, 1)

	assert.True(t, acme.RequireVerifiedEmailForLogin)
	assert.Equal(t, 3, acme.MaxSessions)
	require.NotNil(t, acme.Password)
	assert.Equal(t, 12, acme.Password.MinLength)
	require.NotNil(t, acme.Lockout)
	assert.Equal(t, 600.0, acme.Lockout.Window().Seconds())

	assert.True(t, acme.AllowsRedirect("https://app.acme.test/callback"))
	assert.False(t, acme.AllowsRedirect("https://app.acme.test/callback/"))

	google, ok := acme.ProviderSettings("google")
	require.True(t, ok)
	assert.True(t, google.Configured())
	gh, _ := acme.ProviderSettings("github")
	assert.False(t, gh.Configured())

	_, err = d.ByAPIKey(ctx, "wrong")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = d.ByID(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseRejectsBadDocuments(t *testing.T) {
	_, err := Parse([]byte("tenants:\n  - id: a\n    unknown_field: 1\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("tenants:\n  - id: a\n  - id: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("tenants:\n  - id: a\n    api_keys: [k]\n  - id: b\n    api_keys: [k]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("tenants:\n  - id: a\n    password:\n      min_length: 4\n      max_length: 2\n"))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	d, err := LoadFile(path)
	require.NoError(t, err)
	_, err = d.ByID(context.Background(), "globex")
	assert.NoError(t, err)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
